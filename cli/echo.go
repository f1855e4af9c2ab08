//go:build linux

package cli

import (
	"context"
	"net"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/logs"
	"github.com/Trinoooo/eggie_epoll/server"
	"github.com/Trinoooo/eggie_epoll/server/connections"
	perrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// EchoApp writes every message back to its sender. In hand-off mode the
// TcpServer only accepts and a ClientListener serves the sockets.
type EchoApp struct {
	handle  server.HandleFunc
	server  *server.TcpServer
	worker  *server.ClientListener
	metrics *server.MetricsHelper
	config  *server.Config
	logger  *zap.Logger
}

func NewEchoApp(host string, port int, cfg *server.Config, handOff bool) (*EchoApp, error) {
	if cfg == nil {
		cfg = server.DefaultConfig()
	}

	srv, err := server.NewTcpServer(host, port, nil, nil)
	if err != nil {
		return nil, err
	}
	if err = srv.SetConfig(cfg); err != nil {
		_ = srv.Close()
		return nil, err
	}

	app := &EchoApp{
		server:  srv,
		metrics: srv.Metrics(),
		config:  cfg,
		logger:  logs.With(consts.ComponentCli),
	}
	app.handle = server.Chain(app.echo, server.LogMw, server.QuitMw(cfg.QuitCommand))

	callbacks := server.ServerCallbacks{
		DataIn: func(s *server.TcpServer, c *connections.SocketHandle, data []byte) server.Result {
			return app.handle(c, data)
		},
		Disconnected: func(s *server.TcpServer, c *connections.SocketHandle) server.Result {
			app.logger.Debug("client gone", zap.Int(consts.LogFieldFd, c.Fd()))
			return server.Default
		},
	}

	if handOff {
		app.worker = server.NewClientListener(nil, nil)
		if err = app.worker.SetConfig(cfg); err != nil {
			_ = app.Close()
			return nil, err
		}
		app.worker.SetMetrics(app.metrics)
		app.worker.SetCallbacks(server.ListenerCallbacks{
			DataIn: func(l *server.ClientListener, c *connections.SocketHandle, data []byte) server.Result {
				return app.handle(c, data)
			},
		})
		callbacks.ClientConnected = func(s *server.TcpServer, c *connections.SocketHandle) server.Result {
			if err := app.worker.AddSocketHandle(c, true); err != nil {
				app.logger.Warn("hand off failed", zap.Int(consts.LogFieldFd, c.Fd()), zap.Error(err))
				return server.CloseClient
			}
			return server.Handled
		}
	}

	srv.SetCallbacks(callbacks)
	return app, nil
}

func (app *EchoApp) echo(c *connections.SocketHandle, data []byte) server.Result {
	if _, err := c.Write(data); err != nil {
		app.logger.Warn("echo failed", zap.Int(consts.LogFieldFd, c.Fd()), zap.Error(err))
		return server.CloseClient
	}
	return server.Default
}

// Start binds and runs the accept loop on a worker.
func (app *EchoApp) Start() error {
	if err := app.server.StartAsync(); err != nil {
		return err
	}
	if app.config.Metrics.PushURL != "" {
		app.metrics.StartPush(app.config.Metrics.PushURL, "eggie_epoll", app.config.Metrics.PushInterval)
	}
	return nil
}

// Run starts the app and blocks until ctx is cancelled or the server stops
// on its own.
func (app *EchoApp) Run(ctx context.Context) error {
	if err := app.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-app.server.Done():
		if err := app.server.Err(); err != nil {
			_ = app.Close()
			return err
		}
	}
	return app.Close()
}

func (app *EchoApp) Close() error {
	err := app.server.Close()
	if app.worker != nil {
		if werr := app.worker.Close(); werr != nil {
			if err == nil {
				return werr
			}
			err = perrors.Wrap(err, werr.Error())
		}
	}
	return err
}

func (app *EchoApp) Addr() net.Addr {
	return app.server.Addr()
}

func (app *EchoApp) Metrics() *server.MetricsHelper {
	return app.metrics
}
