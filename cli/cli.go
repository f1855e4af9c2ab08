//go:build linux

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/errs"
	"github.com/Trinoooo/eggie_epoll/logs"
	"github.com/Trinoooo/eggie_epoll/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	flagHost = &cli.StringFlag{
		Name:    "host",
		Aliases: []string{"h"},
		Value:   "127.0.0.1",
		Usage:   "listen address, ipv4 only.",
		EnvVars: []string{consts.Host},
	}
	flagPort = &cli.Int64Flag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   8014,
		Usage:   "listen port, 0 < port < 65535 are available.",
		Action: func(c *cli.Context, port int64) error {
			if port <= 0 || port > 65535 {
				e := errs.NewInvalidParamErr()
				logs.Error(e.Error(), zap.String(consts.LogFieldParams, "port"), zap.Int64(consts.LogFieldValue, port))
				return e
			}
			return nil
		},
		EnvVars: []string{consts.Port},
	}
	flagConfig = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   consts.DefaultConfigPath,
		Usage:   "directory holding config.yaml.",
		EnvVars: []string{consts.Config},
	}
	flagMetricsAddr = &cli.StringFlag{
		Name:    "metrics-addr",
		Aliases: []string{"m"},
		Usage:   "serve prometheus metrics on this address, disabled when empty.",
		EnvVars: []string{consts.MetricsAddr},
	}
	flagHandOff = &cli.BoolFlag{
		Name:    "hand-off",
		Aliases: []string{"o"},
		Value:   false,
		Usage:   "accept on the server and serve clients from a separate listener.",
		EnvVars: []string{consts.HandOff},
	}
	flagQuitCommand = &cli.StringFlag{
		Name:    "quit-command",
		Aliases: []string{"q"},
		Usage:   "message that makes the server close the connection, overrides the config file.",
		Action: func(c *cli.Context, cmd string) error {
			if cmd == "" {
				e := errs.NewInvalidParamErr()
				logs.Error(e.Error(), zap.String(consts.LogFieldParams, "quit-command"))
				return e
			}
			return nil
		},
		EnvVars: []string{consts.QuitCommand},
	}
)

type Wrapper struct {
	app *cli.App
}

func NewWrapper() *Wrapper {
	wrapper := &Wrapper{
		app: &cli.App{
			Name:    "eggie_epoll",
			Usage:   "an echo server on top of an epoll event loop",
			Version: "0.0.1.240520_alpha",
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *Wrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *Wrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
	cli.AppHelpTemplate = consts.HelpTemplate
}

func (wrapper *Wrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagHost,
		flagPort,
		flagConfig,
		flagMetricsAddr,
		flagHandOff,
		flagQuitCommand,
	}
}

func (wrapper *Wrapper) withAction() {
	wrapper.app.Action = func(ctx *cli.Context) error {
		cfg, err := server.LoadConfig(ctx.String(flagConfig.Name))
		if err != nil {
			return err
		}
		if ctx.IsSet(flagQuitCommand.Name) {
			cfg.QuitCommand = ctx.String(flagQuitCommand.Name)
		}

		app, err := NewEchoApp(ctx.String(flagHost.Name), int(ctx.Int64(flagPort.Name)), cfg, ctx.Bool(flagHandOff.Name))
		if err != nil {
			return err
		}

		if addr := ctx.String(flagMetricsAddr.Name); addr != "" {
			srv := serveMetrics(addr, app.Metrics())
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		runCtx, cancel := context.WithCancel(ctx.Context)
		defer cancel()
		go func() {
			// 缓冲通道，信号在 select 之前到达也不会丢
			sig := make(chan os.Signal, 5)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sig)
			select {
			case <-sig:
				logs.Info("shutdown...")
				cancel()
			case <-runCtx.Done():
			}
		}()

		return app.Run(runCtx)
	}
}

func serveMetrics(addr string, mh *server.MetricsHelper) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mh.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Error("metrics server exit", zap.String(consts.LogFieldAddr, addr), zap.Error(err))
		}
	}()
	return srv
}

func (wrapper *Wrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}
