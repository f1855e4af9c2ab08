//go:build linux

package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/errs"
	"github.com/Trinoooo/eggie_epoll/logs"
	"github.com/Trinoooo/eggie_epoll/server/connections"
	"github.com/Trinoooo/eggie_epoll/server/poller"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type ServerCallbacks struct {
	// ClientConnected runs for every accepted socket before it is
	// registered. Handled means the callback took ownership of the fd.
	ClientConnected func(s *TcpServer, client *connections.SocketHandle) Result
	DataReady       func(s *TcpServer, client *connections.SocketHandle, buf *[]byte) (int, Result)
	DataIn          func(s *TcpServer, client *connections.SocketHandle, data []byte) Result
	Disconnected    func(s *TcpServer, client *connections.SocketHandle) Result
	// ThreadReturning fires on the loop goroutine right before a run ends.
	ThreadReturning func(s *TcpServer)
}

// TcpServer is a ClientListener that also owns a listening socket and
// accepts from it inside the same loop.
type TcpServer struct {
	*engine
	callbacks ServerCallbacks

	host string
	port int

	sockMutex sync.Mutex
	listener  connections.IListener
}

// NewTcpServer does not bind; that happens on the first Start. An empty host
// binds every interface.
func NewTcpServer(host string, port int, exData any, freeExData func(any)) (*TcpServer, error) {
	logger := logs.With(consts.ComponentTcpServer)
	if port < 0 || port > 65535 {
		e := errs.NewInvalidParamErr()
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "port"), zap.Int(consts.LogFieldValue, port))
		return nil, e
	}
	if host != "" && net.ParseIP(host).To4() == nil {
		e := errs.NewInvalidParamErr()
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "host"), zap.String(consts.LogFieldValue, host))
		return nil, e
	}

	s := &TcpServer{host: host, port: port}
	s.engine = newEngine(s, consts.ComponentTcpServer, logger, exData, freeExData)
	s.hooks = hooks{
		prepare:   s.prepare,
		special:   s.acceptEvent,
		finish:    s.finish,
		afterStop: s.closeListener,
		dataIn: func(h *connections.SocketHandle, data []byte) Result {
			if s.callbacks.DataIn == nil {
				return Default
			}
			return s.callbacks.DataIn(s, h, data)
		},
		disconnected: func(h *connections.SocketHandle) Result {
			if s.callbacks.Disconnected == nil {
				return Default
			}
			return s.callbacks.Disconnected(s, h)
		},
	}
	return s, nil
}

// SetCallbacks must be called before the loop starts.
func (s *TcpServer) SetCallbacks(callbacks ServerCallbacks) {
	s.callbacks = callbacks
	s.hooks.dataReady = nil
	if callbacks.DataReady != nil {
		s.hooks.dataReady = func(h *connections.SocketHandle, buf *[]byte) (int, Result) {
			return callbacks.DataReady(s, h, buf)
		}
	}
}

func (s *TcpServer) SetConfig(cfg *Config) error {
	return s.setConfig(cfg)
}

func (s *TcpServer) SetWaitTimeout(timeout time.Duration) {
	s.setWaitTimeout(timeout)
}

// Listen binds and listens unless that already happened.
func (s *TcpServer) Listen() error {
	s.sockMutex.Lock()
	defer s.sockMutex.Unlock()
	return s.listenLocked()
}

func (s *TcpServer) listenLocked() error {
	if s.listener != nil {
		return nil
	}

	l, err := connections.Listen(s.host, s.port, s.config.Backlog)
	if err != nil {
		s.logger.Error(err.Error(), zap.String(consts.LogFieldParams, "port"), zap.Int(consts.LogFieldValue, s.port))
		return err
	}
	s.listener = l
	s.logger.Info("listening", zap.Stringer(consts.LogFieldAddr, l.Addr()))
	return nil
}

func (s *TcpServer) listenFd() int {
	s.sockMutex.Lock()
	defer s.sockMutex.Unlock()
	if s.listener == nil {
		return -1
	}
	return s.listener.RawFd()
}

func (s *TcpServer) prepare(ep *poller.EpollPack) error {
	s.sockMutex.Lock()
	defer s.sockMutex.Unlock()

	if err := s.listenLocked(); err != nil {
		return err
	}
	return ep.AddSock(poller.EventIn, s.listener.RawFd())
}

// acceptEvent claims events on the listening socket and accepts one
// connection per event.
func (s *TcpServer) acceptEvent(ev poller.Pevent) (bool, error) {
	if ev.Fd != s.listenFd() {
		return false, nil
	}
	if ev.Broken() {
		e := errs.NewErrnoErr().WithErr(errors.New("listening socket broken"))
		return true, e
	}

	s.sockMutex.Lock()
	listener := s.listener
	s.sockMutex.Unlock()
	if listener == nil {
		s.requestStop(Default)
		return true, nil
	}

	h, err := listener.Accept()
	if err != nil {
		switch {
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ECONNABORTED):
			return true, nil
		case errors.Is(err, unix.EBADF), errors.Is(err, unix.EINVAL):
			// closed by Stop
			s.requestStop(Default)
			return true, nil
		case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
			s.logger.Warn("accept hit the fd limit", zap.Error(err))
			return true, nil
		default:
			return true, errs.NewErrnoErr().WithErr(err)
		}
	}

	s.metrics.ConnectionAcceptCounter.WithLabelValues(s.component).Inc()
	s.logger.Debug("accept connection", zap.Int(consts.LogFieldFd, h.Fd()), zap.Stringer(consts.LogFieldAddr, h.RemoteAddr()))
	h.SetParent(s)

	if s.callbacks.ClientConnected != nil {
		r := s.call(func() Result {
			return s.callbacks.ClientConnected(s, h)
		})
		switch r.verdict() {
		case verdictStop:
			_ = h.Close()
			s.requestStop(r)
			return true, nil
		case verdictClose:
			_ = h.Close()
			return true, nil
		}
		if r.Skips() {
			// the callback may already have handed h to another owner
			if h.Parent() == any(s) {
				h.SetParent(nil)
			}
			return true, nil
		}
	}

	if err = s.add(h); err != nil {
		_ = h.Close()
	}
	return true, nil
}

// finish releases every client, closes the listening socket and reports
// the end of the run.
func (s *TcpServer) finish() {
	s.releaseAll()
	s.closeListener()
	if s.callbacks.ThreadReturning != nil {
		s.call(func() Result {
			s.callbacks.ThreadReturning(s)
			return Default
		})
	}
}

func (s *TcpServer) closeListener() {
	s.sockMutex.Lock()
	defer s.sockMutex.Unlock()
	if s.listener == nil {
		return
	}
	if err := s.listener.Close(); err != nil {
		s.logger.Warn("close listener failed", zap.Error(err))
	}
	s.listener = nil
}

// Start binds if needed and runs the loop on the calling goroutine.
func (s *TcpServer) Start() error {
	return s.start(context.Background(), false)
}

func (s *TcpServer) StartContext(ctx context.Context) error {
	return s.start(ctx, false)
}

func (s *TcpServer) StartAsync() error {
	return s.start(context.Background(), true)
}

// Stop ends the loop and always leaves the listening socket closed, even
// when the server was only bound and never started.
func (s *TcpServer) Stop() error {
	return s.stop()
}

func (s *TcpServer) StopWhenEmpty() error {
	return s.stopWhenEmpty()
}

func (s *TcpServer) Close() error {
	return s.close()
}

// Remove releases the client owning fd.
func (s *TcpServer) Remove(fd int) bool {
	return s.removeFd(fd)
}

func (s *TcpServer) RemoveHandle(h *connections.SocketHandle) bool {
	if h == nil {
		return false
	}
	return s.remove(h)
}

// IsRunning reports whether the listening socket is open.
func (s *TcpServer) IsRunning() bool {
	return s.listenFd() >= 0
}

// Addr is the bound address, nil before Listen.
func (s *TcpServer) Addr() net.Addr {
	s.sockMutex.Lock()
	defer s.sockMutex.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TcpServer) Err() error {
	return s.err()
}

// Done is closed once the current run, including its teardown, is over.
func (s *TcpServer) Done() <-chan struct{} {
	return s.doneChan()
}

func (s *TcpServer) Flags() Flag {
	return s.flags.Load()
}

func (s *TcpServer) Clients() []*connections.SocketHandle {
	return s.clients.Snapshot()
}

func (s *TcpServer) Count() int {
	return s.clients.Count()
}

func (s *TcpServer) ExtendedData() any {
	return s.extendedData()
}

// SetExtendedData swaps the user value. When freeOld is set the previous
// value is passed to its own destructor.
func (s *TcpServer) SetExtendedData(data any, free func(any), freeOld bool) {
	s.setExtendedData(data, free, freeOld)
}

func (s *TcpServer) Metrics() *MetricsHelper {
	return s.metrics
}

func (s *TcpServer) SetMetrics(mh *MetricsHelper) {
	if mh != nil {
		s.metrics = mh
	}
}
