//go:build linux

package server

import (
	"context"
	"time"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/errs"
	"github.com/Trinoooo/eggie_epoll/logs"
	"github.com/Trinoooo/eggie_epoll/server/connections"
	"go.uber.org/zap"
)

// ListenerCallbacks are invoked serially on the loop goroutine. Any of them
// may be nil.
type ListenerCallbacks struct {
	// DataReady replaces the default single read. It returns how many bytes
	// of *buf are valid and may point *buf at its own storage.
	DataReady    func(l *ClientListener, client *connections.SocketHandle, buf *[]byte) (int, Result)
	DataIn       func(l *ClientListener, client *connections.SocketHandle, data []byte) Result
	Disconnected func(l *ClientListener, client *connections.SocketHandle) Result
	// ListEmpty fires once each time the client list becomes empty.
	ListEmpty func(l *ClientListener) Result
}

// ClientListener multiplexes already-open sockets behind one epoll instance.
type ClientListener struct {
	*engine
	callbacks ListenerCallbacks
}

func NewClientListener(exData any, freeExData func(any)) *ClientListener {
	l := &ClientListener{}
	l.engine = newEngine(l, consts.ComponentClientListener, logs.With(consts.ComponentClientListener), exData, freeExData)
	l.hooks = hooks{
		dataIn: func(h *connections.SocketHandle, data []byte) Result {
			if l.callbacks.DataIn == nil {
				return Default
			}
			return l.callbacks.DataIn(l, h, data)
		},
		disconnected: func(h *connections.SocketHandle) Result {
			if l.callbacks.Disconnected == nil {
				return Default
			}
			return l.callbacks.Disconnected(l, h)
		},
		listEmpty: func() Result {
			if l.callbacks.ListEmpty == nil {
				return Default
			}
			return l.callbacks.ListEmpty(l)
		},
	}
	return l
}

// SetCallbacks must be called before the loop starts.
func (l *ClientListener) SetCallbacks(callbacks ListenerCallbacks) {
	l.callbacks = callbacks
	l.hooks.dataReady = nil
	if callbacks.DataReady != nil {
		l.hooks.dataReady = func(h *connections.SocketHandle, buf *[]byte) (int, Result) {
			return callbacks.DataReady(l, h, buf)
		}
	}
}

func (l *ClientListener) SetConfig(cfg *Config) error {
	return l.setConfig(cfg)
}

// SetWaitTimeout bounds each poller wait; negative waits until an event or
// a wake up.
func (l *ClientListener) SetWaitTimeout(timeout time.Duration) {
	l.setWaitTimeout(timeout)
}

// Add wraps fd in a handle and tracks it. If the loop is active the fd is
// registered right away. On error fd stays open and owned by the caller.
// runAsync starts the loop on a worker when it is not running yet.
func (l *ClientListener) Add(fd int, runAsync bool, userData any, freeUserData func(any)) (*connections.SocketHandle, error) {
	if fd < 0 {
		e := errs.NewInvalidParamErr()
		l.logger.Error(e.Error(), zap.String(consts.LogFieldParams, "fd"), zap.Int(consts.LogFieldValue, fd))
		return nil, e
	}

	h := connections.NewSocketHandle(fd, userData, freeUserData)
	if err := l.AddSocketHandle(h, runAsync); err != nil {
		return nil, err
	}
	return h, nil
}

// AddSocketHandle tracks an existing handle, e.g. one taken from another
// listener with Detach.
func (l *ClientListener) AddSocketHandle(h *connections.SocketHandle, runAsync bool) error {
	if h == nil {
		return errs.NewInvalidParamErr()
	}
	if err := l.add(h); err != nil {
		return err
	}
	if runAsync {
		return l.StartAsync()
	}
	return nil
}

// Remove releases the client owning fd: the fd is closed, the user data
// destructor runs, then Disconnected fires.
func (l *ClientListener) Remove(fd int) bool {
	return l.removeFd(fd)
}

func (l *ClientListener) RemoveHandle(h *connections.SocketHandle) bool {
	if h == nil {
		return false
	}
	return l.remove(h)
}

// Detach stops tracking h without closing it. Ownership of the fd goes back
// to the caller.
func (l *ClientListener) Detach(h *connections.SocketHandle) bool {
	return l.detach(h)
}

// Start runs the loop on the calling goroutine until it is stopped.
func (l *ClientListener) Start() error {
	return l.start(context.Background(), false)
}

// StartContext is Start bounded by ctx.
func (l *ClientListener) StartContext(ctx context.Context) error {
	return l.start(ctx, false)
}

// StartAsync runs the loop on a worker. It is a no-op while running.
func (l *ClientListener) StartAsync() error {
	return l.start(context.Background(), true)
}

// Stop requests the loop to exit and waits for it, unless a callback is in
// progress, in which case it only signals.
func (l *ClientListener) Stop() error {
	return l.stop()
}

// StopWhenEmpty blocks until every client is gone, then stops.
func (l *ClientListener) StopWhenEmpty() error {
	return l.stopWhenEmpty()
}

// Close stops the loop, releases every client and frees the extended data.
// The listener cannot be restarted afterwards.
func (l *ClientListener) Close() error {
	return l.close()
}

// IsListening reports whether a poller is active.
func (l *ClientListener) IsListening() bool {
	return l.active()
}

// Err returns the error the last loop run ended with.
func (l *ClientListener) Err() error {
	return l.err()
}

// Done is closed once the current run, including its teardown, is over.
func (l *ClientListener) Done() <-chan struct{} {
	return l.doneChan()
}

func (l *ClientListener) Flags() Flag {
	return l.flags.Load()
}

func (l *ClientListener) Clients() []*connections.SocketHandle {
	return l.clients.Snapshot()
}

func (l *ClientListener) Count() int {
	return l.clients.Count()
}

func (l *ClientListener) ExtendedData() any {
	return l.extendedData()
}

// SetExtendedData swaps the user value. When freeOld is set the previous
// value is passed to its own destructor.
func (l *ClientListener) SetExtendedData(data any, free func(any), freeOld bool) {
	l.setExtendedData(data, free, freeOld)
}

func (l *ClientListener) Metrics() *MetricsHelper {
	return l.metrics
}

// SetMetrics shares mh with other engines. Call it before the loop starts.
func (l *ClientListener) SetMetrics(mh *MetricsHelper) {
	if mh != nil {
		l.metrics = mh
	}
}
