//go:build linux

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/errs"
	"github.com/Trinoooo/eggie_epoll/server/connections"
	"github.com/Trinoooo/eggie_epoll/server/poller"
	"github.com/Trinoooo/eggie_epoll/utils"
	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/gopool"
	perrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// hooks bind the generic loop to the owning ClientListener or TcpServer.
// Every hook runs on the loop goroutine unless stated otherwise.
type hooks struct {
	// prepare runs on the starting goroutine before the loop, with the
	// fresh poller.
	prepare func(ep *poller.EpollPack) error
	// special claims events on fds that are not clients.
	special func(ev poller.Pevent) (claimed bool, err error)
	// finish runs after the loop, before the poller is closed.
	finish func()
	// afterStop runs on the stopping goroutine once the worker is joined,
	// or right away when there is nothing to join.
	afterStop func()

	dataReady    func(h *connections.SocketHandle, buf *[]byte) (int, Result)
	dataIn       func(h *connections.SocketHandle, data []byte) Result
	disconnected func(h *connections.SocketHandle) Result
	listEmpty    func() Result
}

type engine struct {
	owner     any
	component string
	logger    *zap.Logger
	config    *Config
	metrics   *MetricsHelper
	pool      gopool.Pool
	hooks     hooks

	flags   FlagPole
	clients *connections.ClientList

	// goroutines currently inside a callback, and the one running the loop
	callMu  sync.Mutex
	callers map[uint64]int
	loopGID atomic.Uint64

	// lifeMu serializes start, stop and close.
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// mutex guards the fields below together with poller registration.
	mutex         sync.Mutex
	ep            *poller.EpollPack
	loopCancel    context.CancelFunc
	lastErr       error
	pending       []*connections.SocketHandle
	deleteOnExit  bool
	emptyNotified bool
	waitTimeout   time.Duration
	exData        any
	freeExData    func(any)

	notify chan struct{}
}

func newEngine(owner any, component string, logger *zap.Logger, exData any, freeExData func(any)) *engine {
	cfg := DefaultConfig()
	e := &engine{
		owner:       owner,
		component:   component,
		logger:      logger,
		config:      cfg,
		metrics:     NewMetricsHelper(),
		clients:     connections.NewClientList(),
		callers:     make(map[uint64]int),
		waitTimeout: cfg.WaitTimeout,
		exData:      exData,
		freeExData:  freeExData,
		notify:      make(chan struct{}, 1),
	}
	e.pool = gopool.NewPool(component, int32(cfg.WorkerCapacity), gopool.NewConfig())
	e.pool.SetPanicHandler(utils.PanicHandler(logger))
	return e
}

func (e *engine) setConfig(cfg *Config) error {
	if cfg == nil {
		return errs.NewInvalidParamErr()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if e.reentrant() {
		return errs.NewInvalidParamErr().WithErr(errors.New("config is fixed while running"))
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.running() {
		return errs.NewInvalidParamErr().WithErr(errors.New("config is fixed while running"))
	}

	e.config = cfg
	e.pool.SetCap(int32(cfg.WorkerCapacity))
	utils.WrapLock(&e.mutex, func() {
		e.waitTimeout = cfg.WaitTimeout
	})
	return nil
}

func (e *engine) setWaitTimeout(timeout time.Duration) {
	utils.WrapLock(&e.mutex, func() {
		e.waitTimeout = timeout
	})
}

// running must be called with lifeMu held.
func (e *engine) running() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

func (e *engine) active() bool {
	return utils.WrapLockValue(&e.mutex, func() bool {
		return e.ep != nil
	})
}

// call runs a user callback with CallbackState raised and the calling
// goroutine marked as re-entrant.
func (e *engine) call(fn func() Result) Result {
	gid := utils.GoroutineID()
	utils.WrapLock(&e.callMu, func() {
		e.callers[gid]++
		e.flags.Raise(CallbackState)
	})
	defer utils.WrapLock(&e.callMu, func() {
		e.callers[gid]--
		if e.callers[gid] <= 0 {
			delete(e.callers, gid)
		}
		if len(e.callers) == 0 {
			e.flags.Lower(CallbackState)
		}
	})
	return fn()
}

// reentrant reports whether the caller is the loop goroutine or is inside a
// callback. Such callers must never wait for the loop to exit.
func (e *engine) reentrant() bool {
	gid := utils.GoroutineID()
	if e.loopGID.Load() == gid {
		return true
	}
	return utils.WrapLockValue(&e.callMu, func() bool {
		return e.callers[gid] > 0
	})
}

func (e *engine) wake() {
	utils.WrapLock(&e.mutex, func() {
		if e.ep != nil {
			if err := e.ep.Wake(); err != nil {
				e.logger.Warn("wake poller failed", zap.Error(err))
			}
		}
	})
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// add tracks h and registers it with the live poller, if any. On failure h
// is left untouched and not tracked.
func (e *engine) add(h *connections.SocketHandle) error {
	if e.flags.Has(ObjectBeingDeleted) {
		return errs.NewBeingDeletedErr()
	}

	err := utils.WrapLockValue(&e.mutex, func() error {
		if err := e.clients.Add(h); err != nil {
			return err
		}
		if e.ep == nil {
			return nil
		}
		if err := e.ep.AddSock(poller.EventIn, h.Fd()); err != nil {
			e.clients.Remove(h)
			return err
		}
		return nil
	})
	if err != nil {
		e.logger.Error(err.Error(), zap.Int(consts.LogFieldFd, h.Fd()))
		return err
	}

	h.SetParent(e.owner)
	e.metrics.ClientGauge.WithLabelValues(e.component).Set(float64(e.clients.Count()))
	e.wake()
	return nil
}

// remove detaches h and releases it. While a loop is active the
// disconnected callback is deferred to the loop goroutine.
func (e *engine) remove(h *connections.SocketHandle) bool {
	removed := utils.WrapLockValue(&e.mutex, func() bool {
		if !e.clients.Remove(h) {
			return false
		}
		if e.ep != nil {
			_ = e.ep.DelSock(h.Fd())
		}
		return true
	})
	if !removed {
		return false
	}
	e.release(h)
	return true
}

// removeFd is remove keyed by descriptor.
func (e *engine) removeFd(fd int) bool {
	h := utils.WrapLockValue(&e.mutex, func() *connections.SocketHandle {
		h := e.clients.RemoveByFd(fd)
		if h != nil && e.ep != nil {
			_ = e.ep.DelSock(fd)
		}
		return h
	})
	if h == nil {
		return false
	}
	e.release(h)
	return true
}

func (e *engine) release(h *connections.SocketHandle) {
	e.closeHandle(h)
	deferred := utils.WrapLockValue(&e.mutex, func() bool {
		if e.ep == nil {
			return false
		}
		e.pending = append(e.pending, h)
		return true
	})
	if deferred {
		e.wake()
	} else {
		e.fireDisconnected(h)
	}
}

// detach stops tracking h without closing it or firing callbacks.
func (e *engine) detach(h *connections.SocketHandle) bool {
	detached := utils.WrapLockValue(&e.mutex, func() bool {
		if !e.clients.Remove(h) {
			return false
		}
		if e.ep != nil {
			_ = e.ep.DelSock(h.Fd())
		}
		return true
	})
	if detached {
		h.SetParent(nil)
		e.metrics.ClientGauge.WithLabelValues(e.component).Set(float64(e.clients.Count()))
	}
	return detached
}

// removeOnLoop is remove for the loop goroutine itself.
func (e *engine) removeOnLoop(ep *poller.EpollPack, h *connections.SocketHandle) {
	if !e.clients.Remove(h) {
		return
	}
	_ = ep.DelSock(h.Fd())
	e.closeHandle(h)
	e.fireDisconnected(h)
}

func (e *engine) closeHandle(h *connections.SocketHandle) {
	if err := h.Close(); err != nil {
		e.logger.Warn("close client failed", zap.Int(consts.LogFieldFd, h.Fd()), zap.Error(err))
	}
	e.metrics.ClientRemoveCounter.WithLabelValues(e.component).Inc()
	e.metrics.ClientGauge.WithLabelValues(e.component).Set(float64(e.clients.Count()))
}

func (e *engine) fireDisconnected(h *connections.SocketHandle) {
	if e.hooks.disconnected == nil {
		return
	}
	r := e.call(func() Result {
		return e.hooks.disconnected(h)
	})
	if r.StopsServer() {
		e.requestStop(r)
	}
}

// releaseAll detaches, closes and reports every client.
func (e *engine) releaseAll() {
	for _, h := range e.clients.Clear() {
		e.closeHandle(h)
		e.fireDisconnected(h)
	}
}

// requestStop only signals; it never waits.
func (e *engine) requestStop(r Result) {
	if r.DeletesSelf() {
		utils.WrapLock(&e.mutex, func() {
			e.deleteOnExit = true
		})
	}
	e.flags.Raise(ThreadStopRequested)
	e.cancelLoop()
	e.wake()
}

// cancelLoop cancels the current run without taking lifeMu, so it is safe
// from callbacks.
func (e *engine) cancelLoop() {
	var cancel context.CancelFunc
	utils.WrapLock(&e.mutex, func() {
		cancel = e.loopCancel
	})
	if cancel != nil {
		cancel()
	}
}

func (e *engine) start(parent context.Context, async bool) error {
	if async && e.flags.Has(ThreadRunning) && !e.flags.Has(ThreadStopRequested) {
		return nil
	}
	if e.reentrant() {
		return errs.NewThreadErr().WithErr(errors.New("restart from a callback"))
	}

	e.lifeMu.Lock()
	if e.flags.Has(ObjectBeingDeleted) {
		e.lifeMu.Unlock()
		return errs.NewBeingDeletedErr()
	}

	if e.running() {
		if async && !e.flags.Has(ThreadStopRequested) {
			e.lifeMu.Unlock()
			return nil
		}
		e.stopLocked()
	} else if e.flags.Has(ThreadCreated) {
		<-e.done
		e.flags.Lower(ThreadCreated)
	}

	ep, err := e.activate()
	if err != nil {
		e.lifeMu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	e.cancel = cancel
	utils.WrapLock(&e.mutex, func() {
		e.done = done
		e.loopCancel, e.lastErr = cancel, nil
	})
	e.flags.Lower(ThreadStopRequested)
	e.flags.Raise(ThreadRunning)

	if async {
		e.flags.Raise(ThreadCreated)
		e.pool.Go(func() {
			_ = e.loop(ctx, ep, done)
		})
		e.lifeMu.Unlock()
		e.logger.Info("event loop started", zap.Bool("async", true))
		return nil
	}

	e.lifeMu.Unlock()
	e.logger.Info("event loop started", zap.Bool("async", false))
	return e.loop(ctx, ep, done)
}

// activate builds the poller and registers every current client.
func (e *engine) activate() (*poller.EpollPack, error) {
	ep, err := poller.NewEpollPack(e.config.EventCapacity, nil, nil)
	if err != nil {
		return nil, err
	}

	if e.hooks.prepare != nil {
		if err = e.hooks.prepare(ep); err != nil {
			if cerr := ep.Close(); cerr != nil {
				err = perrors.Wrap(err, cerr.Error())
			}
			return nil, err
		}
	}

	var stale []*connections.SocketHandle
	utils.WrapLock(&e.mutex, func() {
		for _, h := range e.clients.Snapshot() {
			if err := ep.AddSock(poller.EventIn, h.Fd()); err != nil {
				e.logger.Warn("register client failed, drop it", zap.Int(consts.LogFieldFd, h.Fd()), zap.Error(err))
				e.clients.Remove(h)
				stale = append(stale, h)
			}
		}
		e.ep = ep
		e.emptyNotified = false
	})

	for _, h := range stale {
		e.closeHandle(h)
		e.fireDisconnected(h)
	}
	return ep, nil
}

func (e *engine) loop(ctx context.Context, ep *poller.EpollPack, done chan struct{}) (err error) {
	e.loopGID.Store(utils.GoroutineID())
	buf := mcache.Malloc(e.config.ReadBufferSize)
	defer func() {
		if r := recover(); r != nil {
			err = errs.NewThreadErr().WithErr(fmt.Errorf("event loop panic: %v", r))
			e.logger.Error(err.Error(), zap.Stack("stack"))
		}
		mcache.Free(buf)
		e.teardown(ep)
		e.setErr(err)
		e.flags.Lower(ThreadRunning)
		e.loopGID.Store(0)
		close(done)
		e.logger.Info("event loop stopped", zap.Error(err))
	}()

	for {
		e.firePending()
		if ctx.Err() != nil || e.flags.Has(ThreadStopRequested) {
			return nil
		}

		if e.hooks.listEmpty != nil && e.clients.Count() == 0 {
			if stop := e.idle(ctx); stop {
				return nil
			}
			continue
		}
		utils.WrapLock(&e.mutex, func() {
			e.emptyNotified = false
		})

		timeout := utils.WrapLockValue(&e.mutex, func() time.Duration {
			return e.waitTimeout
		})
		batch, err := ep.Wait(timeout)
		if err != nil {
			e.logger.Error(err.Error())
			return err
		}
		if len(batch) == 0 {
			if err = e.clients.Verify(); err != nil {
				e.logger.Error(err.Error(), zap.Int(consts.LogFieldCount, e.clients.Count()))
				return err
			}
		}

		for _, ev := range batch {
			e.metrics.EventCounter.WithLabelValues(e.component).Inc()
			if err = e.dispatch(ep, ev, buf); err != nil {
				e.logger.Error(err.Error(), zap.Int(consts.LogFieldFd, ev.Fd))
				return err
			}
			if e.flags.Has(ThreadStopRequested) {
				return nil
			}
		}
	}
}

// idle reports list_empty once per transition into the empty state and then
// blocks until a client shows up or the run is cancelled.
func (e *engine) idle(ctx context.Context) bool {
	notified := utils.WrapLockValue(&e.mutex, func() bool {
		n := e.emptyNotified
		e.emptyNotified = true
		return n
	})
	if !notified {
		r := e.call(e.hooks.listEmpty)
		if r.StopsServer() {
			e.requestStop(r)
			return true
		}
	}

	if e.clients.Count() > 0 {
		return false
	}
	select {
	case <-ctx.Done():
		return true
	case <-e.notify:
		return false
	}
}

func (e *engine) dispatch(ep *poller.EpollPack, ev poller.Pevent, buf []byte) error {
	if e.hooks.special != nil {
		claimed, err := e.hooks.special(ev)
		if claimed || err != nil {
			return err
		}
	}

	h := e.clients.FindByFd(ev.Fd)
	if h == nil {
		e.dropStray(ep, ev.Fd)
		return nil
	}

	if ev.Broken() || !ev.Readable() {
		e.logger.Debug("client hangup", zap.Int(consts.LogFieldFd, h.Fd()), zap.Stringer(consts.LogFieldEvents, ev))
		e.removeOnLoop(ep, h)
		return nil
	}

	var (
		n      int
		data   []byte
		result Result
	)
	if e.hooks.dataReady != nil {
		data = buf
		result = e.call(func() Result {
			var r Result
			n, r = e.hooks.dataReady(h, &data)
			return r
		})
		switch result.verdict() {
		case verdictStop:
			e.requestStop(result)
			return nil
		case verdictClose:
			e.removeOnLoop(ep, h)
			return nil
		}
		if result.Skips() {
			return nil
		}
		if n > len(data) {
			n = len(data)
		}
	} else {
		var err error
		n, err = h.Read(buf)
		data = buf
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return nil
			}
			if !errors.Is(err, io.EOF) {
				e.logger.Debug("read client failed", zap.Int(consts.LogFieldFd, h.Fd()), zap.Error(err))
			}
		}
	}

	if n <= 0 {
		if !result.Keeps() {
			e.removeOnLoop(ep, h)
		}
		return nil
	}

	if e.hooks.dataIn == nil {
		return nil
	}
	result = e.call(func() Result {
		return e.hooks.dataIn(h, data[:n])
	})
	switch result.verdict() {
	case verdictStop:
		e.requestStop(result)
	case verdictClose:
		e.removeOnLoop(ep, h)
	}
	return nil
}

// dropStray handles an event for an fd nobody tracks, typically one removed
// earlier in the same batch. The fd is closed only when it was still
// registered here, so a number already reused elsewhere is left alone.
func (e *engine) dropStray(ep *poller.EpollPack, fd int) {
	if err := ep.DelSock(fd); err != nil {
		e.logger.Debug("skip event for released fd", zap.Int(consts.LogFieldFd, fd))
		return
	}
	e.logger.Warn("close untracked fd", zap.Int(consts.LogFieldFd, fd))
	_ = unix.Close(fd)
}

func (e *engine) firePending() {
	var pending []*connections.SocketHandle
	utils.WrapLock(&e.mutex, func() {
		pending, e.pending = e.pending, nil
	})
	for _, h := range pending {
		e.fireDisconnected(h)
	}
}

// teardown runs on the loop goroutine after the last iteration.
func (e *engine) teardown(ep *poller.EpollPack) {
	var deleting bool
	utils.WrapLock(&e.mutex, func() {
		e.ep = nil
		e.loopCancel = nil
		deleting = e.deleteOnExit
	})
	e.firePending()

	if e.hooks.finish != nil {
		e.hooks.finish()
	}
	if deleting {
		e.flags.Raise(ObjectBeingDeleted)
		e.releaseAll()
		e.freeExtendedData()
	}

	if err := ep.Close(); err != nil {
		e.logger.Warn("close poller failed", zap.Error(err))
	}
}

func (e *engine) setErr(err error) {
	utils.WrapLock(&e.mutex, func() {
		e.lastErr = err
	})
}

func (e *engine) err() error {
	return utils.WrapLockValue(&e.mutex, func() error {
		return e.lastErr
	})
}

func (e *engine) stop() error {
	if e.reentrant() {
		e.requestStop(Default)
		return nil
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	e.stopLocked()
	return e.err()
}

// stopLocked signals the loop and joins it. A callback stopping its own
// loop only signals; the join is then owed to the next start or close.
func (e *engine) stopLocked() {
	e.flags.Raise(ThreadStopRequested)
	if e.cancel != nil {
		e.cancel()
	}
	e.wake()

	if e.done != nil && !e.reentrant() {
		<-e.done
		e.flags.Lower(ThreadCreated)
	}

	if e.hooks.afterStop != nil && !e.running() {
		e.hooks.afterStop()
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// doneChan is closed when the current or last run has fully ended.
func (e *engine) doneChan() <-chan struct{} {
	return utils.WrapLockValue(&e.mutex, func() <-chan struct{} {
		if e.done == nil {
			return closedChan
		}
		return e.done
	})
}

// stopWhenEmpty waits for the client list to drain, or for the loop to end
// on its own, then stops.
func (e *engine) stopWhenEmpty() error {
	if e.reentrant() {
		return e.stop()
	}
	done := e.doneChan()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := e.clients.WaitEmpty(ctx); err != nil && e.clients.Count() > 0 {
		e.logger.Info("loop ended before the client list drained", zap.Int(consts.LogFieldCount, e.clients.Count()))
	}
	return e.stop()
}

// close stops the loop, releases every client and the extended data. From a
// callback it behaves like returning DeleteSelf.
func (e *engine) close() error {
	if e.reentrant() {
		e.requestStop(DeleteSelf)
		return nil
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	deleted := e.flags.Has(ObjectBeingDeleted)
	e.flags.Raise(ObjectBeingDeleted)
	e.stopLocked()
	e.metrics.StopPush()
	if deleted {
		return nil
	}

	e.releaseAll()
	e.freeExtendedData()
	return e.err()
}

func (e *engine) extendedData() any {
	return utils.WrapLockValue(&e.mutex, func() any {
		return e.exData
	})
}

// setExtendedData replaces the extended data. With freeOld the previous
// value goes through its destructor, otherwise it is handed back untouched.
func (e *engine) setExtendedData(data any, free func(any), freeOld bool) {
	var (
		oldData any
		oldFree func(any)
	)
	utils.WrapLock(&e.mutex, func() {
		oldData, oldFree = e.exData, e.freeExData
		e.exData, e.freeExData = data, free
	})
	if freeOld && oldFree != nil && oldData != nil {
		oldFree(oldData)
	}
}

func (e *engine) freeExtendedData() {
	var (
		data any
		free func(any)
	)
	utils.WrapLock(&e.mutex, func() {
		data, free = e.exData, e.freeExData
		e.exData, e.freeExData = nil, nil
	})
	if free != nil && data != nil {
		free(data)
	}
}
