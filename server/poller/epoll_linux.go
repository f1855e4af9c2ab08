//go:build linux

package poller

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/errs"
	"github.com/Trinoooo/eggie_epoll/logs"
	"github.com/luci/go-render/render"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// EpollPack owns one epoll instance together with its triggered-events
// buffer. Registration is mutex guarded; Lock/Unlock are exported so callers
// can compose manual epoll_ctl calls through ModEvent.
type EpollPack struct {
	mutex        sync.Mutex
	efd          int
	wakeFd       int
	events       []unix.EpollEvent
	modEvent     unix.EpollEvent
	userData     any
	freeUserData func(any)
	logger       *zap.Logger
}

var _ Poller = (*EpollPack)(nil)

// NewEpollPack creates the epoll fd and its wake eventfd. eventCount <= 0
// selects consts.DefaultEventCapacity. On failure the returned pack is nil and
// nothing is leaked; userData is not freed.
func NewEpollPack(eventCount int, userData any, freeUserData func(any)) (*EpollPack, error) {
	if eventCount <= 0 {
		eventCount = consts.DefaultEventCapacity
	}

	logger := logs.With(consts.ComponentPoller)
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		e := errs.NewFdErr().WithErr(err)
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "epoll_create1"))
		return nil, e
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(efd)
		e := errs.NewFdErr().WithErr(err)
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "eventfd"))
		return nil, e
	}

	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err = unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wakeFd, ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(efd)
		e := errs.NewFdErr().WithErr(err)
		logger.Error(e.Error(), zap.String(consts.LogFieldParams, "register eventfd"))
		return nil, e
	}

	return &EpollPack{
		efd:          efd,
		wakeFd:       wakeFd,
		events:       make([]unix.EpollEvent, eventCount),
		userData:     userData,
		freeUserData: freeUserData,
		logger:       logger.With(zap.Int(consts.LogFieldFd, efd)),
	}, nil
}

func (ep *EpollPack) AddSock(events uint32, fd int) error {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()

	return ep.ctl(unix.EPOLL_CTL_ADD, events, fd)
}

func (ep *EpollPack) DelSock(fd int) error {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()

	return ep.ctl(unix.EPOLL_CTL_DEL, 0, fd)
}

// ctl must be called with the mutex held.
func (ep *EpollPack) ctl(op int, events uint32, fd int) error {
	if ep.efd < 0 {
		return errs.NewFdErr().WithErr(unix.EBADF)
	}
	if fd < 0 || fd == ep.wakeFd {
		return errs.NewInvalidParamErr()
	}

	ep.modEvent = unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(ep.efd, op, fd, &ep.modEvent); err != nil {
		return errs.NewFdErr().WithErr(err)
	}
	return nil
}

func (ep *EpollPack) Lock() {
	ep.mutex.Lock()
}

func (ep *EpollPack) Unlock() {
	ep.mutex.Unlock()
}

// Fd returns the epoll fd, or -1 once closed.
func (ep *EpollPack) Fd() int {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	return ep.efd
}

// RawFd is Fd without locking, for use between Lock and Unlock.
func (ep *EpollPack) RawFd() int {
	return ep.efd
}

// TriggeredEvents exposes the raw buffer the last Wait filled. It is only
// stable on the goroutine calling Wait.
func (ep *EpollPack) TriggeredEvents() []unix.EpollEvent {
	return ep.events
}

func (ep *EpollPack) TriggeredEventLen() int {
	return len(ep.events)
}

// ModEvent is scratch space for manual epoll_ctl calls made under Lock.
func (ep *EpollPack) ModEvent() *unix.EpollEvent {
	return &ep.modEvent
}

func (ep *EpollPack) UserData() any {
	return ep.userData
}

func (ep *EpollPack) Wait(timeout time.Duration) ([]Pevent, error) {
	ep.mutex.Lock()
	efd := ep.efd
	ep.mutex.Unlock()
	if efd < 0 {
		return nil, errs.NewFdErr().WithErr(unix.EBADF)
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}

	n, err := unix.EpollWait(efd, ep.events, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, errs.NewErrnoErr().WithErr(err)
	}

	batch := make([]Pevent, 0, n)
	for i := 0; i < n; i++ {
		fd := int(ep.events[i].Fd)
		if fd == ep.wakeFd {
			ep.drainWake()
			continue
		}
		batch = append(batch, Pevent{Fd: fd, Events: ep.events[i].Events})
	}

	if len(batch) > 0 && ep.logger.Core().Enabled(zap.DebugLevel) {
		ep.logger.Debug("events triggered", zap.String(consts.LogFieldEvents, render.Render(batch)))
	}
	return batch, nil
}

func (ep *EpollPack) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(ep.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (ep *EpollPack) Wake() error {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()
	if ep.wakeFd < 0 {
		return nil
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(ep.wakeFd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return errs.NewErrnoErr().WithErr(err)
	}
	return nil
}

// Close closes the epoll fd under the lock, then releases user data. It is
// safe to call more than once.
func (ep *EpollPack) Close() error {
	ep.mutex.Lock()
	if ep.efd < 0 {
		ep.mutex.Unlock()
		return nil
	}

	var err error
	if e := unix.Close(ep.efd); e != nil {
		err = errs.NewFdErr().WithErr(e)
	}
	_ = unix.Close(ep.wakeFd)
	ep.efd, ep.wakeFd = -1, -1
	free, data := ep.freeUserData, ep.userData
	ep.freeUserData, ep.userData = nil, nil
	ep.mutex.Unlock()

	if free != nil && data != nil {
		free(data)
	}
	return err
}
