package connections

import (
	"context"
	"sync"

	"github.com/Trinoooo/eggie_epoll/errs"
	mapset "github.com/deckarep/golang-set/v2"
)

// ClientList tracks handles by identity and by fd. It only detaches
// handles; closing them is the owner's job.
type ClientList struct {
	mutex   sync.Mutex
	handles mapset.Set[*SocketHandle]
	byFd    map[int]*SocketHandle
	// closed while the list is empty
	empty chan struct{}
}

func NewClientList() *ClientList {
	empty := make(chan struct{})
	close(empty)
	return &ClientList{
		handles: mapset.NewThreadUnsafeSet[*SocketHandle](),
		byFd:    make(map[int]*SocketHandle),
		empty:   empty,
	}
}

func (cl *ClientList) Add(h *SocketHandle) error {
	if h == nil || h.Fd() < 0 {
		return errs.NewInvalidParamErr()
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.handles.Contains(h) {
		return errs.NewInvalidParamErr()
	}
	if _, exist := cl.byFd[h.Fd()]; exist {
		return errs.NewInvalidParamErr()
	}

	wasEmpty := cl.handles.Cardinality() == 0
	cl.handles.Add(h)
	cl.byFd[h.Fd()] = h
	if err := cl.verify(); err != nil {
		return err
	}
	if wasEmpty {
		cl.empty = make(chan struct{})
	}
	return nil
}

// Remove detaches h and reports whether it was present.
func (cl *ClientList) Remove(h *SocketHandle) bool {
	if h == nil {
		return false
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if !cl.handles.Contains(h) {
		return false
	}
	cl.detach(h)
	return true
}

// RemoveByFd detaches the handle owning fd, if any.
func (cl *ClientList) RemoveByFd(fd int) *SocketHandle {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	h, exist := cl.byFd[fd]
	if !exist {
		return nil
	}
	cl.detach(h)
	return h
}

// detach must be called with the mutex held.
func (cl *ClientList) detach(h *SocketHandle) {
	cl.handles.Remove(h)
	delete(cl.byFd, h.Fd())
	if cl.handles.Cardinality() == 0 {
		close(cl.empty)
	}
}

func (cl *ClientList) FindByFd(fd int) *SocketHandle {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	return cl.byFd[fd]
}

func (cl *ClientList) Contains(h *SocketHandle) bool {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	return cl.handles.Contains(h)
}

func (cl *ClientList) Count() int {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	return cl.handles.Cardinality()
}

// Snapshot returns the current handles in no particular order. Later
// mutations of the list do not affect it.
func (cl *ClientList) Snapshot() []*SocketHandle {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	return cl.handles.ToSlice()
}

// Clear detaches every handle and returns them.
func (cl *ClientList) Clear() []*SocketHandle {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	all := cl.handles.ToSlice()
	if len(all) == 0 {
		return nil
	}
	cl.handles.Clear()
	cl.byFd = make(map[int]*SocketHandle)
	close(cl.empty)
	return all
}

// Empty returns a channel that is closed once the list has no clients.
func (cl *ClientList) Empty() <-chan struct{} {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	return cl.empty
}

// WaitEmpty blocks until the list is empty or ctx is done.
func (cl *ClientList) WaitEmpty(ctx context.Context) error {
	for {
		empty := cl.Empty()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-empty:
		}
		// a client may have been added between the close and our wake up
		if cl.Count() == 0 {
			return nil
		}
	}
}

func (cl *ClientList) Verify() error {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	return cl.verify()
}

func (cl *ClientList) verify() error {
	if cl.handles.Cardinality() != len(cl.byFd) {
		return errs.NewObjCorruptionErr()
	}
	return nil
}
