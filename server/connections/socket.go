package connections

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/Trinoooo/eggie_epoll/errs"
	"golang.org/x/sys/unix"
)

// SocketHandle pairs a connected fd with caller data. The fd never changes
// after construction and is closed exactly once, by Close.
type SocketHandle struct {
	fd         int
	remoteAddr net.Addr

	mutex        sync.Mutex
	userData     any
	freeUserData func(any)
	parent       any

	closeOnce sync.Once
	closed    bool
	closeErr  error
}

func NewSocketHandle(fd int, userData any, freeUserData func(any)) *SocketHandle {
	return &SocketHandle{
		fd:           fd,
		userData:     userData,
		freeUserData: freeUserData,
	}
}

func (h *SocketHandle) Fd() int {
	return h.fd
}

// RemoteAddr is only known for accepted sockets.
func (h *SocketHandle) RemoteAddr() net.Addr {
	return h.remoteAddr
}

func (h *SocketHandle) UserData() any {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.userData
}

// SetUserData replaces the user data without running the old destructor.
func (h *SocketHandle) SetUserData(userData any, freeUserData func(any)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.userData, h.freeUserData = userData, freeUserData
}

// Parent is the listener or server currently owning the handle. It is a
// back reference only.
func (h *SocketHandle) Parent() any {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.parent
}

func (h *SocketHandle) SetParent(parent any) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.parent = parent
}

func (h *SocketHandle) Closed() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.closed
}

// Read performs a single read. A zero-byte read on a non-empty buffer is
// reported as io.EOF.
func (h *SocketHandle) Read(buf []byte) (int, error) {
	n, err := unix.Read(h.fd, buf)
	if err != nil {
		return 0, err
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (h *SocketHandle) Write(buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := unix.Write(h.fd, buf[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return written, errs.NewWriteSocketErr().WithErr(err)
		}
		written += n
	}
	return written, nil
}

// Close closes the fd and then runs the user data destructor. Later calls
// return the first result.
func (h *SocketHandle) Close() error {
	h.closeOnce.Do(func() {
		if err := unix.Close(h.fd); err != nil {
			h.closeErr = errs.NewCloseSocketErr().WithErr(err)
		}

		h.mutex.Lock()
		h.closed = true
		data, free := h.userData, h.freeUserData
		h.userData, h.freeUserData = nil, nil
		h.mutex.Unlock()

		if free != nil {
			free(data)
		}
	})
	return h.closeErr
}
