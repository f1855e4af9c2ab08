//go:build linux

package connections

import (
	"errors"
	"net"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/errs"
	"golang.org/x/sys/unix"
)

type Listener struct {
	fd   int
	addr *net.TCPAddr
}

var _ IListener = (*Listener)(nil)

// Listen binds a non-blocking IPv4 TCP socket with SO_REUSEADDR and starts
// listening. An empty host binds every interface; port 0 picks an ephemeral
// port.
func Listen(host string, port int, backlog int) (*Listener, error) {
	if port < 0 || port > 65535 {
		return nil, errs.NewInvalidParamErr()
	}
	if backlog <= 0 {
		backlog = consts.DefaultBacklog
	}

	var addr [4]byte
	if host != "" {
		ip := net.ParseIP(host).To4()
		if ip == nil {
			return nil, errs.NewInvalidParamErr()
		}
		copy(addr[:], ip)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errs.NewFdErr().WithErr(err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewErrnoErr().WithErr(err)
	}

	if err = unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		_ = unix.Close(fd)
		if errors.Is(err, unix.EADDRINUSE) {
			return nil, errs.NewPortInUseErr().WithErr(err)
		}
		return nil, errs.NewErrnoErr().WithErr(err)
	}

	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewErrnoErr().WithErr(err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewErrnoErr().WithErr(err)
	}

	return &Listener{
		fd:   fd,
		addr: toTCPAddr(sa),
	}, nil
}

// Accept takes one pending connection and returns EAGAIN when there is none.
// The accepted fd is blocking and the handle has no user data.
func (l *Listener) Accept() (*SocketHandle, error) {
	fd, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, err
	}

	h := NewSocketHandle(fd, nil, nil)
	h.remoteAddr = toTCPAddr(sa)
	return h, nil
}

func (l *Listener) Addr() net.Addr {
	return l.addr
}

func (l *Listener) RawFd() int {
	return l.fd
}

func (l *Listener) Close() error {
	if err := unix.Close(l.fd); err != nil {
		return errs.NewCloseSocketErr().WithErr(err)
	}
	return nil
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{
			IP:   net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]),
			Port: addr.Port,
		}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, addr.Addr[:])
		return &net.TCPAddr{IP: ip, Port: addr.Port}
	default:
		return nil
	}
}
