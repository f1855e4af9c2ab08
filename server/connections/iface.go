package connections

import (
	"io"
	"net"
)

type IListener interface {
	Accept() (*SocketHandle, error)
	Addr() net.Addr
	RawFd() int
	io.Closer
}
