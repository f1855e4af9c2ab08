package poller

import (
	"strings"
	"time"
)

// Interest and readiness bits. Values match the epoll ones so masks can be
// handed to the kernel unchanged.
const (
	EventIn    uint32 = 0x1
	EventPri   uint32 = 0x2
	EventOut   uint32 = 0x4
	EventErr   uint32 = 0x8
	EventHup   uint32 = 0x10
	EventRdHup uint32 = 0x2000
)

// Pevent is one readiness notification from a Poller.
type Pevent struct {
	Fd     int
	Events uint32
}

func (p Pevent) Readable() bool {
	return p.Events&EventIn != 0
}

// Broken reports an error or hangup condition on the fd.
func (p Pevent) Broken() bool {
	return p.Events&(EventErr|EventHup) != 0
}

func (p Pevent) String() string {
	var names []string
	for _, item := range []struct {
		bit  uint32
		name string
	}{
		{EventIn, "IN"},
		{EventPri, "PRI"},
		{EventOut, "OUT"},
		{EventErr, "ERR"},
		{EventHup, "HUP"},
		{EventRdHup, "RDHUP"},
	} {
		if p.Events&item.bit != 0 {
			names = append(names, item.name)
		}
	}
	return strings.Join(names, "|")
}

type Poller interface {
	AddSock(events uint32, fd int) error
	DelSock(fd int) error
	// Wait blocks for at most timeout (negative means forever) and returns a
	// snapshot of the triggered batch. A Wake call makes it return early.
	Wait(timeout time.Duration) ([]Pevent, error)
	Wake() error
	Close() error
}
