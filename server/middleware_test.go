package server

import (
	"testing"

	"github.com/Trinoooo/eggie_epoll/server/connections"
	"github.com/stretchr/testify/assert"
)

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(handleFn HandleFunc) HandleFunc {
			return func(client *connections.SocketHandle, data []byte) Result {
				order = append(order, name)
				return handleFn(client, data)
			}
		}
	}
	handle := Chain(func(client *connections.SocketHandle, data []byte) Result {
		order = append(order, "handle")
		return Handled
	}, mark("a"), mark("b"), LogMw)

	h := connections.NewSocketHandle(7, nil, nil)
	assert.Equal(t, Handled, handle(h, []byte("x")))
	assert.Equal(t, []string{"a", "b", "handle"}, order)
}

func TestQuitMw(t *testing.T) {
	calls := 0
	handle := Chain(func(client *connections.SocketHandle, data []byte) Result {
		calls++
		return Default
	}, QuitMw(".quit"))

	h := connections.NewSocketHandle(7, nil, nil)
	testList := []struct {
		Data   string
		Result Result
	}{
		{"hello", Default},
		{" .quit\r\n", CloseClient},
		{".quitnow", Default},
		{"quit", Default},
	}
	for _, item := range testList {
		assert.Equal(t, item.Result, handle(h, []byte(item.Data)), item.Data)
	}
	assert.Equal(t, 3, calls)

	// empty command disables the check
	assert.Equal(t, Default, QuitMw("")(func(*connections.SocketHandle, []byte) Result { return Default })(h, []byte("")))
}
