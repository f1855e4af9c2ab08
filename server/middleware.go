package server

import (
	"strings"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/logs"
	"github.com/Trinoooo/eggie_epoll/server/connections"
	"github.com/luci/go-render/render"
	"go.uber.org/zap"
)

// HandleFunc is the shape of a DataIn callback without its owner.
type HandleFunc func(client *connections.SocketHandle, data []byte) Result

type MiddlewareFunc func(handleFn HandleFunc) HandleFunc

// Chain wraps handleFn so that the first middleware runs outermost.
func Chain(handleFn HandleFunc, mws ...MiddlewareFunc) HandleFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		handleFn = mws[i](handleFn)
	}
	return handleFn
}

func LogMw(handleFn HandleFunc) HandleFunc {
	return func(client *connections.SocketHandle, data []byte) Result {
		r := handleFn(client, data)
		logs.Debug("data in",
			zap.Int(consts.LogFieldFd, client.Fd()),
			zap.String(consts.LogFieldValue, render.Render(string(data))),
			zap.Stringer(consts.LogFieldResult, r),
		)
		return r
	}
}

// QuitMw closes the client when a message, trimmed of spaces, equals cmd.
func QuitMw(cmd string) MiddlewareFunc {
	return func(handleFn HandleFunc) HandleFunc {
		return func(client *connections.SocketHandle, data []byte) Result {
			if cmd != "" && strings.TrimSpace(string(data)) == cmd {
				return CloseClient
			}
			return handleFn(client, data)
		}
	}
}
