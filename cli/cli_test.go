//go:build linux

package cli

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Trinoooo/eggie_epoll/errs"
	"github.com/Trinoooo/eggie_epoll/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEcho(t *testing.T, handOff bool) *EchoApp {
	app, err := NewEchoApp("127.0.0.1", 0, server.DefaultConfig(), handOff)
	require.Nil(t, err)
	require.Nil(t, app.Start())
	t.Cleanup(func() {
		_ = app.Close()
	})
	return app
}

func exchange(t *testing.T, conn net.Conn, msg string) string {
	_, err := conn.Write([]byte(msg))
	require.Nil(t, err)
	require.Nil(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.Nil(t, err)
	return string(buf[:n])
}

func TestEchoApp(t *testing.T) {
	for _, handOff := range []bool{false, true} {
		app := startEcho(t, handOff)

		conn, err := net.Dial("tcp", app.Addr().String())
		require.Nil(t, err)
		defer conn.Close()

		assert.Equal(t, "hello\n", exchange(t, conn, "hello\n"), "hand-off %v", handOff)

		// quit closes the connection without an echo
		_, err = conn.Write([]byte(" .quit \n"))
		require.Nil(t, err)
		require.Nil(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, err = conn.Read(make([]byte, 8))
		assert.NotNil(t, err)
	}
}

func TestEchoApp_RunStopsOnCancel(t *testing.T) {
	app, err := NewEchoApp("127.0.0.1", 0, nil, true)
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- app.Run(ctx)
	}()
	assert.Eventually(t, func() bool { return app.Addr() != nil }, 3*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err = <-done:
		assert.Nil(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run ignored cancel")
	}
	assert.Nil(t, app.Addr())
}

func TestNewEchoApp_InvalidParams(t *testing.T) {
	_, err := NewEchoApp("localhost", 0, nil, false)
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))

	cfg := server.DefaultConfig()
	cfg.ReadBufferSize = 0
	_, err = NewEchoApp("127.0.0.1", 0, cfg, false)
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))
}

func TestWrapper_InvalidFlags(t *testing.T) {
	err := NewWrapper().Run([]string{"eggie_epoll", "--port", "70000"})
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))

	err = NewWrapper().Run([]string{"eggie_epoll", "--config", t.TempDir(), "--quit-command", ""})
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))
}
