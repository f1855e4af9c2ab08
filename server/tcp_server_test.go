//go:build linux

package server

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Trinoooo/eggie_epoll/errs"
	"github.com/Trinoooo/eggie_epoll/server/connections"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEchoServer(t *testing.T, callbacks ServerCallbacks) *TcpServer {
	s, err := NewTcpServer("127.0.0.1", 0, nil, nil)
	require.Nil(t, err)
	s.SetWaitTimeout(50 * time.Millisecond)
	if callbacks.DataIn == nil {
		callbacks.DataIn = func(s *TcpServer, c *connections.SocketHandle, data []byte) Result {
			_, _ = c.Write(data)
			return Default
		}
	}
	s.SetCallbacks(callbacks)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func dial(t *testing.T, s *TcpServer) net.Conn {
	conn, err := net.Dial("tcp", s.Addr().String())
	require.Nil(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, msg string) string {
	_, err := conn.Write([]byte(msg))
	require.Nil(t, err)
	require.Nil(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	buf := make([]byte, len(msg))
	n, err := conn.Read(buf)
	require.Nil(t, err)
	return string(buf[:n])
}

func TestNewTcpServer_InvalidParams(t *testing.T) {
	_, err := NewTcpServer("", 65536, nil, nil)
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))
	_, err = NewTcpServer("::1", 0, nil, nil)
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))
}

func TestTcpServer_Echo(t *testing.T) {
	var connected, disconnected int32
	s := newEchoServer(t, ServerCallbacks{
		ClientConnected: func(s *TcpServer, c *connections.SocketHandle) Result {
			atomic.AddInt32(&connected, 1)
			return Default
		},
		Disconnected: func(s *TcpServer, c *connections.SocketHandle) Result {
			atomic.AddInt32(&disconnected, 1)
			return Default
		},
	})
	assert.Nil(t, s.Addr())
	assert.False(t, s.IsRunning())

	require.Nil(t, s.StartAsync())
	assert.True(t, s.IsRunning())
	assert.NotZero(t, s.Addr().(*net.TCPAddr).Port)

	c1 := dial(t, s)
	c2 := dial(t, s)
	assert.Equal(t, "ping", roundTrip(t, c1, "ping"))
	assert.Equal(t, "pong", roundTrip(t, c2, "pong"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&connected))
	assert.Equal(t, 2, s.Count())

	require.Nil(t, c1.Close())
	assert.Eventually(t, func() bool {
		return s.Count() == 1 && atomic.LoadInt32(&disconnected) == 1
	}, waitFor, tick)
}

func TestTcpServer_ClientConnectedVerdicts(t *testing.T) {
	var stopped int32
	s := newEchoServer(t, ServerCallbacks{
		ClientConnected: func(s *TcpServer, c *connections.SocketHandle) Result {
			if s.Count() == 0 && atomic.LoadInt32(&stopped) == 0 {
				// refuse the first one
				atomic.StoreInt32(&stopped, 1)
				return CloseClient
			}
			if s.Count() == 1 {
				return StopServer
			}
			return Default
		},
	})
	require.Nil(t, s.StartAsync())

	refused := dial(t, s)
	require.Nil(t, refused.SetReadDeadline(time.Now().Add(waitFor)))
	buf := make([]byte, 1)
	_, err := refused.Read(buf)
	assert.NotNil(t, err)

	kept := dial(t, s)
	assert.Equal(t, "a", roundTrip(t, kept, "a"))

	_ = dial(t, s)
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("StopServer from ClientConnected ignored")
	}
	assert.False(t, s.IsRunning())
	assert.Equal(t, 0, s.Count())
}

func TestTcpServer_ListenThenStop(t *testing.T) {
	s := newEchoServer(t, ServerCallbacks{})
	require.Nil(t, s.Listen())
	require.Nil(t, s.Listen())
	assert.True(t, s.IsRunning())

	assert.Nil(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.Addr())
}

func TestTcpServer_PortInUse(t *testing.T) {
	s := newEchoServer(t, ServerCallbacks{})
	require.Nil(t, s.StartAsync())

	other, err := NewTcpServer("127.0.0.1", s.Addr().(*net.TCPAddr).Port, nil, nil)
	require.Nil(t, err)
	defer other.Close()
	err = other.StartAsync()
	assert.Equal(t, int64(errs.PortInUseErrCode), errs.GetCode(err))
	assert.False(t, other.IsRunning())
	assert.False(t, other.Flags().Has(ThreadRunning))
}

func TestTcpServer_HandOff(t *testing.T) {
	worker := NewClientListener(nil, nil)
	worker.SetCallbacks(ListenerCallbacks{
		DataIn: func(l *ClientListener, c *connections.SocketHandle, data []byte) Result {
			_, _ = c.Write(append([]byte("w:"), data...))
			return Default
		},
	})
	defer worker.Close()

	s := newEchoServer(t, ServerCallbacks{
		ClientConnected: func(s *TcpServer, c *connections.SocketHandle) Result {
			if err := worker.AddSocketHandle(c, true); err != nil {
				return CloseClient
			}
			return Handled
		},
	})
	require.Nil(t, s.StartAsync())

	conn := dial(t, s)
	_, err := conn.Write([]byte("hi"))
	require.Nil(t, err)
	require.Nil(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	buf := make([]byte, 4)
	n, err := conn.Read(buf)
	require.Nil(t, err)
	assert.Equal(t, "w:hi", string(buf[:n]))

	assert.Equal(t, 0, s.Count())
	assert.Equal(t, 1, worker.Count())
	assert.Equal(t, worker, worker.Clients()[0].Parent())

	// the server stopping leaves handed-off clients alone
	assert.Nil(t, s.Stop())
	assert.Equal(t, 1, worker.Count())
}

func TestTcpServer_StopReleasesClients(t *testing.T) {
	var returning, disconnected int32
	s := newEchoServer(t, ServerCallbacks{
		Disconnected: func(s *TcpServer, c *connections.SocketHandle) Result {
			atomic.AddInt32(&disconnected, 1)
			return Default
		},
		ThreadReturning: func(s *TcpServer) {
			atomic.AddInt32(&returning, 1)
		},
	})
	require.Nil(t, s.StartAsync())

	conns := []net.Conn{dial(t, s), dial(t, s), dial(t, s)}
	for _, c := range conns {
		assert.Equal(t, "x", roundTrip(t, c, "x"))
	}
	assert.Equal(t, 3, s.Count())

	assert.Nil(t, s.Stop())
	assert.Equal(t, int32(1), atomic.LoadInt32(&returning))
	assert.Equal(t, int32(3), atomic.LoadInt32(&disconnected))
	assert.Equal(t, 0, s.Count())
	assert.False(t, s.IsRunning())

	for _, c := range conns {
		require.Nil(t, c.SetReadDeadline(time.Now().Add(waitFor)))
		_, err := c.Read(make([]byte, 1))
		assert.NotNil(t, err)
	}
}

func TestTcpServer_Restart(t *testing.T) {
	s := newEchoServer(t, ServerCallbacks{})
	for i := 0; i < 3; i++ {
		require.Nil(t, s.StartAsync())
		conn := dial(t, s)
		assert.Equal(t, "again", roundTrip(t, conn, "again"))
		assert.Nil(t, s.Stop())
		assert.False(t, s.IsRunning())
	}

	require.Nil(t, s.Close())
	assert.True(t, s.Flags().Has(ObjectBeingDeleted))
	assert.Equal(t, int64(errs.BeingDeletedErrCode), errs.GetCode(s.StartAsync()))
}

func TestTcpServer_DeleteSelfFromDataIn(t *testing.T) {
	freed := int32(0)
	s, err := NewTcpServer("127.0.0.1", 0, "ex", func(any) {
		atomic.AddInt32(&freed, 1)
	})
	require.Nil(t, err)
	s.SetCallbacks(ServerCallbacks{
		DataIn: func(s *TcpServer, c *connections.SocketHandle, data []byte) Result {
			return DeleteSelf
		},
	})
	require.Nil(t, s.StartAsync())

	conn := dial(t, s)
	_, err = conn.Write([]byte("bye"))
	require.Nil(t, err)
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("DeleteSelf ignored")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&freed))
	assert.Nil(t, s.ExtendedData())
	assert.Nil(t, s.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&freed))
}

func TestTcpServer_StopWhenEmpty(t *testing.T) {
	s := newEchoServer(t, ServerCallbacks{})
	require.Nil(t, s.StartAsync())

	c1, err := net.Dial("tcp", s.Addr().String())
	require.Nil(t, err)
	c2, err := net.Dial("tcp", s.Addr().String())
	require.Nil(t, err)
	assert.Equal(t, "1", roundTrip(t, c1, "1"))
	assert.Equal(t, "2", roundTrip(t, c2, "2"))

	returned := make(chan error)
	go func() {
		returned <- s.StopWhenEmpty()
	}()

	require.Nil(t, c1.Close())
	select {
	case <-returned:
		t.Fatal("returned with a client left")
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, s.IsRunning())

	require.Nil(t, c2.Close())
	select {
	case err = <-returned:
		assert.Nil(t, err)
	case <-time.After(waitFor):
		t.Fatal("StopWhenEmpty did not return")
	}
	assert.False(t, s.IsRunning())
}

func TestTcpServer_StopJoinsBusyCallback(t *testing.T) {
	entered := make(chan struct{})
	var finished int32
	s := newEchoServer(t, ServerCallbacks{
		DataIn: func(s *TcpServer, c *connections.SocketHandle, data []byte) Result {
			close(entered)
			time.Sleep(300 * time.Millisecond)
			atomic.StoreInt32(&finished, 1)
			return Default
		},
	})
	require.Nil(t, s.StartAsync())

	conn := dial(t, s)
	_, err := conn.Write([]byte("slow"))
	require.Nil(t, err)
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("DataIn never ran")
	}

	assert.Nil(t, s.Stop())
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
	select {
	case <-s.Done():
	default:
		t.Fatal("Stop returned before the loop exited")
	}
	assert.False(t, s.IsRunning())
	assert.False(t, s.Flags().Has(ThreadRunning))
	assert.Equal(t, 0, s.Count())
}

func TestTcpServer_SetExtendedData(t *testing.T) {
	var freed []any
	free := func(data any) {
		freed = append(freed, data)
	}
	s, err := NewTcpServer("127.0.0.1", 0, 1, free)
	require.Nil(t, err)

	s.SetExtendedData(2, free, true)
	assert.Equal(t, []any{1}, freed)
	s.SetExtendedData(3, free, false)
	assert.Equal(t, []any{1}, freed)
	assert.Equal(t, 3, s.ExtendedData())

	assert.Nil(t, s.Close())
	assert.Equal(t, []any{1, 3}, freed)
}
