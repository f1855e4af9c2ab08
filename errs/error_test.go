package errs

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestEpollErr_Error(t *testing.T) {
	e := NewFdErr()
	assert.Equal(t, "[100003] fd operation failed", e.Error())

	e = NewFdErr().WithErr(syscall.EBADF)
	assert.Equal(t, fmt.Sprintf("[100003] fd operation failed => %s", syscall.EBADF), e.Error())
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, int64(PortInUseErrCode), GetCode(NewPortInUseErr()))
	assert.Equal(t, int64(MutexErrCode), GetCode(NewMutexErr()))
	assert.Equal(t, int64(UnknownErrCode), GetCode(syscall.EINVAL))
	assert.Equal(t, int64(UnknownErrCode), GetCode(nil))

	wrapped := errors.Wrap(NewThreadErr(), "launch")
	assert.Equal(t, int64(ThreadErrCode), GetCode(wrapped))
}

func TestEpollErr_Unwrap(t *testing.T) {
	e := NewErrnoErr().WithErr(syscall.ECONNRESET)
	assert.True(t, errors.Is(e, syscall.ECONNRESET))
	assert.False(t, errors.Is(NewErrnoErr(), syscall.ECONNRESET))
}
