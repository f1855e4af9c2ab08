package errs

import (
	"errors"
	"fmt"
)

type EpollErr struct {
	msg  string
	code int64
	err  error
}

// Error format:
// [code] description ( => wrapped error )
func (ee *EpollErr) Error() string {
	details := fmt.Sprintf("[%d] %s", ee.code, ee.msg)
	if ee.err != nil {
		details += fmt.Sprintf(" => %s", ee.err)
	}

	return details
}

func (ee *EpollErr) Code() int64 {
	return ee.code
}

func (ee *EpollErr) WithErr(err error) *EpollErr {
	ee.err = err
	return ee
}

func (ee *EpollErr) Unwrap() error {
	return ee.err
}

func GetCode(err error) int64 {
	var ee *EpollErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return UnknownErrCode
}

const (
	UnknownErrCode       = 0
	InvalidParamErrCode  = 100001
	OutOfMemoryErrCode   = 100002
	FdErrCode            = 100003
	MutexErrCode         = 100004
	ThreadErrCode        = 100005
	PortInUseErrCode     = 100006
	ErrnoErrCode         = 100007
	ObjCorruptionErrCode = 100008
	BeingDeletedErrCode  = 100009
	NotRunningErrCode    = 100010
	ReadSocketErrCode    = 100011
	WriteSocketErrCode   = 100012
	CloseSocketErrCode   = 100013
	MkdirErrCode         = 100014
	FileStatErrCode      = 100015
	OpenFileErrCode      = 100016
	ConfigErrCode        = 200001
)

func NewUnknownErr() *EpollErr {
	return &EpollErr{msg: "unknown error", code: UnknownErrCode}
}

func NewInvalidParamErr() *EpollErr {
	return &EpollErr{msg: "invalid params", code: InvalidParamErrCode}
}

func NewOutOfMemoryErr() *EpollErr {
	return &EpollErr{msg: "out of memory", code: OutOfMemoryErrCode}
}

// NewFdErr covers failures creating or registering a descriptor
// (epoll instance, eventfd, socket, epoll_ctl).
func NewFdErr() *EpollErr {
	return &EpollErr{msg: "fd operation failed", code: FdErrCode}
}

// NewMutexErr reports a failed lock operation.
func NewMutexErr() *EpollErr {
	return &EpollErr{msg: "mutex operation failed", code: MutexErrCode}
}

func NewThreadErr() *EpollErr {
	return &EpollErr{msg: "start worker failed", code: ThreadErrCode}
}

func NewPortInUseErr() *EpollErr {
	return &EpollErr{msg: "port already in use", code: PortInUseErrCode}
}

func NewErrnoErr() *EpollErr {
	return &EpollErr{msg: "system call failed", code: ErrnoErrCode}
}

func NewObjCorruptionErr() *EpollErr {
	return &EpollErr{msg: "object state corrupted", code: ObjCorruptionErrCode}
}

func NewBeingDeletedErr() *EpollErr {
	return &EpollErr{msg: "object is being deleted", code: BeingDeletedErrCode}
}

func NewNotRunningErr() *EpollErr {
	return &EpollErr{msg: "event loop not running", code: NotRunningErrCode}
}

func NewReadSocketErr() *EpollErr {
	return &EpollErr{msg: "read socket failed", code: ReadSocketErrCode}
}

func NewWriteSocketErr() *EpollErr {
	return &EpollErr{msg: "write socket failed", code: WriteSocketErrCode}
}

func NewCloseSocketErr() *EpollErr {
	return &EpollErr{msg: "close socket failed", code: CloseSocketErrCode}
}

func NewMkdirErr() *EpollErr {
	return &EpollErr{msg: "mkdir failed", code: MkdirErrCode}
}

func NewFileStatErr() *EpollErr {
	return &EpollErr{msg: "file stat failed", code: FileStatErrCode}
}

func NewOpenFileErr() *EpollErr {
	return &EpollErr{msg: "open file failed", code: OpenFileErrCode}
}

func NewConfigErr() *EpollErr {
	return &EpollErr{msg: "load config failed", code: ConfigErrCode}
}
