package server

import (
	"strings"
	"sync/atomic"
)

type Flag uint32

const (
	// ThreadCreated means a worker was launched and its done channel has
	// not been waited on yet.
	ThreadCreated Flag = 1 << iota
	ThreadRunning
	ThreadStopRequested
	ObjectBeingDeleted
	// CallbackState is set while a user callback runs on the loop goroutine.
	CallbackState
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{ThreadCreated, "THREAD_CREATED"},
	{ThreadRunning, "THREAD_RUNNING"},
	{ThreadStopRequested, "THREAD_STOP_REQUESTED"},
	{ObjectBeingDeleted, "OBJECT_BEING_DELETED"},
	{CallbackState, "CALLBACK_STATE"},
}

func (f Flag) Has(other Flag) bool {
	return f&other == other
}

func (f Flag) String() string {
	var names []string
	for _, item := range flagNames {
		if f.Has(item.flag) {
			names = append(names, item.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// FlagPole is an atomic Flag set.
type FlagPole struct {
	v atomic.Uint32
}

func (fp *FlagPole) Load() Flag {
	return Flag(fp.v.Load())
}

func (fp *FlagPole) Has(f Flag) bool {
	return fp.Load().Has(f)
}

func (fp *FlagPole) Raise(f Flag) {
	for {
		old := fp.v.Load()
		if fp.v.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (fp *FlagPole) Lower(f Flag) {
	for {
		old := fp.v.Load()
		if fp.v.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}
