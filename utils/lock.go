package utils

import "sync"

func WrapLock(lock sync.Locker, fn func()) {
	lock.Lock()
	defer lock.Unlock()

	fn()
}

// WrapLockValue is WrapLock for critical sections producing a value.
func WrapLockValue[T any](lock sync.Locker, fn func() T) T {
	lock.Lock()
	defer lock.Unlock()

	return fn()
}
