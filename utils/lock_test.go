package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapLock(t *testing.T) {
	var (
		mu        sync.Mutex
		globalVar int64
	)

	wg := sync.WaitGroup{}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go WrapLock(&mu, func() {
			defer wg.Done()
			loop(10, func() {
				globalVar++
			})
		})
	}

	wg.Wait()
	assert.Equal(t, int64(30), globalVar)
}

func TestWrapLockValue(t *testing.T) {
	var mu sync.Mutex
	v := WrapLockValue(&mu, func() int {
		return 7
	})
	assert.Equal(t, 7, v)
	assert.True(t, mu.TryLock())
}

func TestGetValueOnEnv(t *testing.T) {
	t.Setenv("EGGIE_EPOLL_ENV", "test")
	assert.Equal(t, "t", GetValueOnEnv("p", "t"))
	t.Setenv("EGGIE_EPOLL_ENV", "prod")
	assert.Equal(t, "p", GetValueOnEnv("p", "t"))
}

func loop(times int, fn func()) {
	for i := 0; i < times; i++ {
		fn()
	}
}
