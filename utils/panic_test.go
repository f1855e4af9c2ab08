package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHandlePanic(t *testing.T) {
	core, recorded := observer.New(zap.ErrorLevel)
	logger := zap.New(core)

	finished := false
	func() {
		defer HandlePanic(logger, func() {
			finished = true
		})

		panic("haha")
	}()

	assert.True(t, finished)
	assert.Equal(t, 1, recorded.Len())
}

func TestPanicHandler(t *testing.T) {
	core, recorded := observer.New(zap.ErrorLevel)
	PanicHandler(zap.New(core))(context.Background(), "boom")
	assert.Equal(t, 1, recorded.FilterMessage("worker panic").Len())
}
