package utils

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// HandlePanic is deferred by goroutines that must not take the process down.
// fn runs after a recovered panic has been logged.
func HandlePanic(logger *zap.Logger, fn func()) {
	if r := recover(); r != nil {
		logger.Error("recovered from panic", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
	}

	if fn != nil {
		fn()
	}
}

// PanicHandler adapts HandlePanic's logging to gopool.Pool.SetPanicHandler.
func PanicHandler(logger *zap.Logger) func(context.Context, interface{}) {
	return func(_ context.Context, r interface{}) {
		logger.Error("worker panic", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
	}
}
