package logs

import (
	"github.com/Trinoooo/eggie_epoll/consts"
	"go.uber.org/zap"
)

// With returns a logger tagged with the owning component.
func With(component string, fields ...zap.Field) *zap.Logger {
	return Logger.With(append([]zap.Field{zap.String(consts.LogFieldComponent, component)}, fields...)...)
}

func Debug(msg string, fields ...zap.Field) {
	Logger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	Logger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Logger.Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Logger.Fatal(msg, fields...)
}
