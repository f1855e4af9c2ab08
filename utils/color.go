package utils

import "fmt"

const (
	ERROR = "\033[1;31;40m[ERROR] %s\033[0m"
	WARN  = "\033[1;33;40m[WARN] %s\033[0m"
	INFO  = "\033[1;34;40m[INFO] %s\033[0m"
	REPLY = "\033[1;32;40m<< %s\033[0m"
)

func colorize(layout, format string, args ...any) string {
	return fmt.Sprintf(layout, fmt.Sprintf(format, args...))
}

func WrapError(format string, args ...any) string {
	return colorize(ERROR, format, args...)
}

func WrapWarn(format string, args ...any) string {
	return colorize(WARN, format, args...)
}

func WrapInfo(format string, args ...any) string {
	return colorize(INFO, format, args...)
}

// WrapReply marks bytes echoed back by a server.
func WrapReply(format string, args ...any) string {
	return colorize(REPLY, format, args...)
}
