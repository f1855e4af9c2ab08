//go:build linux

package main

import (
	"os"

	"github.com/Trinoooo/eggie_epoll/cli"
	"github.com/Trinoooo/eggie_epoll/logs"
	"go.uber.org/zap"
)

func main() {
	wrapper := cli.NewWrapper()
	if err := wrapper.Run(os.Args); err != nil {
		logs.Fatal("echo server exit", zap.Error(err))
	}
}
