package utils

import (
	"os"

	"github.com/Trinoooo/eggie_epoll/consts"
)

func Env() string {
	return os.Getenv(consts.Env)
}

func IsTest() bool {
	return Env() == "test"
}

func GetValueOnEnv[T any](prod, test T) T {
	if IsTest() {
		return test
	}
	return prod
}
