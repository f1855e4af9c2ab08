package logs

import (
	"github.com/Trinoooo/eggie_epoll/utils"
	"go.uber.org/zap"
)

var Logger *zap.Logger

func init() {
	var err error
	newLogger := utils.GetValueOnEnv(zap.NewProduction, zap.NewDevelopment)
	Logger, err = newLogger(zap.AddCaller())

	if err != nil {
		panic(err)
	}
}
