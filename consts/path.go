package consts

import (
	"fmt"

	"github.com/mitchellh/go-homedir"
)

func init() {
	home, _ := homedir.Dir()
	BaseDir = fmt.Sprintf("%s/eggie_epoll", home)
	DefaultConfigPath = fmt.Sprintf("%s/config", BaseDir)
	HistoryDir = fmt.Sprintf("%s/history", BaseDir)
}

var (
	BaseDir           string
	DefaultConfigPath string
	HistoryDir        string
)
