//go:build unix

package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/utils"
	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"
)

func main() {
	wrapper := NewCliWrapper()
	if err := wrapper.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var (
	flagHost = &cli.StringFlag{
		Name:    "host",
		Aliases: []string{"h"},
		Value:   "127.0.0.1",
		Usage:   "server host name.",
		EnvVars: []string{consts.Host},
	}
	flagPort = &cli.Int64Flag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   8014,
		Usage:   "server port number, 0 < port < 65535 are available.",
		Action: func(c *cli.Context, port int64) error {
			if port <= 0 || port > 65535 {
				return errors.New("invalid params")
			}
			return nil
		},
		EnvVars: []string{consts.Port},
	}
	flagTimeout = &cli.DurationFlag{
		Name:    "timeout",
		Aliases: []string{"t"},
		Value:   3 * time.Second,
		Usage:   "how long to wait for the echo.",
	}
)

type CliWrapper struct {
	app *cli.App
}

func NewCliWrapper() *CliWrapper {
	wrapper := &CliWrapper{
		app: &cli.App{
			Name:    "eggie_epoll_client",
			Usage:   "interactive client for the eggie_epoll echo server",
			Version: "0.0.1.240520_alpha",
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *CliWrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *CliWrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
}

func (wrapper *CliWrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagHost,
		flagPort,
		flagTimeout,
	}
}

func (wrapper *CliWrapper) withAction() {
	wrapper.app.Action = func(ctx *cli.Context) error {
		addr := net.JoinHostPort(ctx.String(flagHost.Name), fmt.Sprint(ctx.Int64(flagPort.Name)))
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return err
		}
		defer conn.Close()

		historyPath := filepath.Join(consts.HistoryDir, fmt.Sprintf("cmd_history_%s", time.Now().Format("20060102")))
		history, err := utils.CheckAndCreateFile(historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0660)
		if err != nil {
			return err
		}
		_ = history.Close()

		input, err := readline.NewEx(&readline.Config{
			Prompt: "> ",
			AutoComplete: readline.NewPrefixCompleter(
				readline.PcItem(consts.DefaultQuitCommand),
			),
			HistoryFile: historyPath,
		})
		if err != nil {
			return err
		}
		defer input.Close()
		input.CaptureExitSignal()

		fmt.Println(utils.WrapInfo("connected to %s", conn.RemoteAddr()))
		buf := make([]byte, 64*consts.KB)
		for {
			str, err := input.Readline()
			if err != nil {
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return nil
				}
				fmt.Println(utils.WrapError("%v", err))
				continue
			}
			if strings.EqualFold(str, "exit") {
				return nil
			}
			if str == "" {
				continue
			}

			if _, err = conn.Write([]byte(str + "\n")); err != nil {
				fmt.Println(utils.WrapError("send failed: %v", err))
				return nil
			}
			_ = conn.SetReadDeadline(time.Now().Add(ctx.Duration(flagTimeout.Name)))
			n, err := conn.Read(buf)
			if err != nil {
				if errors.Is(err, io.EOF) {
					fmt.Println(utils.WrapWarn("server closed the connection"))
					return nil
				}
				fmt.Println(utils.WrapError("receive failed: %v", err))
				continue
			}
			fmt.Println(utils.WrapReply("%s", strings.TrimRight(string(buf[:n]), "\n")))
		}
	}
}

func (wrapper *CliWrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}
