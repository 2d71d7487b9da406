// Command fpmbridgectl is the admin tool for operating and exercising a
// bridge instance outside of a real Lambda invocation: start/stop/status
// the worker runtime, or invoke it directly with a synthetic HTTP event.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/faas-bridge/fpm-bridge/bridgeconfig"
	"github.com/faas-bridge/fpm-bridge/bridgelog"
	"github.com/faas-bridge/fpm-bridge/fcgibridge"
	"github.com/faas-bridge/fpm-bridge/supervisor"
	"github.com/faas-bridge/fpm-bridge/translate"
)

var log = logrus.New()

func main() {
	app := &cli.App{
		Name:                 "fpmbridgectl",
		Usage:                "Admin tool for the PHP-FPM/FastCGI Lambda bridge",
		UsageText:            "fpmbridgectl COMMAND [ARG...]",
		EnableBashCompletion: true,
		HideVersion:          true,
		Commands: []*cli.Command{
			startCommand(),
			stopCommand(),
			statusCommand(),
			invokeCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to a bridge config YAML file overriding the fixed defaults",
}

func loadConfig(ctx *cli.Context) (*bridgeconfig.Config, error) {
	return bridgeconfig.Load(ctx.String("config"))
}

// startCommand corresponds to the "start" command of the admin tool.
func startCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "spawn the worker runtime and block until it is ready or failed",
		UsageText: "fpmbridgectl start [--config=PATH]",
		Flags:     []cli.Flag{configFlag},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			sup := supervisor.New(toSupervisorConfig(cfg), bridgelog.Default(os.Stderr))
			if err := sup.Start(); err != nil {
				return err
			}
			log.Infof("worker ready: socket=%s", sup.SocketPath())
			return nil
		},
	}
}

// stopCommand corresponds to the "stop" command of the admin tool. Unlike
// Supervisor.Stop (which tears down a child this same process spawned),
// fpmbridgectl never holds the *exec.Cmd — it only has the pid file — so
// it signals and polls directly, mirroring the admin tool's pid-file-then-
// signal shape for a process it didn't start itself.
func stopCommand() *cli.Command {
	return &cli.Command{
		Name:      "stop",
		Usage:     "stop a running worker runtime",
		UsageText: "fpmbridgectl stop [--config=PATH]",
		Flags:     []cli.Flag{configFlag},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			pidBytes, err := os.ReadFile(cfg.PidPath)
			if err != nil {
				return fmt.Errorf("read pid file %s: %w", cfg.PidPath, err)
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
			if err != nil {
				return fmt.Errorf("pid file %s does not contain a pid: %w", cfg.PidPath, err)
			}
			log.Infof("stopping worker pid=%d", pid)

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}

			deadline := time.Now().Add(cfg.StopGrace)
			for {
				if _, err := os.Stat(cfg.SocketPath); errors.Is(err, os.ErrNotExist) {
					break
				}
				if time.Now().After(deadline) {
					return fmt.Errorf("worker did not release socket %s within %s", cfg.SocketPath, cfg.StopGrace)
				}
				time.Sleep(cfg.ReclaimPollInterval)
			}

			_ = os.Remove(cfg.PidPath)
			log.Info("worker stopped")
			return nil
		},
	}
}

// statusCommand corresponds to the "status" command of the admin tool.
func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "report whether the socket and pid file are present",
		UsageText: "fpmbridgectl status [--config=PATH]",
		Flags:     []cli.Flag{configFlag},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			_, socketErr := os.Stat(cfg.SocketPath)
			_, pidErr := os.Stat(cfg.PidPath)
			fmt.Printf("socket %s: %s\n", cfg.SocketPath, presence(socketErr))
			fmt.Printf("pid file %s: %s\n", cfg.PidPath, presence(pidErr))
			return nil
		},
	}
}

func presence(err error) string {
	if err == nil {
		return "present"
	}
	return "absent"
}

// invokeCommand corresponds to the "invoke" command of the admin tool.
func invokeCommand() *cli.Command {
	return &cli.Command{
		Name:      "invoke",
		Usage:     "run a synthetic HTTP event through a live bridge and print the response",
		UsageText: "fpmbridgectl invoke [--config=PATH] --path=/hello [--method=GET] [--header=k:v]... [--body=...]",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{Name: "method", Value: "GET"},
			&cli.StringFlag{Name: "path", Value: "/"},
			&cli.StringSliceFlag{Name: "header", Usage: "repeatable, format key:value"},
			&cli.StringFlag{Name: "body"},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			requestID := uuid.New().String()
			log.Infof("invoking with synthetic requestId=%s", requestID)

			bridge := fcgibridge.New(cfg, bridgelog.Default(os.Stderr), os.Stderr)
			if err := bridge.Start(); err != nil {
				return err
			}
			defer bridge.Stop()

			event := translate.HttpRequestEvent{
				Method:  ctx.String("method"),
				URI:     ctx.String("path"),
				Path:    ctx.String("path"),
				Headers: parseHeaderFlags(ctx.StringSlice("header")),
				Body:    []byte(ctx.String("body")),
			}
			invocation := translate.Context{
				AWSRequestID: requestID,
				DeadlineMs:   time.Now().Add(30 * time.Second).UnixMilli(),
			}

			resp, err := bridge.HandleRequest(event, invocation)
			if err != nil {
				return err
			}

			fmt.Printf("status: %d\n", resp.Status)
			for name, v := range resp.Headers {
				if v.IsMulti {
					fmt.Printf("%s: %s\n", name, strings.Join(v.Multi, ", "))
					continue
				}
				fmt.Printf("%s: %s\n", name, v.Single)
			}
			fmt.Printf("\n%s\n", resp.Body)
			return nil
		},
	}
}

func parseHeaderFlags(raw []string) map[string][]string {
	headers := map[string][]string{}
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		headers[name] = append(headers[name], value)
	}
	return headers
}

func toSupervisorConfig(cfg *bridgeconfig.Config) supervisor.Config {
	return supervisor.Config{
		SocketPath:            cfg.SocketPath,
		PidPath:               cfg.PidPath,
		ConfigPath:            cfg.ConfigPath,
		BinaryPath:            cfg.WorkerBinary,
		Stderr:                os.Stderr,
		ReadinessPollInterval: cfg.ReadinessPollInterval,
		ReadinessTimeout:      cfg.ReadinessTimeout,
		ReclaimPollInterval:   cfg.ReclaimPollInterval,
		ReclaimTimeout:        cfg.ReclaimTimeout,
		StopGrace:             cfg.StopGrace,
	}
}
