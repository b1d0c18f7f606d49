// Command taskpool runs an adaptive worker pool under synthetic load and
// serves its statistics and Prometheus metrics over HTTP.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/vnykmshr/taskpool/pkg/logging"
)

func main() {
	app := &cli.App{
		Name:  "taskpool",
		Usage: "adaptive worker pool with deadline timers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"TASKPOOL_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "log format (text, json)",
				EnvVars: []string{"TASKPOOL_LOG_FORMAT"},
			},
		},
		Before: func(c *cli.Context) error {
			logger := newLogger(c)
			// GOMAXPROCS decides the default worker count, so fix it first.
			if _, err := maxprocs.Set(maxprocs.Logger(logger.Debugf)); err != nil {
				logger.WithError(err).Warn("failed to set GOMAXPROCS")
			}
			c.App.Metadata = map[string]interface{}{"logger": logger}
			return nil
		},
		Commands: []*cli.Command{
			runCommand(),
			inspectCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) *logrus.Logger {
	cfg := logging.Load()
	cfg.Level = logging.ParseLevel(c.String("log-level"))
	cfg.Format = strings.ToLower(c.String("log-format"))
	return logging.New(cfg)
}

func loggerFrom(c *cli.Context) *logrus.Logger {
	if logger, ok := c.App.Metadata["logger"].(*logrus.Logger); ok {
		return logger
	}
	return newLogger(c)
}
