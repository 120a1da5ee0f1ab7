// Package config wires bidigo's command-line flags, environment variables,
// and TOML configuration file together, the way the teacher's CLI entry
// point does for its own flags.
package config

import (
	"time"

	"github.com/rs/zerolog/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "bidigo"
	ConfigFileName = "config.toml"
)

const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultStartupTimeout = 30 * time.Second
)

// File returns the path to bidigo's configuration file, creating an empty
// one if it doesn't already exist.
func File() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		log.Fatal().Err(err).Caller().Send()
	}
	return altsrc.StringSourcer(path)
}

// Flags defines the CLI flags that configure the driver process and the
// protocol transport. These flags can also be set via environment
// variables and bidigo's configuration file.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "driver-path",
			Usage:    "path to the WebDriver BiDi driver binary to launch",
			Required: true,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("BIDIGO_DRIVER_PATH"),
				toml.TOML("driver.path", configFilePath),
			),
		},
		&cli.StringSliceFlag{
			Name:  "driver-arg",
			Usage: "extra command-line argument to pass to the driver binary (repeatable)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("BIDIGO_DRIVER_ARGS"),
				toml.TOML("driver.args", configFilePath),
			),
		},
		&cli.DurationFlag{
			Name:  "startup-timeout",
			Usage: "how long to wait for the driver to report readiness",
			Value: DefaultStartupTimeout,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("BIDIGO_STARTUP_TIMEOUT"),
				toml.TOML("driver.startup_timeout", configFilePath),
			),
		},
		&cli.DurationFlag{
			Name:  "command-timeout",
			Usage: "default timeout for a BiDi command's response",
			Value: DefaultCommandTimeout,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("BIDIGO_COMMAND_TIMEOUT"),
				toml.TOML("transport.command_timeout", configFilePath),
			),
		},
	}
}
