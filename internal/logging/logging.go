// Copyright 2026 The riskenclave Authors
// This file is part of the riskenclave library.
//
// The riskenclave library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The riskenclave library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the riskenclave library. If not, see <http://www.gnu.org/licenses/>.

// Package logging configures the process-wide logger from command line
// flags.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const category = "LOGGING"

var (
	VerbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:    3,
		EnvVars:  []string{"RISKENCLAVE_VERBOSITY"},
		Category: category,
	}
	VmoduleFlag = &cli.StringFlag{
		Name:     "log.vmodule",
		Usage:    "Per-module verbosity: comma-separated list of <pattern>=<level> (e.g. jobs/*=5,enclave=4)",
		Category: category,
	}
	FormatFlag = &cli.StringFlag{
		Name:     "log.format",
		Usage:    "Log format to use (terminal|logfmt|json)",
		Value:    "terminal",
		EnvVars:  []string{"RISKENCLAVE_LOG_FORMAT"},
		Category: category,
	}
	FileFlag = &cli.StringFlag{
		Name:     "log.file",
		Usage:    "Write logs to a file instead of stderr",
		Category: category,
	}
	RotateFlag = &cli.BoolFlag{
		Name:     "log.rotate",
		Usage:    "Enables log file rotation",
		Category: category,
	}
	MaxSizeFlag = &cli.IntFlag{
		Name:     "log.maxsize",
		Usage:    "Maximum size in MBs of a single log file",
		Value:    100,
		Category: category,
	}
	MaxBackupsFlag = &cli.IntFlag{
		Name:     "log.maxbackups",
		Usage:    "Maximum number of log files to retain",
		Value:    10,
		Category: category,
	}
	MaxAgeFlag = &cli.IntFlag{
		Name:     "log.maxage",
		Usage:    "Maximum number of days to retain a log file",
		Value:    30,
		Category: category,
	}
	CompressFlag = &cli.BoolFlag{
		Name:     "log.compress",
		Usage:    "Compress the log files",
		Value:    false,
		Category: category,
	}
)

// Flags holds all command-line flags required for logging.
var Flags = []cli.Flag{
	VerbosityFlag,
	VmoduleFlag,
	FormatFlag,
	FileFlag,
	RotateFlag,
	MaxSizeFlag,
	MaxBackupsFlag,
	MaxAgeFlag,
	CompressFlag,
}

// Config is the logger configuration.
type Config struct {
	Verbosity  int
	Vmodule    string
	Format     string
	File       string
	Rotate     bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FromCLI reads the logging flags.
func FromCLI(ctx *cli.Context) Config {
	return Config{
		Verbosity:  ctx.Int(VerbosityFlag.Name),
		Vmodule:    ctx.String(VmoduleFlag.Name),
		Format:     ctx.String(FormatFlag.Name),
		File:       ctx.String(FileFlag.Name),
		Rotate:     ctx.Bool(RotateFlag.Name),
		MaxSizeMB:  ctx.Int(MaxSizeFlag.Name),
		MaxBackups: ctx.Int(MaxBackupsFlag.Name),
		MaxAgeDays: ctx.Int(MaxAgeFlag.Name),
		Compress:   ctx.Bool(CompressFlag.Name),
	}
}

var logOutputFile io.WriteCloser

// Setup installs the root logger. Call Exit before the process ends to
// flush a log file.
func Setup(cfg Config) error {
	var (
		output   io.Writer = os.Stderr
		useColor           = false
	)
	if cfg.File != "" {
		if cfg.Rotate {
			logOutputFile = &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			}
		} else {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
			if err != nil {
				return err
			}
			logOutputFile = f
		}
		output = logOutputFile
	} else {
		useColor = (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
		if useColor {
			output = colorable.NewColorableStderr()
		}
	}

	handler, err := newHandler(cfg.Format, output, useColor)
	if err != nil {
		return err
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(log.FromLegacyLevel(cfg.Verbosity))
	if cfg.Vmodule != "" {
		if err := glogger.Vmodule(cfg.Vmodule); err != nil {
			return fmt.Errorf("invalid --%s: %w", VmoduleFlag.Name, err)
		}
	}
	log.SetDefault(log.NewLogger(glogger))
	return nil
}

func newHandler(format string, output io.Writer, useColor bool) (slog.Handler, error) {
	switch format {
	case "", "terminal":
		return log.NewTerminalHandler(output, useColor), nil
	case "logfmt":
		return log.LogfmtHandler(output), nil
	case "json":
		return log.JSONHandler(output), nil
	}
	return nil, fmt.Errorf("unknown log format: %q", format)
}

// Exit closes the log file, if any.
func Exit() {
	if logOutputFile != nil {
		logOutputFile.Close()
		logOutputFile = nil
	}
}
