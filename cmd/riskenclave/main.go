// Copyright 2026 The riskenclave Authors
// This file is part of riskenclave.
//
// riskenclave is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// riskenclave is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with riskenclave. If not, see <http://www.gnu.org/licenses/>.

// riskenclave runs the attested analytics gateway and enclave service.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/riskenclave/riskenclave/internal/logging"
	"github.com/urfave/cli/v2"

	_ "go.uber.org/automaxprocs"
)

const version = "0.3.0"

var app = &cli.App{
	Name:                 "riskenclave",
	Usage:                "privacy-budgeted credit risk analytics with attested results",
	Version:              version,
	EnableBashCompletion: true,
	Flags:                append([]cli.Flag{configFileFlag}, logging.Flags...),
	Commands: []*cli.Command{
		gatewayCommand,
		enclaveCommand,
		verifyCommand,
		measureCommand,
		dumpConfigCommand,
	},
	Before: func(ctx *cli.Context) error {
		return logging.Setup(logging.FromCLI(ctx))
	},
	After: func(ctx *cli.Context) error {
		logging.Exit()
		return nil
	},
}

func main() {
	// A .env file next to the binary feeds the EnvVars of every flag.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Failed to load .env:", err)
		os.Exit(1)
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
