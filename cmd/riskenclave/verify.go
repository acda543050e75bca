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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/riskenclave/riskenclave/internal/attestation"
	"github.com/riskenclave/riskenclave/internal/config"
	"github.com/urfave/cli/v2"
)

var (
	nonceFlag = &cli.StringFlag{
		Name:  "nonce",
		Usage: "Request nonce to check the binding against (overrides requestNonce in the file)",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "Print the verification as JSON",
	}
	manifestFlag = &cli.StringFlag{
		Name:  "manifest",
		Usage: "Gramine manifest to read the pinned enclave parameters from",
	}
)

var verifyCommand = &cli.Command{
	Name:      "verify",
	Usage:     "Verify an attested result offline",
	ArgsUsage: "<job.json|->",
	Description: `
The input is a completed job as returned by GET /v1/jobs/{id}, or any JSON
object with "result", "attestation" and "requestNonce" members. The command
exits with status 1 unless the result verifies.`,
	Flags:  append([]cli.Flag{nonceFlag, jsonFlag}, verifierFlags...),
	Action: runVerify,
}

var measureCommand = &cli.Command{
	Name:      "measure",
	Usage:     "Print the measurements of a signed SGX enclave",
	ArgsUsage: "<enclave.sig>",
	Flags:     []cli.Flag{manifestFlag},
	Action:    runMeasure,
}

// attestedResult is the subset of a job needed for verification.
type attestedResult struct {
	Result       json.RawMessage       `json:"result"`
	Attestation  *attestation.Evidence `json:"attestation"`
	RequestNonce string                `json:"requestNonce"`
}

func readAttested(path string) (*attestedResult, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var res attestedResult
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if len(res.Result) == 0 || res.Attestation == nil {
		return nil, errors.New("input has no result or attestation; is the job completed?")
	}
	return &res, nil
}

func runVerify(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("need exactly one input file")
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	verifier, err := newVerifier(&cfg.Verifier)
	if err != nil {
		return err
	}
	res, err := readAttested(ctx.Args().First())
	if err != nil {
		return err
	}
	nonceHex := res.RequestNonce
	if ctx.IsSet(nonceFlag.Name) {
		nonceHex = ctx.String(nonceFlag.Name)
	}
	nonce, err := attestation.ParseNonce(nonceHex)
	if err != nil {
		return err
	}

	timeout := cfg.Verifier.OracleTimeout.Duration
	if timeout <= 0 {
		timeout = attestation.DefaultOracleTimeout
	}
	vctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
	defer cancel()
	v := verifier.VerifyEvidence(vctx, res.Attestation, res.Result, nonce)

	if ctx.Bool(jsonFlag.Name) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return err
		}
	} else {
		printVerification(res.Attestation, v)
	}
	if !v.Verified {
		return cli.Exit("", 1)
	}
	return nil
}

func printVerification(e *attestation.Evidence, v *attestation.Verification) {
	fmt.Printf("Signer:   %s\n", e.SigningAddress)
	fmt.Printf("TEE:      %s\n", e.TEEType)
	fmt.Printf("Nonce:    %s\n", e.Nonce)
	fmt.Println()
	printCheck("Quote", v.Details.TDXQuote)
	printCheck("Binding", v.Details.ReportDataBinding)
	printCheck("Signature", v.Details.ResultSignature)
	fmt.Println()
	if v.Verified {
		color.New(color.FgGreen, color.Bold).Println("✓ VERIFIED")
	} else {
		color.New(color.FgRed, color.Bold).Println("✗ NOT VERIFIED")
	}
}

func printCheck(name string, c attestation.Check) {
	var status string
	switch c.Status {
	case attestation.StatusPassed:
		status = color.GreenString("%-14s", c.Status)
	case attestation.StatusFailed:
		status = color.RedString("%-14s", c.Status)
	default:
		status = color.YellowString("%-14s", c.Status)
	}
	line := fmt.Sprintf("  %-10s %s", name, status)
	if c.Source != "" {
		line += " " + c.Source
	}
	if c.Error != nil {
		line += fmt.Sprintf(" (%s: %s)", c.Error.Kind, c.Error.Message)
	}
	fmt.Println(line)
}

func runMeasure(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("need the enclave .sig file")
	}
	sig, err := attestation.ReadSigstruct(ctx.Args().First())
	if err != nil {
		return err
	}
	mrsigner := sig.MRSigner()
	fmt.Printf("MRENCLAVE:  %x\n", sig.MREnclave)
	fmt.Printf("MRSIGNER:   %x\n", mrsigner)
	fmt.Printf("ISVPRODID:  %d\n", sig.ISVProdID)
	fmt.Printf("ISVSVN:     %d\n", sig.ISVSVN)
	if err := sig.VerifySignature(); err != nil {
		color.Red("✗ %v", err)
		return cli.Exit("", 1)
	}
	color.Green("✓ sigstruct signature valid")

	if file := ctx.String(manifestFlag.Name); file != "" {
		p, err := config.ReadManifestPinned(file)
		if err != nil {
			return err
		}
		fmt.Println("\nPinned parameters:")
		printPinned(config.PinnedQuoterEnv, p.Quoter)
		printPinned(config.PinnedReleaseRawEnv, p.ReleaseRaw)
		printPinned(config.PinnedDeltaEnv, p.Delta)
	}
	fmt.Printf("\n[Verifier]\nAllowedMeasurements = [\"%x\"]\n", sig.MREnclave)
	return nil
}

func printPinned[T any](name string, v *T) {
	if v == nil {
		fmt.Printf("  %-32s %s\n", name, color.YellowString("not pinned"))
		return
	}
	fmt.Printf("  %-32s %v\n", name, *v)
}
