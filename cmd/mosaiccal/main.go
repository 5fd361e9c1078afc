// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skycal/mosaiccal/internal/logx"
	"github.com/skycal/mosaiccal/internal/orchestrate"
	"github.com/skycal/mosaiccal/internal/restapi"
)

const version = "0.1.0"

var log = flag.String("log", "%auto", "mirror log output to `file`. %auto replaces the input's suffix with .log")

var polyOrder = flag.Int("polyOrder", 3, "order of the astrometric forward/inverse SIP polynomial")
var solveCcd = flag.Bool("solveCcd", true, "solve for per-chip placement corrections")
var allowRotation = flag.Bool("allowRotation", true, "solve for per-chip rotation corrections")
var withStars = flag.Bool("withStars", false, "jointly solve internally tracked stars' sky positions and magnitudes")
var catRMS = flag.Float64("catRms", 0, "catalog position RMS, degrees in the tangent plane, added in quadrature to each match's own error")

var fitFlux = flag.Bool("fitFlux", false, "run photometric self-calibration after the astrometric fit")
var fluxOrder = flag.Int("fluxOrder", 2, "order of the flux field polynomial")
var fluxAbsolute = flag.Bool("fluxAbsolute", false, "anchor flux zeropoints to catalog magnitudes instead of self-consistency")
var fluxChebyshev = flag.Bool("fluxChebyshev", false, "use a Chebyshev basis for the flux field polynomial instead of monomials")

var snapshotDir = flag.String("snapshotDir", "", "write per-iteration match/source tables to `dir`, empty to disable")

var input = flag.String("in", "", "read a fit request from `file` (JSON, see restapi.FitRequest)")
var output = flag.String("out", "", "write the fit response to `file` (JSON, see restapi.FitResponse); default stdout")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `mosaiccal, a mosaic astrometric and photometric self-calibration engine
Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (fit|serve|version)

Commands:
  fit      Run the self-calibration pipeline once against -in and write -out
  serve    Run the JSON fitting service
  version  Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *log == "%auto" {
		if *input != "" {
			*log = strings.TrimSuffix(*input, filepath.Ext(*input)) + ".log"
		} else {
			*log = ""
		}
	}
	if *log != "" {
		if err := logx.AlsoToFile(*log); err != nil {
			fmt.Fprintf(os.Stderr, "unable to open logfile %q: %v\n", *log, err)
			os.Exit(1)
		}
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	start := time.Now()
	var err error

	switch args[0] {
	case "serve":
		restapi.Serve()

	case "fit":
		err = runFit()

	case "version":
		fmt.Printf("Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		logx.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}
	logx.Printf("\nDone after %v\n", time.Since(start))
	logx.Sync()
}

// runFit reads a restapi.FitRequest from -in (or stdin if unset), runs the
// pipeline, and writes a restapi.FitResponse to -out (or stdout if unset).
func runFit() error {
	var in *os.File
	if *input == "" {
		in = os.Stdin
	} else {
		f, err := os.Open(*input)
		if err != nil {
			return fmt.Errorf("opening %s: %w", *input, err)
		}
		defer f.Close()
		in = f
	}

	var req restapi.FitRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decoding fit request: %w", err)
	}

	req.PolyOrder = orDefault(req.PolyOrder, *polyOrder)
	req.FluxOrder = orDefault(req.FluxOrder, *fluxOrder)
	if !req.SolveCcd {
		req.SolveCcd = *solveCcd
	}
	if !req.AllowRotation {
		req.AllowRotation = *allowRotation
	}
	if !req.WithStars {
		req.WithStars = *withStars
	}
	if req.CatRMS == 0 {
		req.CatRMS = *catRMS
	}
	if !req.FitFlux {
		req.FitFlux = *fitFlux
	}
	if !req.FluxAbsolute {
		req.FluxAbsolute = *fluxAbsolute
	}
	if !req.FluxChebyshev {
		req.FluxChebyshev = *fluxChebyshev
	}

	wcsDic, chips, matchVec, sourceVec := req.ToOrchestrateInputs()
	cfg := req.ToConfig()
	cfg.SnapshotDir = *snapshotDir

	result, err := orchestrate.Run(wcsDic, chips, matchVec, sourceVec, cfg)
	if err != nil {
		return fmt.Errorf("running fit: %w", err)
	}

	resp := restapi.NewFitResponse(result)

	var out *os.File
	if *output == "" {
		out = os.Stdout
	} else {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", *output, err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
