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

package orchestrate

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/plate"
	"github.com/skycal/mosaiccal/internal/poly"
)

// buildMosaicScenario returns a two-exposure, one-chip mosaic generated
// from a known linear plate model shared by both exposures, with
// instrumental magnitudes offset from a fixed catalog truth by a known
// per-exposure zeropoint. Mirrors spec.md §8's joint astrometric and
// photometric scenarios, chained end to end rather than exercised one
// solver at a time.
func buildMosaicScenario(t *testing.T) (wcsDic *obs.WcsDic, chips *obs.CcdSet, matchVec []*obs.Obs, fExpTrue map[obs.ExposureID]float64) {
	t.Helper()

	p, err := poly.New(1)
	if err != nil {
		t.Fatalf("poly.New: %v", err)
	}
	coeffTrue := poly.NewCoeff("exp1", p)
	coeffTrue.A = []float64{2e-4, 3e-5}
	coeffTrue.B = []float64{2e-5, 2.5e-4}

	chip := obs.NewChipGeometry(0, 0, 1)
	chips = obs.NewCcdSet()
	chips.Add("chip1", chip)

	wcsDic = obs.NewWcsDic()
	wcsDic.Add("exp1", &obs.Projection{RA: coeffTrue.RA, Dec: coeffTrue.Dec})
	wcsDic.Add("exp2", &obs.Projection{RA: coeffTrue.RA, Dec: coeffTrue.Dec})

	fExpTrue = map[obs.ExposureID]float64{"exp1": 0.1, "exp2": -0.05}
	const mTrue = 15.0

	for _, exp := range []obs.ExposureID{"exp1", "exp2"} {
		for i := -2; i <= 2; i++ {
			for j := -2; j <= 2; j++ {
				pixX, pixY := float64(i)*10, float64(j)*10
				u, v := chip.PixelToFocal(pixX, pixY)
				xiTrue, etaTrue := coeffTrue.Forward(u, v)
				ra, dec := plate.InverseGnomonic(xiTrue, etaTrue, coeffTrue.RA, coeffTrue.Dec)

				o := obs.NewObs(exp, "chip1", "")
				o.PixX, o.PixY = pixX, pixY
				o.RA, o.Dec = ra, dec
				o.SigX, o.SigY = 1, 1
				o.CatMag = obs.NewMag(mTrue, 0.01)
				o.MeasMag = obs.NewMag(mTrue-fExpTrue[exp], 0.01)
				matchVec = append(matchVec, o)
			}
		}
	}
	return wcsDic, chips, matchVec, fExpTrue
}

func TestRunRecoversAstrometryAndFlux(t *testing.T) {
	wcsDic, chips, matchVec, fExpTrue := buildMosaicScenario(t)

	cfg := Config{
		PolyOrder:    1,
		SolveCcd:     false,
		FitFlux:      true,
		FluxOrder:    1,
		FluxAbsolute: true,
	}

	result, err := Run(wcsDic, chips, matchVec, nil, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.JointStats) != 3 {
		t.Fatalf("got %d joint iterations, want 3", len(result.JointStats))
	}
	if last := result.JointStats[len(result.JointStats)-1]; last.Chi2 > 1e-4 {
		t.Errorf("final astrometric chi2 = %g, want near zero for an exactly representable linear model", last.Chi2)
	}

	for _, exp := range []obs.ExposureID{"exp1", "exp2"} {
		c := result.Coeffs[poly.ExposureID(exp)]
		if c == nil {
			t.Fatalf("missing coefficients for exposure %s", exp)
		}
	}

	if want := []poly.ExposureID{"exp1", "exp2"}; len(result.Exposures) != len(want) {
		t.Fatalf("got %d exposures, want %d", len(result.Exposures), len(want))
	} else {
		for i, e := range want {
			if result.Exposures[i] != e {
				t.Errorf("Exposures[%d] = %s, want %s (input order must be preserved)", i, result.Exposures[i], e)
			}
		}
	}

	if result.Flux == nil {
		t.Fatalf("expected a flux result")
	}
	const tol = 1e-3
	for exp, want := range fExpTrue {
		got, ok := result.Flux.FExp[exp]
		if !ok {
			t.Fatalf("missing FExp for exposure %s", exp)
		}
		if diff := math.Abs(got - want); diff > tol {
			t.Errorf("FExp[%s] = %g, want %g (diff %g)", exp, got, want, diff)
		}
	}
	if got := result.Flux.FChip["chip1"]; math.Abs(got) > tol {
		t.Errorf("FChip[chip1] = %g, want near zero (single-chip gauge pin)", got)
	}
}

func TestRunWritesPerIterationSnapshots(t *testing.T) {
	wcsDic, chips, matchVec, _ := buildMosaicScenario(t)

	dir := t.TempDir()
	cfg := Config{PolyOrder: 1, SnapshotDir: dir}

	if _, err := Run(wcsDic, chips, matchVec, nil, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for iter := 0; iter < 3; iter++ {
		path := filepath.Join(dir, fmt.Sprintf("iter_%d_matches.bin", iter))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected snapshot file %s: %v", path, err)
		}
	}
}
