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

package astrom

import (
	"math"
	"testing"

	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/plate"
	"github.com/skycal/mosaiccal/internal/poly"
)

// buildInitialFitScenario returns one exposure's worth of observations
// generated from a known linear plate model centered at (raTrue, decTrue),
// with focal-plane coordinates already populated from pixel coordinates
// via chip, the way a caller must populate them before FitExposureInitial
// ever looks at o.U/o.V.
func buildInitialFitScenario(t *testing.T) (obsForExp []*obs.Obs, coeffTrue *poly.Coeff, chip *obs.ChipGeometry) {
	t.Helper()

	p, err := poly.New(1)
	if err != nil {
		t.Fatalf("poly.New: %v", err)
	}

	coeffTrue = poly.NewCoeff("exp1", p)
	coeffTrue.A = []float64{2e-4, 3e-5}
	coeffTrue.B = []float64{2e-5, 2.5e-4}
	coeffTrue.RA, coeffTrue.Dec = 1.2, 0.3

	chip = obs.NewChipGeometry(0, 0, 1)

	for i := -3; i <= 3; i++ {
		for j := -3; j <= 3; j++ {
			pixX, pixY := float64(i)*10, float64(j)*10
			u, v := chip.PixelToFocal(pixX, pixY)
			xiTrue, etaTrue := coeffTrue.Forward(u, v)
			ra, dec := plate.InverseGnomonic(xiTrue, etaTrue, coeffTrue.RA, coeffTrue.Dec)

			o := obs.NewObs("exp1", "chip1", "")
			o.PixX, o.PixY = pixX, pixY
			o.U, o.V = chip.PixelToFocal(pixX, pixY)
			o.U0, o.V0 = chip.PixelToFocalUnshifted(pixX, pixY)
			o.RA, o.Dec = ra, dec
			o.SigX, o.SigY = 1, 1
			o.Good = true
			obsForExp = append(obsForExp, o)
		}
	}
	return obsForExp, coeffTrue, chip
}

func TestFitExposureInitialRecoversLinearPlate(t *testing.T) {
	obsForExp, coeffTrue, _ := buildInitialFitScenario(t)

	coeffGuess := poly.NewCoeff("exp1", coeffTrue.P)
	coeffGuess.RA, coeffGuess.Dec = coeffTrue.RA+1e-4, coeffTrue.Dec-1e-4

	if err := FitExposureInitial(coeffGuess, obsForExp); err != nil {
		t.Fatalf("FitExposureInitial: %v", err)
	}

	const tol = 1e-6
	for k := range coeffTrue.A {
		if diff := math.Abs(coeffGuess.A[k] - coeffTrue.A[k]); diff > tol {
			t.Errorf("A[%d]: got %g, want %g (diff %g)", k, coeffGuess.A[k], coeffTrue.A[k], diff)
		}
		if diff := math.Abs(coeffGuess.B[k] - coeffTrue.B[k]); diff > tol {
			t.Errorf("B[%d]: got %g, want %g (diff %g)", k, coeffGuess.B[k], coeffTrue.B[k], diff)
		}
	}
	if diff := math.Abs(coeffGuess.RA - coeffTrue.RA); diff > tol {
		t.Errorf("RA: got %g, want %g (diff %g)", coeffGuess.RA, coeffTrue.RA, diff)
	}
	if diff := math.Abs(coeffGuess.Dec - coeffTrue.Dec); diff > tol {
		t.Errorf("Dec: got %g, want %g (diff %g)", coeffGuess.Dec, coeffTrue.Dec, diff)
	}
	for _, o := range obsForExp {
		if !o.Good {
			t.Errorf("observation at pix (%g, %g) unexpectedly rejected", o.PixX, o.PixY)
		}
	}
}

func TestFitExposureInitialRejectsOutlier(t *testing.T) {
	obsForExp, coeffTrue, chip := buildInitialFitScenario(t)

	outlier := obs.NewObs("exp1", "chip1", "")
	outlier.PixX, outlier.PixY = 35, 35
	outlier.U, outlier.V = chip.PixelToFocal(outlier.PixX, outlier.PixY)
	outlier.U0, outlier.V0 = chip.PixelToFocalUnshifted(outlier.PixX, outlier.PixY)
	outlier.RA, outlier.Dec = coeffTrue.RA+0.5, coeffTrue.Dec+0.5 // far off the plate model
	outlier.SigX, outlier.SigY = 1, 1
	outlier.Good = true
	obsForExp = append(obsForExp, outlier)

	coeffGuess := poly.NewCoeff("exp1", coeffTrue.P)
	coeffGuess.RA, coeffGuess.Dec = coeffTrue.RA, coeffTrue.Dec

	if err := FitExposureInitial(coeffGuess, obsForExp); err != nil {
		t.Fatalf("FitExposureInitial: %v", err)
	}

	if outlier.Good {
		t.Errorf("outlier observation should have been rejected by the center fit's 9*sigma^2 threshold")
	}
}
