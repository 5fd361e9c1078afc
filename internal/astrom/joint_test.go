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

// buildLinearScenario returns a single-exposure, single-chip grid of
// observations generated from a known linear forward plate model
// (coeffTrue), plus a perturbed starting guess (coeffGuess) sharing the
// same Poly basis. Mirrors spec.md §8 Scenario A (identity plate) and
// Scenario B (known scale), in the sense that the true model here is
// exactly representable by the fitted basis, so a correctly assembled
// weighted-least-squares solve must recover it exactly in one linear
// pass.
func buildLinearScenario(t *testing.T) (matchVec []*obs.Obs, coeffTrue, coeffGuess *poly.Coeff, chip *obs.ChipGeometry) {
	t.Helper()

	p, err := poly.New(1)
	if err != nil {
		t.Fatalf("poly.New: %v", err)
	}

	coeffTrue = poly.NewCoeff("exp1", p)
	coeffTrue.A = []float64{2e-4, 3e-5}
	coeffTrue.B = []float64{2e-5, 2.5e-4}

	coeffGuess = poly.NewCoeff("exp1", p)
	coeffGuess.A = []float64{1.8e-4, 1e-5}
	coeffGuess.B = []float64{1e-5, 2.2e-4}

	chip = obs.NewChipGeometry(0, 0, 1)

	for i := -2; i <= 2; i++ {
		for j := -2; j <= 2; j++ {
			pixX, pixY := float64(i)*10, float64(j)*10
			u, v := chip.PixelToFocal(pixX, pixY)
			xiTrue, etaTrue := coeffTrue.Forward(u, v)
			ra, dec := plate.InverseGnomonic(xiTrue, etaTrue, coeffTrue.RA, coeffTrue.Dec)

			o := obs.NewObs("exp1", "chip1", "")
			o.PixX, o.PixY = pixX, pixY
			o.RA, o.Dec = ra, dec
			o.SigX, o.SigY = 1, 1
			matchVec = append(matchVec, o)
		}
	}
	return matchVec, coeffTrue, coeffGuess, chip
}

func TestJointFitRecoversLinearPlate(t *testing.T) {
	matchVec, coeffTrue, coeffGuess, chip := buildLinearScenario(t)

	coeffs := map[poly.ExposureID]*poly.Coeff{"exp1": coeffGuess}
	chips := obs.NewCcdSet()
	chips.Add("chip1", chip)

	RemapAll(matchVec, coeffs, chips)

	cfg := JointConfig{NCoeff: 2, SolveCcd: false, AllowRotation: false, WithStars: false, CatRMS: 0}
	stats, err := JointFit([]obs.ExposureID{"exp1"}, []obs.ChipID{"chip1"}, coeffs, chips, nil, matchVec, nil, cfg)
	if err != nil {
		t.Fatalf("JointFit: %v", err)
	}
	if len(stats) != NumOuterIterations {
		t.Fatalf("got %d iteration stats, want %d", len(stats), NumOuterIterations)
	}

	const tol = 1e-9
	for k := range coeffTrue.A {
		if diff := math.Abs(coeffGuess.A[k] - coeffTrue.A[k]); diff > tol {
			t.Errorf("A[%d]: got %g, want %g (diff %g)", k, coeffGuess.A[k], coeffTrue.A[k], diff)
		}
		if diff := math.Abs(coeffGuess.B[k] - coeffTrue.B[k]); diff > tol {
			t.Errorf("B[%d]: got %g, want %g (diff %g)", k, coeffGuess.B[k], coeffTrue.B[k], diff)
		}
	}

	for i, s := range stats {
		if s.Iteration != i {
			t.Errorf("stats[%d].Iteration = %d, want %d", i, s.Iteration, i)
		}
		if s.GoodCount+s.RejectCount != len(matchVec) {
			t.Errorf("stats[%d]: good+rejected = %d, want %d", i, s.GoodCount+s.RejectCount, len(matchVec))
		}
	}
	if stats[len(stats)-1].Chi2 > 1e-6 {
		t.Errorf("final chi2 = %g, want near zero for an exactly representable linear model", stats[len(stats)-1].Chi2)
	}
}

// buildTwoChipScenario returns a single-exposure, two-chip grid of
// observations generated from a known forward plate model and known true
// chip placements (centerTrue1/2, yawTrue1/2), together with a CcdSet
// seeded at a perturbed starting guess (centers shifted, yaw reset to
// zero). The exposure's own polynomial coefficients are left at their
// true values, so any residual the solver removes must come from the
// chip placement block, isolating chip-offset and chip-rotation recovery
// from exposure-polynomial recovery. Mirrors spec.md §8 Scenario C (chip
// offset) and Scenario D (chip yaw).
func buildTwoChipScenario(t *testing.T, yawTrue1, yawTrue2 float64) (matchVec []*obs.Obs, coeffTrue *poly.Coeff, chips *obs.CcdSet, trueCenters map[obs.ChipID][2]float64) {
	t.Helper()

	p, err := poly.New(1)
	if err != nil {
		t.Fatalf("poly.New: %v", err)
	}
	coeffTrue = poly.NewCoeff("exp1", p)
	coeffTrue.A = []float64{2e-4, 3e-5}
	coeffTrue.B = []float64{2e-5, 2.5e-4}

	trueCenters = map[obs.ChipID][2]float64{
		"chip1": {0, 0},
		"chip2": {300, 0},
	}
	trueYaw := map[obs.ChipID]float64{"chip1": yawTrue1, "chip2": yawTrue2}
	guessOffset := map[obs.ChipID][2]float64{
		"chip1": {3, -2},
		"chip2": {-3, 5},
	}

	chips = obs.NewCcdSet()
	for _, id := range []obs.ChipID{"chip1", "chip2"} {
		trueGeom := obs.NewChipGeometry(trueCenters[id][0], trueCenters[id][1], 1)
		trueGeom.SetOrientation(trueYaw[id])

		for i := -2; i <= 2; i++ {
			for j := -2; j <= 2; j++ {
				pixX, pixY := float64(i)*10, float64(j)*10
				u, v := trueGeom.PixelToFocal(pixX, pixY)
				xiTrue, etaTrue := coeffTrue.Forward(u, v)
				ra, dec := plate.InverseGnomonic(xiTrue, etaTrue, coeffTrue.RA, coeffTrue.Dec)

				o := obs.NewObs("exp1", id, "")
				o.PixX, o.PixY = pixX, pixY
				o.RA, o.Dec = ra, dec
				o.SigX, o.SigY = 1, 1
				matchVec = append(matchVec, o)
			}
		}

		guessCenterX := trueCenters[id][0] + guessOffset[id][0]
		guessCenterY := trueCenters[id][1] + guessOffset[id][1]
		chips.Add(id, obs.NewChipGeometry(guessCenterX, guessCenterY, 1))
	}
	return matchVec, coeffTrue, chips, trueCenters
}

func TestJointFitRecoversChipOffsets(t *testing.T) {
	matchVec, coeffTrue, chips, trueCenters := buildTwoChipScenario(t, 0, 0)

	coeffs := map[poly.ExposureID]*poly.Coeff{"exp1": coeffTrue}
	RemapAll(matchVec, coeffs, chips)

	cfg := JointConfig{NCoeff: 2, SolveCcd: true, AllowRotation: false, WithStars: false, CatRMS: 0}
	stats, err := JointFit([]obs.ExposureID{"exp1"}, []obs.ChipID{"chip1", "chip2"}, coeffs, chips, nil, matchVec, nil, cfg)
	if err != nil {
		t.Fatalf("JointFit: %v", err)
	}
	if len(stats) != NumOuterIterations {
		t.Fatalf("got %d iteration stats, want %d", len(stats), NumOuterIterations)
	}

	const tol = 1e-4
	for id, want := range trueCenters {
		geom := chips.Get(id)
		if diff := math.Abs(geom.CenterX - want[0]); diff > tol {
			t.Errorf("%s.CenterX: got %g, want %g (diff %g)", id, geom.CenterX, want[0], diff)
		}
		if diff := math.Abs(geom.CenterY - want[1]); diff > tol {
			t.Errorf("%s.CenterY: got %g, want %g (diff %g)", id, geom.CenterY, want[1], diff)
		}
	}
	if stats[len(stats)-1].Chi2 > 1e-6 {
		t.Errorf("final chi2 = %g, want near zero for an exactly representable linear model", stats[len(stats)-1].Chi2)
	}
}

func TestJointFitRecoversChipYawWithZeroSumGauge(t *testing.T) {
	const yawTrue1, yawTrue2 = 0.01, -0.01 // sum to zero, consistent with the rotation gauge
	matchVec, coeffTrue, chips, _ := buildTwoChipScenario(t, yawTrue1, yawTrue2)

	coeffs := map[poly.ExposureID]*poly.Coeff{"exp1": coeffTrue}
	RemapAll(matchVec, coeffs, chips)

	initialYaw := make(map[obs.ChipID]float64, chips.Len())
	for _, id := range chips.Order() {
		g := chips.Get(id)
		initialYaw[id] = math.Atan2(g.SinYaw, g.CosYaw)
	}

	cfg := JointConfig{NCoeff: 2, SolveCcd: true, AllowRotation: true, WithStars: false, CatRMS: 0}
	stats, err := JointFit([]obs.ExposureID{"exp1"}, []obs.ChipID{"chip1", "chip2"}, coeffs, chips, nil, matchVec, nil, cfg)
	if err != nil {
		t.Fatalf("JointFit: %v", err)
	}
	if len(stats) != NumOuterIterations {
		t.Fatalf("got %d iteration stats, want %d", len(stats), NumOuterIterations)
	}

	wantYaw := map[obs.ChipID]float64{"chip1": yawTrue1, "chip2": yawTrue2}
	const tol = 1e-6
	var sumApplied float64
	for _, id := range chips.Order() {
		g := chips.Get(id)
		gotYaw := math.Atan2(g.SinYaw, g.CosYaw)
		if diff := math.Abs(gotYaw - wantYaw[id]); diff > tol {
			t.Errorf("%s yaw: got %g, want %g (diff %g)", id, gotYaw, wantYaw[id], diff)
		}
		sumApplied += gotYaw - initialYaw[id]
	}
	if math.Abs(sumApplied) > 1e-9 {
		t.Errorf("sum of applied rotation corrections = %g, want ~0 (gauge: sum of per-chip corrections is pinned to zero)", sumApplied)
	}
	if stats[len(stats)-1].Chi2 > 1e-6 {
		t.Errorf("final chi2 = %g, want near zero for an exactly representable linear model", stats[len(stats)-1].Chi2)
	}
}

func TestJointFitRejectionIsMonotonic(t *testing.T) {
	matchVec, _, coeffGuess, chip := buildLinearScenario(t)

	outlier := obs.NewObs("exp1", "chip1", "")
	outlier.PixX, outlier.PixY = 5, 5
	outlier.RA, outlier.Dec = 1e-4, 1e-4 // about 16 arcsec off the plate model's prediction at this pixel
	outlier.SigX, outlier.SigY = 1, 1
	matchVec = append(matchVec, outlier)

	coeffs := map[poly.ExposureID]*poly.Coeff{"exp1": coeffGuess}
	chips := obs.NewCcdSet()
	chips.Add("chip1", chip)
	RemapAll(matchVec, coeffs, chips)

	cfg := JointConfig{NCoeff: 2, SolveCcd: false, AllowRotation: false, WithStars: false, CatRMS: 0}
	stats, err := JointFit([]obs.ExposureID{"exp1"}, []obs.ChipID{"chip1"}, coeffs, chips, nil, matchVec, nil, cfg)
	if err != nil {
		t.Fatalf("JointFit: %v", err)
	}

	if outlier.Good {
		t.Fatalf("outlier observation should have been rejected")
	}
	for i := 1; i < len(stats); i++ {
		if stats[i].RejectCount < stats[i-1].RejectCount {
			t.Errorf("reject count decreased from iteration %d to %d: %d -> %d (rejection must be monotonic)",
				i-1, i, stats[i-1].RejectCount, stats[i].RejectCount)
		}
	}
}
