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

package flux

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/skycal/mosaiccal/internal/logx"
	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/poly"
	"github.com/skycal/mosaiccal/internal/solve"
)

// NumSolves is the fixed number of solves the flux fit runs: one initial
// solve plus two sigma-clipping reject-and-resolve cycles, per spec.md
// §4.4.
const NumSolves = 3

// deltaMClipPasses is the number of 3-sigma clipping passes run over the
// catalog-tie residuals before averaging them into the final Δm, per
// spec.md §4.4's relative-mode final adjustment.
const deltaMClipPasses = 2

// deltaMClipSigma is the clipping threshold for the final Δm adjustment.
const deltaMClipSigma = 3.0

// Config bundles the flux solver's structural options.
type Config struct {
	Absolute  bool
	WithStars bool
}

// Result is the flux fit's output: one zeropoint per exposure and chip,
// the fitted field-polynomial coefficients, one true magnitude per free
// star, and (relative mode only) the catalog-tie adjustment that was
// folded into FExp and MStar.
type Result struct {
	FExp   map[obs.ExposureID]float64
	FChip  map[obs.ChipID]float64
	PCoeff []float64
	MStar  map[obs.StarID]float64
	DeltaM float64
}

// SolveStats summarizes one solve's fit quality.
type SolveStats struct {
	Solve       int
	GoodCount   int
	RejectCount int
	Chi2        float64
}

// Fit runs the photometric self-calibration solver of spec.md §4.4 to
// completion: NumSolves solves with sigma-clipping rejection between
// them (Good is only ever cleared, never restored), and, in relative
// mode, a final Δm adjustment tying the relative zeropoints to the
// catalog scale.
func Fit(exposures []obs.ExposureID, chips []obs.ChipID, params *poly.FluxFitParams, cfg Config, matchVec, sourceVec []*obs.Obs) (*Result, []SolveStats, error) {
	var l *Layout
	var x *mat.VecDense
	stats := make([]SolveStats, 0, NumSolves)

	for i := 0; i < NumSolves; i++ {
		l = BuildLayout(exposures, chips, params, cfg.Absolute, cfg.WithStars, matchVec, sourceVec)
		if l.Size == 0 {
			return nil, stats, fmt.Errorf("flux: solve %d: no estimable blocks remain", i)
		}

		d, err := solve.New(l.Size)
		if err != nil {
			return nil, stats, err
		}

		assembleOne := func(o *obs.Obs) {
			row, ok := buildRow(o, l, params)
			if !ok {
				return
			}
			solve.Accumulate(d, row)
		}
		for _, o := range matchVec {
			assembleOne(o)
		}
		if cfg.WithStars {
			for _, o := range sourceVec {
				assembleOne(o)
			}
		}

		addGaugeConstraints(d, l)

		x, err = d.Solve()
		if err != nil {
			solve.Release(d)
			return nil, stats, err
		}
		solve.Release(d)

		st := rejectOutliers(matchVec, sourceVec, l, params, x, cfg)
		st.Solve = i
		logx.Printf("flux: solve %d: %d good, %d rejected, chi2=%.3f\n", i, st.GoodCount, st.RejectCount, st.Chi2)
		if n := len(stats); n > 0 && st.Chi2 > stats[n-1].Chi2 {
			logx.Printf("flux: solve %d: chi2 increased from %.3f to %.3f, continuing\n", i, stats[n-1].Chi2, st.Chi2)
		}
		stats = append(stats, st)
	}

	result := extractResult(l, x)

	if !cfg.Absolute {
		result.DeltaM = computeDeltaM(matchVec, sourceVec, cfg, result)
		applyDeltaM(result, result.DeltaM)
	}

	return result, stats, nil
}

// addGaugeConstraints augments d with the Lagrange-multiplier rows and
// columns that remove the flux system's gauge freedom: pinning the first
// free star's magnitude to zero (relative mode only, generalizing
// astrom's rotation-sum constraint to a single-variable pin) and pinning
// the sum of chip zeropoints to zero (both modes), per spec.md §4.4.
func addGaugeConstraints(d *solve.Dense, l *Layout) {
	if l.PinStarOffset >= 0 && len(l.Stars) > 0 {
		pinned := l.StarOffset[l.Stars[0]]
		d.AddA(pinned, l.PinStarOffset, 1)
		d.AddA(l.PinStarOffset, pinned, 1)
	}
	if l.SumChipGaugeOffset >= 0 {
		for _, c := range l.Chips {
			chipOffset := l.ChipOffset[c]
			d.AddA(chipOffset, l.SumChipGaugeOffset, 1)
			d.AddA(l.SumChipGaugeOffset, chipOffset, 1)
		}
	}
}

// rejectOutliers scores every currently-good observation's weighted
// squared residual against the just-solved x, against
// poly.Chi2Threshold, and clears Good on the ones that exceed it.
func rejectOutliers(matchVec, sourceVec []*obs.Obs, l *Layout, params *poly.FluxFitParams, x *mat.VecDense, cfg Config) SolveStats {
	var st SolveStats

	scoreOne := func(o *obs.Obs) {
		row, ok := buildRow(o, l, params)
		if !ok {
			return
		}
		r := rowResidual(row, x)
		chi2 := row.Weight * r * r
		st.Chi2 += chi2
		if chi2 > poly.Chi2Threshold {
			o.Good = false
			st.RejectCount++
			return
		}
		st.GoodCount++
	}

	for _, o := range matchVec {
		scoreOne(o)
	}
	if cfg.WithStars {
		for _, o := range sourceVec {
			scoreOne(o)
		}
	}
	return st
}

// extractResult reads the solved vector x into a Result keyed by the
// sparse identifiers l assigned offsets to.
func extractResult(l *Layout, x *mat.VecDense) *Result {
	r := &Result{
		FExp:  make(map[obs.ExposureID]float64, len(l.Exposures)),
		FChip: make(map[obs.ChipID]float64, len(l.Chips)),
		MStar: make(map[obs.StarID]float64, len(l.Stars)),
	}
	for _, e := range l.Exposures {
		r.FExp[e] = x.AtVec(l.ExpOffset[e])
	}
	for _, c := range l.Chips {
		r.FChip[c] = x.AtVec(l.ChipOffset[c])
	}
	if l.FieldCoeffs > 0 {
		r.PCoeff = make([]float64, l.FieldCoeffs)
		for k := 0; k < l.FieldCoeffs; k++ {
			r.PCoeff[k] = x.AtVec(l.PCoeffOffset + k)
		}
	}
	for _, s := range l.Stars {
		r.MStar[s] = x.AtVec(l.StarOffset[s])
	}
	return r
}

// deltaSample is one catalog-tie residual and its inverse-variance
// weight, used by computeDeltaM.
type deltaSample struct {
	residual float64
	weight   float64
}

// computeDeltaM implements spec.md §4.4's relative-mode final
// adjustment: the inverse-variance-weighted mean of (m_cat − m_star[s])
// over catalog-matched rows whose star carries a fitted m_star, with two
// 3-sigma clipping passes before the final average.
func computeDeltaM(matchVec, sourceVec []*obs.Obs, cfg Config, result *Result) float64 {
	var samples []deltaSample
	collect := func(o *obs.Obs) {
		if !o.CatMag.Valid || o.CatMag.Err <= 0 || o.Star == "" {
			return
		}
		m, ok := result.MStar[o.Star]
		if !ok {
			return
		}
		samples = append(samples, deltaSample{
			residual: o.CatMag.Value - m,
			weight:   1 / (o.CatMag.Err * o.CatMag.Err),
		})
	}
	for _, o := range matchVec {
		collect(o)
	}
	if cfg.WithStars {
		for _, o := range sourceVec {
			collect(o)
		}
	}
	if len(samples) == 0 {
		return 0
	}

	for pass := 0; pass < deltaMClipPasses; pass++ {
		mean, sigma := weightedMeanAndSigma(samples)
		if sigma == 0 {
			break
		}
		kept := samples[:0:0]
		for _, s := range samples {
			if math.Abs(s.residual-mean) <= deltaMClipSigma*sigma {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			break
		}
		samples = kept
	}

	mean, _ := weightedMeanAndSigma(samples)
	return mean
}

// weightedMeanAndSigma returns the inverse-variance-weighted mean and
// weighted standard deviation of samples.
func weightedMeanAndSigma(samples []deltaSample) (mean, sigma float64) {
	var sumW, sumWX float64
	for _, s := range samples {
		sumW += s.weight
		sumWX += s.weight * s.residual
	}
	if sumW == 0 {
		return 0, 0
	}
	mean = sumWX / sumW
	var sumWSq float64
	for _, s := range samples {
		d := s.residual - mean
		sumWSq += s.weight * d * d
	}
	return mean, math.Sqrt(sumWSq / sumW)
}

// applyDeltaM adds deltaM to every exposure zeropoint and every fitted
// star magnitude, tying the relative solution to the absolute catalog
// scale.
func applyDeltaM(result *Result, deltaM float64) {
	for e := range result.FExp {
		result.FExp[e] += deltaM
	}
	for s := range result.MStar {
		result.MStar[s] += deltaM
	}
}
