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
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/skycal/mosaiccal/internal/logx"
	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/poly"
	"github.com/skycal/mosaiccal/internal/solve"
)

// NumOuterIterations is the fixed number of assemble/solve/apply/remap/
// reject cycles the joint fit runs. It is a contract, not a tunable:
// spec.md §9 pins it at three, so changing it would change the fit's
// convergence characteristics in a way callers have no way to detect.
const NumOuterIterations = 3

// JointConfig bundles the joint fit's structural options.
type JointConfig struct {
	NCoeff        int
	SolveCcd      bool
	AllowRotation bool
	WithStars     bool
	CatRMS        float64

	// OnIteration, if non-nil, is called after each outer iteration's
	// remap and rejection pass with that iteration's stats, matchVec,
	// and sourceVec in their post-rejection state. Used by callers that
	// snapshot per-iteration state to disk; JointFit itself never
	// touches disk.
	OnIteration func(stats IterationStats, matchVec, sourceVec []*obs.Obs)
}

// StarPosition is the current sky-position estimate for one internally
// solved star. It is refined in place across outer iterations and fed
// back into every Obs referencing it before each remap.
type StarPosition struct {
	RA, Dec float64
}

// IterationStats summarizes one outer iteration's fit quality.
type IterationStats struct {
	Iteration   int
	GoodCount   int
	RejectCount int
	Chi2        float64
}

// JointFit runs the joint astrometric refinement over exposures and
// chipList (both in a caller-fixed, stable order) for NumOuterIterations
// cycles: assemble the sparse normal-equations system from every good
// observation in matchVec (and sourceVec, if cfg.WithStars), solve it,
// apply the correction to each exposure's Coeff, each chip's placement,
// and (if cfg.WithStars) each star's sky position, remap every
// observation's focal- and tangent-plane coordinates from the updated
// state, and reject observations whose scaled squared residual exceeds
// poly.Chi2Threshold. Good is only ever cleared, never restored, so
// rejection is monotonic across iterations.
func JointFit(
	exposures []obs.ExposureID,
	chipList []obs.ChipID,
	coeffs map[poly.ExposureID]*poly.Coeff,
	chips *obs.CcdSet,
	stars map[obs.StarID]*StarPosition,
	matchVec, sourceVec []*obs.Obs,
	cfg JointConfig,
) ([]IterationStats, error) {
	stats := make([]IterationStats, 0, NumOuterIterations)

	for iter := 0; iter < NumOuterIterations; iter++ {
		l := BuildLayout(exposures, chipList, cfg.NCoeff, cfg.SolveCcd, cfg.AllowRotation, cfg.WithStars, matchVec, sourceVec)
		if l.Size == 0 {
			return stats, fmt.Errorf("astrom: outer iteration %d: no estimable blocks remain", iter)
		}

		d, err := solve.New(l.Size)
		if err != nil {
			return stats, err
		}

		assembleOne := func(o *obs.Obs, isStarObs bool) {
			if !o.Good {
				return
			}
			c := coeffs[poly.ExposureID(o.Exposure)]
			if c == nil {
				return
			}
			xiRow, etaRow, ok := buildRows(o, c, l, cfg.CatRMS, isStarObs)
			if !ok {
				return
			}
			solve.Accumulate(d, xiRow)
			solve.Accumulate(d, etaRow)
		}
		for _, o := range matchVec {
			assembleOne(o, false)
		}
		if cfg.WithStars {
			for _, o := range sourceVec {
				assembleOne(o, true)
			}
		}

		addRotationGaugeConstraint(d, l)

		x, err := d.Solve()
		if err != nil {
			solve.Release(d)
			return stats, err
		}

		applyCorrections(x, l, coeffs, chips, stars)
		solve.Release(d)

		propagateStarPositions(sourceVec, stars)
		RemapAll(matchVec, coeffs, chips)
		if cfg.WithStars {
			RemapAll(sourceVec, coeffs, chips)
		}

		it := rejectOutliers(matchVec, sourceVec, coeffs, cfg)
		it.Iteration = iter
		logx.Printf("astrom: outer iteration %d: %d good, %d rejected, chi2=%.3f\n", iter, it.GoodCount, it.RejectCount, it.Chi2)
		if n := len(stats); n > 0 && it.Chi2 > stats[n-1].Chi2 {
			logx.Printf("astrom: outer iteration %d: chi2 increased from %.3f to %.3f, continuing\n", iter, stats[n-1].Chi2, it.Chi2)
		}
		stats = append(stats, it)

		if cfg.OnIteration != nil {
			cfg.OnIteration(it, matchVec, sourceVec)
		}
	}

	return stats, nil
}

// addRotationGaugeConstraint augments the system with the Lagrange-
// multiplier row/column that pins the sum of per-chip rotation
// corrections to zero, per spec.md §4.3's gauge-fixing requirement: a
// global rotation is otherwise degenerate with each exposure's own
// tangent-plane orientation, and the unconstrained system would be
// singular. No-op if rotation is not being solved for.
func addRotationGaugeConstraint(d *solve.Dense, l *Layout) {
	if l.RotOffset < 0 {
		return
	}
	for _, c := range l.Chips {
		chipOffset := l.ChipOffset[c]
		rotCol := chipOffset + 2
		d.AddA(rotCol, l.RotOffset, 1)
		d.AddA(l.RotOffset, rotCol, 1)
	}
}

// applyCorrections reads the solved correction vector x and applies it to
// every included exposure's forward polynomial, every included chip's
// placement, and every included star's sky-position estimate. The
// chip-translation unknowns (dx, dy) were solved directly in focal-plane
// units, matching ChipGeometry.ShiftCenter's own contract, so they are
// passed through unconverted.
func applyCorrections(
	x *mat.VecDense,
	l *Layout,
	coeffs map[poly.ExposureID]*poly.Coeff,
	chips *obs.CcdSet,
	stars map[obs.StarID]*StarPosition,
) {
	for _, e := range l.Exposures {
		c := coeffs[poly.ExposureID(e)]
		if c == nil {
			continue
		}
		base := l.ExpOffset[e]
		for k := 0; k < l.NCoeff; k++ {
			c.A[k] += x.AtVec(base + k)
			c.B[k] += x.AtVec(base + l.NCoeff + k)
		}
	}

	if l.SolveCcd {
		for _, ch := range l.Chips {
			geom := chips.Get(ch)
			if geom == nil {
				continue
			}
			base := l.ChipOffset[ch]
			dx, dy := x.AtVec(base+0), x.AtVec(base+1)
			geom.ShiftCenter(dx, dy)
			if l.ChipDOF == 3 {
				geom.AdvanceYaw(x.AtVec(base + 2))
			}
		}
	}

	for _, s := range l.Stars {
		sp, ok := stars[s]
		if !ok {
			continue
		}
		base := l.StarOffset[s]
		sp.RA += x.AtVec(base + 0)
		sp.Dec += x.AtVec(base + 1)
	}
}

// propagateStarPositions copies each refined star position back into
// every source observation referencing it, so the next remap computes
// Xi/Eta and their partials from the updated sky position rather than the
// position the star had when it was first detected.
func propagateStarPositions(sourceVec []*obs.Obs, stars map[obs.StarID]*StarPosition) {
	for _, o := range sourceVec {
		if o.Star == "" {
			continue
		}
		sp, ok := stars[o.Star]
		if !ok {
			continue
		}
		o.RA, o.Dec = sp.RA, sp.Dec
	}
}

// rejectOutliers scores every currently-good observation's scaled squared
// residual against poly.Chi2Threshold on each axis independently, records
// its forward-model prediction and residual in XiFit/EtaFit and
// ResidXi/ResidEta, and clears Good on the ones that exceed it. It returns
// the good count, the rejected count (every scanned observation that is bad
// after this pass, including those rejected earlier), and the summed
// chi-squared measured before any rejection in this call, so the reported
// Chi2 reflects the fit this iteration actually produced.
func rejectOutliers(matchVec, sourceVec []*obs.Obs, coeffs map[poly.ExposureID]*poly.Coeff, cfg JointConfig) IterationStats {
	var st IterationStats

	scoreOne := func(o *obs.Obs, isStarObs bool) {
		if !o.Good {
			st.RejectCount++
			return
		}
		c := coeffs[poly.ExposureID(o.Exposure)]
		if c == nil {
			return
		}
		ax, ay, wx, wy, _, _, _, _ := residualAndWeight(o, c, cfg.CatRMS, isStarObs)
		o.XiFit, o.EtaFit = o.Xi-ax, o.Eta-ay
		o.ResidXi, o.ResidEta = ax, ay
		chi2x, chi2y := wx*ax*ax, wy*ay*ay
		st.Chi2 += chi2x + chi2y
		if chi2x > poly.Chi2Threshold || chi2y > poly.Chi2Threshold {
			o.Good = false
			st.RejectCount++
			return
		}
		st.GoodCount++
	}

	for _, o := range matchVec {
		scoreOne(o, false)
	}
	if cfg.WithStars {
		for _, o := range sourceVec {
			scoreOne(o, true)
		}
	}
	return st
}
