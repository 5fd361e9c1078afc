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

// Package flux implements the photometric self-calibration solver of
// spec.md §4.4: exposure and chip zeropoints, a field-dependent flux
// polynomial, and per-star true magnitudes, fit against catalog
// magnitudes (absolute mode) or self-consistently against the repeated
// measurements themselves (relative mode), with gauge-fixing Lagrange
// multipliers and sigma-clipped outlier rejection.
package flux

import (
	"github.com/skycal/mosaiccal/internal/logx"
	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/poly"
)

// Layout assigns dense row offsets to every unknown block of the flux
// normal-equations system: per-exposure zeropoints, per-chip zeropoints,
// the field polynomial's coefficients (k >= 3 only), per-star true
// magnitudes, and the gauge-fixing Lagrange multiplier(s).
type Layout struct {
	Absolute bool

	Exposures []obs.ExposureID
	ExpOffset map[obs.ExposureID]int

	Chips      []obs.ChipID
	ChipOffset map[obs.ChipID]int

	FieldCoeffs  int // number of free field-polynomial coefficients (k >= 3)
	PCoeffOffset int // -1 if FieldCoeffs == 0

	// Stars lists the stars that get a free m_star unknown: every star
	// with >= 2 good magnitude observations in relative mode; only
	// internal-only stars (no catalog-matched observation) in absolute
	// mode, per spec.md §4.4.
	Stars      []obs.StarID
	StarOffset map[obs.StarID]int

	PinStarOffset      int // Lagrange row pinning Stars[0] to zero; -1 if unused (relative mode only, and only if len(Stars) > 0)
	SumChipGaugeOffset int // Lagrange row pinning Σ f_chip to zero; -1 if no chips

	Size int
}

// BuildLayout inspects matchVec (and sourceVec, if withStars) to assign
// offsets for every estimable block, dropping exposures/chips with no
// good magnitude observations and stars with fewer than two.
func BuildLayout(exposures []obs.ExposureID, chips []obs.ChipID, params *poly.FluxFitParams, absolute, withStars bool, matchVec, sourceVec []*obs.Obs) *Layout {
	l := &Layout{
		Absolute:     absolute,
		ExpOffset:    make(map[obs.ExposureID]int),
		ChipOffset:   make(map[obs.ChipID]int),
		StarOffset:   make(map[obs.StarID]int),
		PinStarOffset: -1,
		PCoeffOffset: -1,
	}

	expCount := make(map[obs.ExposureID]int)
	chipCount := make(map[obs.ChipID]int)
	starCount := make(map[obs.StarID]int)
	starHasCatalog := make(map[obs.StarID]bool)

	all := matchVec
	if withStars {
		all = append(append([]*obs.Obs(nil), matchVec...), sourceVec...)
	}
	for _, o := range all {
		if !o.Good || !o.MeasMag.Valid {
			continue
		}
		expCount[o.Exposure]++
		chipCount[o.Chip]++
		if o.Star != "" {
			starCount[o.Star]++
			if o.CatMag.Valid {
				starHasCatalog[o.Star] = true
			}
		}
	}

	offset := 0
	for _, e := range exposures {
		if expCount[e] == 0 {
			logx.Printf("flux: exposure %s has no good magnitude observations; dropping its zeropoint\n", e)
			continue
		}
		l.Exposures = append(l.Exposures, e)
		l.ExpOffset[e] = offset
		offset++
	}

	for _, c := range chips {
		if chipCount[c] == 0 {
			logx.Printf("flux: chip %s has no good magnitude observations; dropping its zeropoint\n", c)
			continue
		}
		l.Chips = append(l.Chips, c)
		l.ChipOffset[c] = offset
		offset++
	}

	if fc := params.NCoeff() - 3; fc > 0 {
		l.FieldCoeffs = fc
		l.PCoeffOffset = offset
		offset += fc
	}

	if withStars {
		seen := make(map[obs.StarID]bool)
		starSource := func(o *obs.Obs) {
			if o.Star == "" || seen[o.Star] || starCount[o.Star] < 2 {
				return
			}
			seen[o.Star] = true
			if absolute && starHasCatalog[o.Star] {
				// Anchored to the catalog directly; no free m_star unknown.
				return
			}
			l.Stars = append(l.Stars, o.Star)
			l.StarOffset[o.Star] = offset
			offset += 1
		}
		for _, o := range matchVec {
			starSource(o)
		}
		for _, o := range sourceVec {
			starSource(o)
		}
	}

	if !absolute && len(l.Stars) > 0 {
		l.PinStarOffset = offset
		offset++
	}
	l.SumChipGaugeOffset = -1
	if len(l.Chips) > 0 {
		l.SumChipGaugeOffset = offset
		offset++
	}

	l.Size = offset
	return l
}

// ExpIncluded reports whether exposure e survived pruning.
func (l *Layout) ExpIncluded(e obs.ExposureID) (offset int, ok bool) {
	offset, ok = l.ExpOffset[e]
	return offset, ok
}

// ChipIncluded reports whether chip c survived pruning.
func (l *Layout) ChipIncluded(c obs.ChipID) (offset int, ok bool) {
	offset, ok = l.ChipOffset[c]
	return offset, ok
}

// StarIncluded reports whether star s has a free m_star unknown.
func (l *Layout) StarIncluded(s obs.StarID) (offset int, ok bool) {
	offset, ok = l.StarOffset[s]
	return offset, ok
}
