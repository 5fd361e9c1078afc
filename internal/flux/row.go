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
	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/poly"
	"github.com/skycal/mosaiccal/internal/solve"
)

// buildRow assembles observation o's linear equation against the flux
// layout l, per spec.md §4.4's magnitude model
//
//	m_obs = m_true(s) − f_exp[j] − f_chip[c] − P(u,v)
//
// rearranged so every unknown sits on the equation's left-hand side:
//
//	f_exp + f_chip + P(u,v) [− m_star] = m_true_fixed − m_obs   [or −m_obs]
//
// m_true is the star's fixed catalog magnitude when the observation is
// catalog-anchored (absolute mode, o.CatMag valid); f_exp, f_chip and
// P(u,v) all enter the model directly and so keep their positive
// coefficient, while a free m_star[s] sits on the opposite side of the
// equation from them and so enters with coefficient −1 — the same
// g = ∂model/∂p − ∂target/∂p convention used throughout the astrometric
// assembler.
func buildRow(o *obs.Obs, l *Layout, params *poly.FluxFitParams) (row solve.Row, ok bool) {
	if !o.Good || !o.MeasMag.Valid || o.MeasMag.Err <= 0 {
		return solve.Row{}, false
	}
	expOffset, ok := l.ExpIncluded(o.Exposure)
	if !ok {
		return solve.Row{}, false
	}
	chipOffset, ok := l.ChipIncluded(o.Chip)
	if !ok {
		return solve.Row{}, false
	}

	entries := make([]solve.Entry, 0, l.FieldCoeffs+3)
	entries = append(entries,
		solve.Entry{Offset: expOffset, Coeff: 1},
		solve.Entry{Offset: chipOffset, Coeff: 1},
	)

	if l.FieldCoeffs > 0 {
		basis := make([]float64, l.FieldCoeffs)
		params.BasisField(o.U, o.V, basis)
		for k, b := range basis {
			entries = append(entries, solve.Entry{Offset: l.PCoeffOffset + k, Coeff: b})
		}
	}

	isAnchored := l.Absolute && o.CatMag.Valid

	residual := -o.MeasMag.Value
	sigmaCat2 := 0.0
	if isAnchored {
		residual += o.CatMag.Value
		sigmaCat2 = o.CatMag.Err * o.CatMag.Err
	} else {
		starOffset, ok := l.StarIncluded(o.Star)
		if !ok {
			return solve.Row{}, false
		}
		entries = append(entries, solve.Entry{Offset: starOffset, Coeff: -1})
	}

	weight := 1.0 / (o.MeasMag.Err*o.MeasMag.Err + sigmaCat2)
	return solve.Row{Entries: entries, Weight: weight, Residual: residual}, true
}

// rowResidual evaluates row's linearized prediction g·x against its
// target and returns the signed difference, for chi-squared scoring
// after a solve.
func rowResidual(row solve.Row, x rowVector) float64 {
	pred := 0.0
	for _, e := range row.Entries {
		pred += e.Coeff * x.AtVec(e.Offset)
	}
	return pred - row.Residual
}

// rowVector is the minimal interface rowResidual needs from a solved
// gonum vector, so this file does not have to import gonum/mat directly.
type rowVector interface {
	AtVec(i int) float64
}
