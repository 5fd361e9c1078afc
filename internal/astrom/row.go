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
	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/poly"
	"github.com/skycal/mosaiccal/internal/solve"
)

// residualAndWeight computes the forward-model residual (ax, ay) against
// coeff's current forward polynomial, and the inverse-variance weights
// (wx, wy) from the propagated pixel-coordinate uncertainty, per
// spec.md §4.3. catRMS is folded in as additional variance, except for
// internal star observations (isStarObs), whose positions are solved for
// directly rather than taken from a noisy external catalog.
func residualAndWeight(o *obs.Obs, coeff *poly.Coeff, catRMS float64, isStarObs bool) (ax, ay, wx, wy, bx, cx, by, cy float64) {
	u, v := o.U, o.V
	uu, vv := u+coeff.X0, v+coeff.Y0

	bx, cx, by, cy = coeff.ForwardGrad(u, v)

	ax = o.Xi - coeff.P.Eval(coeff.A, uu, vv)
	ay = o.Eta - coeff.P.Eval(coeff.B, uu, vv)

	effectiveCatRMS := catRMS
	if isStarObs {
		effectiveCatRMS = 0
	}
	wx = 1.0 / ((bx*o.SigX+cx*o.SigY)*(bx*o.SigX+cx*o.SigY) + effectiveCatRMS*effectiveCatRMS)
	wy = 1.0 / ((by*o.SigX+cy*o.SigY)*(by*o.SigX+cy*o.SigY) + effectiveCatRMS*effectiveCatRMS)
	return ax, ay, wx, wy, bx, cx, by, cy
}

// buildRows linearizes one good observation into its xi- and eta-axis
// rows, per spec.md §4.3: the Ax/Ay residuals against the exposure's
// current forward model, weighted by the propagated pixel-coordinate
// inverse variance, with columns for the exposure's polynomial
// coefficients, the observation's chip placement (if solveCcd), the
// rotation gradient (if allowRotation), and the observation's star
// position (if it is a source observation included in the layout).
func buildRows(o *obs.Obs, coeff *poly.Coeff, l *Layout, catRMS float64, isStarObs bool) (xiRow, etaRow solve.Row, ok bool) {
	expOffset, ok := l.ExpIncluded(o.Exposure)
	if !ok {
		return solve.Row{}, solve.Row{}, false
	}

	u, v := o.U, o.V
	uu, vv := u+coeff.X0, v+coeff.Y0

	basis := make([]float64, l.NCoeff)
	coeff.P.Basis(uu, vv, basis)

	ax, ay, wx, wy, bx, cx, by, cy := residualAndWeight(o, coeff, catRMS, isStarObs)

	xiEntries := make([]solve.Entry, 0, l.NCoeff+4)
	etaEntries := make([]solve.Entry, 0, l.NCoeff+4)
	for k := 0; k < l.NCoeff; k++ {
		xiEntries = append(xiEntries, solve.Entry{Offset: expOffset + k, Coeff: basis[k]})
		etaEntries = append(etaEntries, solve.Entry{Offset: expOffset + l.NCoeff + k, Coeff: basis[k]})
	}

	if l.SolveCcd {
		// The chip-translation unknowns (dx, dy) are solved directly in
		// focal-plane units, matching ChipGeometry.ShiftCenter's own
		// focal-plane contract, so applyCorrections passes them through
		// unconverted.
		if chipOffset, ok := l.ChipIncluded(o.Chip); ok {
			xiEntries = append(xiEntries, solve.Entry{Offset: chipOffset + 0, Coeff: bx}, solve.Entry{Offset: chipOffset + 1, Coeff: cx})
			etaEntries = append(etaEntries, solve.Entry{Offset: chipOffset + 0, Coeff: by}, solve.Entry{Offset: chipOffset + 1, Coeff: cy})
			if l.AllowRotation && l.ChipDOF == 3 {
				dx := -o.V0*bx + o.U0*cx
				dy := -o.V0*by + o.U0*cy
				xiEntries = append(xiEntries, solve.Entry{Offset: chipOffset + 2, Coeff: dx})
				etaEntries = append(etaEntries, solve.Entry{Offset: chipOffset + 2, Coeff: dy})
			}
		}
	}

	if isStarObs {
		if starOffset, ok := l.StarIncluded(o.Star); ok {
			xiEntries = append(xiEntries, solve.Entry{Offset: starOffset + 0, Coeff: -o.XiA}, solve.Entry{Offset: starOffset + 1, Coeff: -o.XiD})
			etaEntries = append(etaEntries, solve.Entry{Offset: starOffset + 0, Coeff: -o.EtaA}, solve.Entry{Offset: starOffset + 1, Coeff: -o.EtaD})
		}
	}

	xiRow = solve.Row{Entries: xiEntries, Weight: wx, Residual: ax}
	etaRow = solve.Row{Entries: etaEntries, Weight: wy, Residual: ay}
	return xiRow, etaRow, true
}
