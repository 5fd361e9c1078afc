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

import "math"

// goldenSectionTol and maxOuterIterations are the contractual stopping
// conditions for the tangent-plane-center relocation search (spec.md §9):
// its convergence tolerance and iteration cap are fixed behavior, not
// tunables, so they are not exposed as JointConfig/constructor fields.
const (
	goldenSectionTol    = 0.01
	maxOuterIterations  = 20
)

var invPhi = (math.Sqrt(5) - 1) / 2

// goldenSectionMax1D finds, within [lo, hi], the point maximizing f via
// the classical golden-section search, shrinking the bracket until its
// width drops below tol.
func goldenSectionMax1D(f func(x float64) float64, lo, hi, tol float64) float64 {
	a, b := lo, hi
	if a > b {
		a, b = b, a
	}
	c := b - invPhi*(b-a)
	e := a + invPhi*(b-a)
	fc, fe := f(c), f(e)
	for b-a > tol {
		if fc > fe {
			b, e, fe = e, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, e, fe
			e = a + invPhi*(b-a)
			fe = f(e)
		}
	}
	return (a + b) / 2
}

// LocateJacobianMax searches near (u0, v0) for the focal-plane point
// maximizing coeff's forward-transform Jacobian determinant, alternating
// golden-section searches along u and v, starting from a bracket of
// halfWidth on each side and halving it every outer pass, per spec.md
// §9's contract: stop once both axes' step falls below 0.01 pixels, or
// after twenty outer iterations, whichever comes first. A candidate
// replaces the current coordinate only where it strictly raises the
// determinant, so a flat determinant leaves (u0, v0) unchanged.
func LocateJacobianMax(jacobian func(u, v float64) float64, u0, v0, halfWidth float64) (u, v float64) {
	u, v = u0, v0
	window := halfWidth
	for iter := 0; iter < maxOuterIterations; iter++ {
		newU := goldenSectionMax1D(func(x float64) float64 { return jacobian(x, v) }, u-window, u+window, goldenSectionTol)
		if jacobian(newU, v) <= jacobian(u, v) {
			newU = u
		}
		newV := goldenSectionMax1D(func(x float64) float64 { return jacobian(newU, x) }, v-window, v+window, goldenSectionTol)
		if jacobian(newU, newV) <= jacobian(newU, v) {
			newV = v
		}

		stepU, stepV := math.Abs(newU-u), math.Abs(newV-v)
		u, v = newU, newV
		window /= 2

		if stepU < goldenSectionTol && stepV < goldenSectionTol {
			break
		}
	}
	return u, v
}
