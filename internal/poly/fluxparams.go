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

package poly

import "math"

// FluxFitParams is a bivariate polynomial used to model spatial flux
// variation, in either monomial or Chebyshev-of-the-first-kind basis,
// including the constant term (unlike Poly, which omits it).
type FluxFitParams struct {
	Order     int
	Chebyshev bool
	Absolute  bool // catalog-anchored (true) vs. self-consistency (false)

	Coeff []float64 // length NCoeff(), constant term first

	UMax, VMax float64 // normalization scales
	X0, Y0     float64 // offsets
}

// NewFluxFitParams allocates a zeroed FluxFitParams of the given order.
func NewFluxFitParams(order int, chebyshev, absolute bool, uMax, vMax, x0, y0 float64) *FluxFitParams {
	f := &FluxFitParams{
		Order:     order,
		Chebyshev: chebyshev,
		Absolute:  absolute,
		UMax:      uMax,
		VMax:      vMax,
		X0:        x0,
		Y0:        y0,
	}
	f.Coeff = make([]float64, f.NCoeff())
	return f
}

// NCoeff returns the number of basis functions including the constant:
// (order+1)(order+2)/2.
func (f *FluxFitParams) NCoeff() int {
	return (f.Order+1)*(f.Order+2)/2
}

// exponents returns the (xorder, yorder) pair for basis index k, in the
// same triangular order as Poly but with the constant (0,0) prepended.
func (f *FluxFitParams) exponents(k int) (x, y int) {
	if k == 0 {
		return 0, 0
	}
	rem := k - 1
	for total := 1; total <= f.Order; total++ {
		width := total + 1
		if rem < width {
			return total - rem, rem
		}
		rem -= width
	}
	return 0, 0
}

// normalize maps focal-plane (u, v) to the polynomial's normalized domain.
func (f *FluxFitParams) normalize(u, v float64) (nu, nv float64) {
	return (u - f.X0) / f.UMax, (v - f.Y0) / f.VMax
}

// Eval evaluates the full flux correction P(u,v) at focal-plane
// coordinates (u, v), summing every basis term including the constant and
// the two linear terms; EvalField is the variant that skips them.
func (f *FluxFitParams) Eval(u, v float64) float64 {
	return f.evalFrom(u, v, 0)
}

// EvalField evaluates only the field-dependent part used by the flux
// solver, i.e. basis indices k >= 3 (skipping constant and the two linear
// terms).
func (f *FluxFitParams) EvalField(u, v float64) float64 {
	return f.evalFrom(u, v, 3)
}

// BasisField evaluates every field-dependent basis function (indices
// k >= 3) at focal-plane coordinates (u, v) into dst, which must have
// length NCoeff()-3. Used by the flux assembler to build the design
// columns for p_coeff without exposing the private basis enumeration.
func (f *FluxFitParams) BasisField(u, v float64, dst []float64) {
	nu, nv := f.normalize(u, v)
	for k := 3; k < len(f.Coeff); k++ {
		dst[k-3] = f.basisMonomial(k, nu, nv)
	}
}

func (f *FluxFitParams) evalFrom(u, v float64, skipBelow int) float64 {
	nu, nv := f.normalize(u, v)
	sum := 0.0
	for k := skipBelow; k < len(f.Coeff); k++ {
		sum += f.Coeff[k] * f.basisMonomial(k, nu, nv)
	}
	return sum
}

func (f *FluxFitParams) basisMonomial(k int, nu, nv float64) float64 {
	x, y := f.exponents(k)
	if f.Chebyshev {
		return chebyshevT(x, nu) * chebyshevT(y, nv)
	}
	return ipow(nu, x) * ipow(nv, y)
}

// chebyshevT evaluates the Chebyshev polynomial of the first kind T_n(x)
// via the standard three-term recurrence.
func chebyshevT(n int, x float64) float64 {
	if n == 0 {
		return 1
	}
	if n == 1 {
		return x
	}
	tPrev, t := 1.0, x
	for i := 2; i <= n; i++ {
		tPrev, t = t, 2*x*t-tPrev
	}
	return t
}

// Clone returns a monomial-basis copy of f. If f is in Chebyshev form, the
// Chebyshev coefficients are expanded into their equivalent monomial
// coefficients; the returned copy always has Chebyshev = false. The
// conversion is a side effect of copying: there is no separate conversion
// method, and no way to copy a Chebyshev-basis FluxFitParams unchanged.
func (f *FluxFitParams) Clone() *FluxFitParams {
	out := &FluxFitParams{
		Order:     f.Order,
		Chebyshev: f.Chebyshev,
		Absolute:  f.Absolute,
		UMax:      f.UMax,
		VMax:      f.VMax,
		X0:        f.X0,
		Y0:        f.Y0,
		Coeff:     append([]float64(nil), f.Coeff...),
	}
	if f.Chebyshev {
		out.Coeff = f.toMonomialCoeff()
		out.Chebyshev = false
	}
	return out
}

// toMonomialCoeff expands the Chebyshev-basis coefficients into equivalent
// monomial-basis coefficients, term by term: each T_x(u)*T_y(v) expands
// into a sum of u^i*v^j via the Chebyshev-to-power-basis expansion.
func (f *FluxFitParams) toMonomialCoeff() []float64 {
	n := f.NCoeff()
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		c := f.Coeff[k]
		if c == 0 {
			continue
		}
		x, y := f.exponents(k)
		xPow := chebyshevToPower(x)
		yPow := chebyshevToPower(y)
		for i, cx := range xPow {
			if cx == 0 {
				continue
			}
			for j, cy := range yPow {
				if cy == 0 {
					continue
				}
				idx := f.GetIndexForExponents(i, j)
				if idx >= 0 {
					out[idx] += c * cx * cy
				}
			}
		}
	}
	return out
}

// GetIndexForExponents returns the basis index of exponent pair (i,j), or
// -1 if i+j exceeds Order.
func (f *FluxFitParams) GetIndexForExponents(i, j int) int {
	total := i + j
	if total > f.Order || i < 0 || j < 0 {
		return -1
	}
	if total == 0 {
		return 0
	}
	idx := 1
	for t := 1; t < total; t++ {
		idx += t + 1
	}
	return idx + (total - i)
}

// chebyshevToPower returns the coefficients of T_n(x) in the standard
// power basis, c[0] + c[1]*x + ... + c[n]*x^n.
func chebyshevToPower(n int) []float64 {
	c := make([]float64, n+1)
	if n == 0 {
		c[0] = 1
		return c
	}
	cPrev := []float64{1}
	cCur := []float64{0, 1}
	for i := 2; i <= n; i++ {
		next := make([]float64, i+1)
		for k, v := range cCur {
			next[k+1] += 2 * v
		}
		for k, v := range cPrev {
			next[k] -= v
		}
		cPrev, cCur = cCur, next
	}
	copy(c, cCur)
	return c
}

// Chi2Threshold is the scaled-squared-residual rejection threshold used
// throughout the astrometric and flux solvers (9 sigma^2, per spec).
const Chi2Threshold = 9.0

// IsFinite reports whether v is a usable (non-NaN, non-infinite) value.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
