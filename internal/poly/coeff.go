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

import "fmt"

// ExposureID identifies one exposure by its sparse, caller-assigned key.
type ExposureID string

// Coeff is the astrometric solution for one exposure: a shared Poly basis,
// forward (a, b) and inverse (ap, bp) coefficient vectors, the tangent-plane
// center (A, D) in radians, and the focal-plane pixel offset (x0, y0).
//
// a[0], a[1], b[0], b[1] are the 2x2 CD-like linear part of the forward
// transform. They must remain non-singular once a fit has converged.
type Coeff struct {
	Exposure ExposureID
	P        *Poly

	A []float64 // forward xi coefficients, length P.NCoeff()
	B []float64 // forward eta coefficients, length P.NCoeff()
	Ap []float64 // inverse u-correction coefficients, length P.NCoeff()
	Bp []float64 // inverse v-correction coefficients, length P.NCoeff()

	RA, Dec float64 // tangent-plane center (A, D), radians
	X0, Y0  float64 // focal-plane pixel offset
}

// New allocates a Coeff sharing the given Poly basis.
func NewCoeff(exposure ExposureID, p *Poly) *Coeff {
	n := p.NCoeff()
	return &Coeff{
		Exposure: exposure,
		P:        p,
		A:        make([]float64, n),
		B:        make([]float64, n),
		Ap:       make([]float64, n),
		Bp:       make([]float64, n),
	}
}

// Validate checks the length invariant: a, b, ap, bp must all equal
// P.NCoeff() in length.
func (c *Coeff) Validate() error {
	n := c.P.NCoeff()
	if len(c.A) != n || len(c.B) != n || len(c.Ap) != n || len(c.Bp) != n {
		return fmt.Errorf("poly: coefficient vector length mismatch for exposure %s: want %d", c.Exposure, n)
	}
	return nil
}

// Clone deep-copies the Coeff. The Poly basis reference is shared, not
// copied, matching the design note that Poly is an immutable value shared
// across all Coeff instances of one mosaic fit.
func (c *Coeff) Clone() *Coeff {
	clone := &Coeff{
		Exposure: c.Exposure,
		P:        c.P,
		A:        append([]float64(nil), c.A...),
		B:        append([]float64(nil), c.B...),
		Ap:       append([]float64(nil), c.Ap...),
		Bp:       append([]float64(nil), c.Bp...),
		RA:       c.RA,
		Dec:      c.Dec,
		X0:       c.X0,
		Y0:       c.Y0,
	}
	return clone
}

// Forward evaluates the forward plate model at focal-plane coordinates
// (u, v), returning tangent-plane coordinates (xi, eta), after applying the
// pixel offset (x0, y0).
func (c *Coeff) Forward(u, v float64) (xi, eta float64) {
	uu, vv := u+c.X0, v+c.Y0
	xi = c.P.Eval(c.A, uu, vv)
	eta = c.P.Eval(c.B, uu, vv)
	return xi, eta
}

// ForwardGrad evaluates the forward transform's gradients at focal-plane
// coordinates (u, v): Bx=∂xi/∂u, Cx=∂xi/∂v, By=∂eta/∂u, Cy=∂eta/∂v.
func (c *Coeff) ForwardGrad(u, v float64) (bx, cx, by, cy float64) {
	uu, vv := u+c.X0, v+c.Y0
	bx, cx = c.P.Grad(c.A, uu, vv)
	by, cy = c.P.Grad(c.B, uu, vv)
	return bx, cx, by, cy
}

// JacobianDet returns the magnitude of the Jacobian determinant of the
// forward transform at (u, v): |∂(xi,eta)/∂(u,v)| = |Bx*Cy - Cx*By|.
func (c *Coeff) JacobianDet(u, v float64) float64 {
	bx, cx, by, cy := c.ForwardGrad(u, v)
	d := bx*cy - cx*by
	if d < 0 {
		d = -d
	}
	return d
}

// LinearPart returns the 2x2 CD-like linear block [[a0 a1][b0 b1]] of the
// forward transform.
func (c *Coeff) LinearPart() (a0, a1, b0, b1 float64) {
	return c.A[0], c.A[1], c.B[0], c.B[1]
}

// InvertLinearPart inverts the 2x2 CD-like block. Returns an error if the
// block is singular (determinant below 1e-12 in magnitude).
func (c *Coeff) InvertLinearPart() (ia0, ia1, ib0, ib1 float64, err error) {
	a0, a1, b0, b1 := c.LinearPart()
	det := a0*b1 - a1*b0
	if det > -1e-12 && det < 1e-12 {
		return 0, 0, 0, 0, fmt.Errorf("poly: exposure %s has singular CD matrix, det=%g", c.Exposure, det)
	}
	ia0, ia1 = b1/det, -a1/det
	ib0, ib1 = -b0/det, a0/det
	return ia0, ia1, ib0, ib1, nil
}

// Inverse evaluates the SIP-style inverse transform: invert the linear
// part to get the pre-image (U, V), then add the polynomial correction
// (ap, bp) evaluated at (U, V).
func (c *Coeff) Inverse(xi, eta float64) (u, v float64, err error) {
	ia0, ia1, ib0, ib1, err := c.InvertLinearPart()
	if err != nil {
		return 0, 0, err
	}
	U := ia0*xi + ia1*eta
	V := ib0*xi + ib1*eta
	du := c.P.Eval(c.Ap, U, V)
	dv := c.P.Eval(c.Bp, U, V)
	return U + du - c.X0, V + dv - c.Y0, nil
}
