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

package wcs

import (
	"fmt"
	"math"

	"github.com/skycal/mosaiccal/internal/poly"
)

const radToDeg = 180.0 / math.Pi
const degToRad = math.Pi / 180.0

// EncodeCoeff exports c as a tangent-plane projection with SIP-style
// distortion, per spec.md §4.5: the 2x2 linear part (a[0], a[1], b[0],
// b[1]) becomes the CD matrix, the reference pixel is (−x0, −y0), the
// reference sky position is (A, D) in degrees, and every remaining
// forward/inverse coefficient becomes a distortion-matrix entry keyed by
// its exponent pair.
func EncodeCoeff(c *poly.Coeff) Header {
	h := NewHeader()

	a0, a1, b0, b1 := c.LinearPart()
	h.Floats["CD1_1"] = a0
	h.Floats["CD1_2"] = a1
	h.Floats["CD2_1"] = b0
	h.Floats["CD2_2"] = b1

	h.Floats["CRVAL1"] = c.RA * radToDeg
	h.Floats["CRVAL2"] = c.Dec * radToDeg
	h.Floats["CRPIX1"] = -c.X0
	h.Floats["CRPIX2"] = -c.Y0

	order := c.P.Order()
	h.Ints["A_ORDER"] = order
	h.Ints["B_ORDER"] = order
	h.Ints["AP_ORDER"] = order
	h.Ints["BP_ORDER"] = order

	for k := 0; k < c.P.NCoeff(); k++ {
		x, y := c.P.XOrder(k), c.P.YOrder(k)
		// The linear terms (x+y == 1) are already captured by the CD
		// matrix above; SIP's A_i_j/B_i_j distortion keys start at
		// order 2.
		if x+y >= 2 {
			h.Floats[distortionKey("A", x, y)] = c.A[k]
			h.Floats[distortionKey("B", x, y)] = c.B[k]
		}
		h.Floats[distortionKey("AP", x, y)] = c.Ap[k]
		h.Floats[distortionKey("BP", x, y)] = c.Bp[k]
	}

	return h
}

// DecodeCoeff reads an existing tangent-plane projection out of h,
// populating a Coeff that shares Poly p, per spec.md §4.5's inverse
// conversion. p's order must match the header's recorded A_ORDER (and
// B_ORDER, AP_ORDER, BP_ORDER, which must all agree with it).
func DecodeCoeff(h Header, exposure poly.ExposureID, p *poly.Poly) (*poly.Coeff, error) {
	order := p.Order()
	for _, key := range []string{"A_ORDER", "B_ORDER", "AP_ORDER", "BP_ORDER"} {
		if got, ok := h.Ints[key]; ok && got != order {
			return nil, fmt.Errorf("wcs: %s = %d does not match basis order %d", key, got, order)
		}
	}

	c := poly.NewCoeff(exposure, p)
	c.A[0], c.A[1] = h.Floats["CD1_1"], h.Floats["CD1_2"]
	c.B[0], c.B[1] = h.Floats["CD2_1"], h.Floats["CD2_2"]

	c.RA = h.Floats["CRVAL1"] * degToRad
	c.Dec = h.Floats["CRVAL2"] * degToRad
	c.X0 = -h.Floats["CRPIX1"]
	c.Y0 = -h.Floats["CRPIX2"]

	for k := 0; k < p.NCoeff(); k++ {
		x, y := p.XOrder(k), p.YOrder(k)
		if x+y >= 2 {
			c.A[k] = h.Floats[distortionKey("A", x, y)]
			c.B[k] = h.Floats[distortionKey("B", x, y)]
		}
		c.Ap[k] = h.Floats[distortionKey("AP", x, y)]
		c.Bp[k] = h.Floats[distortionKey("BP", x, y)]
	}

	return c, nil
}

// distortionKey formats a SIP distortion coefficient key N_i_j, for
// N in {A, B, AP, BP}.
func distortionKey(name string, i, j int) string {
	return fmt.Sprintf("%s_%d_%d", name, i, j)
}
