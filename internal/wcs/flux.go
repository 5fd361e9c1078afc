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

	"github.com/skycal/mosaiccal/internal/poly"
)

// EncodeFluxParams exports f as a property map, per spec.md §6's
// FluxFitParams header encoding: ORDER, ABSOLUTE, CHEBYSHEV, NCOEFF,
// U_MAX, V_MAX, X0, Y0, and one double per coefficient keyed
// C_{xorder}_{yorder}.
func EncodeFluxParams(f *poly.FluxFitParams) Header {
	h := NewHeader()
	h.Ints["ORDER"] = f.Order
	h.Bools["ABSOLUTE"] = f.Absolute
	h.Bools["CHEBYSHEV"] = f.Chebyshev
	h.Ints["NCOEFF"] = f.NCoeff()
	h.Floats["U_MAX"] = f.UMax
	h.Floats["V_MAX"] = f.VMax
	h.Floats["X0"] = f.X0
	h.Floats["Y0"] = f.Y0

	for i := 0; i <= f.Order; i++ {
		for j := 0; i+j <= f.Order; j++ {
			k := f.GetIndexForExponents(i, j)
			if k < 0 {
				continue
			}
			h.Floats[coeffKey(i, j)] = f.Coeff[k]
		}
	}
	return h
}

// DecodeFluxParams reads a property map written by EncodeFluxParams back
// into a FluxFitParams.
func DecodeFluxParams(h Header) (*poly.FluxFitParams, error) {
	order, ok := h.Ints["ORDER"]
	if !ok {
		return nil, fmt.Errorf("wcs: flux header missing ORDER")
	}
	f := poly.NewFluxFitParams(order, h.Bools["CHEBYSHEV"], h.Bools["ABSOLUTE"],
		h.Floats["U_MAX"], h.Floats["V_MAX"], h.Floats["X0"], h.Floats["Y0"])

	if n, ok := h.Ints["NCOEFF"]; ok && n != f.NCoeff() {
		return nil, fmt.Errorf("wcs: flux header NCOEFF = %d does not match order %d's %d coefficients", n, order, f.NCoeff())
	}

	for i := 0; i <= order; i++ {
		for j := 0; i+j <= order; j++ {
			k := f.GetIndexForExponents(i, j)
			if k < 0 {
				continue
			}
			if v, ok := h.Floats[coeffKey(i, j)]; ok {
				f.Coeff[k] = v
			}
		}
	}
	return f, nil
}

// coeffKey formats a flux-field coefficient key C_i_j.
func coeffKey(i, j int) string {
	return fmt.Sprintf("C_%d_%d", i, j)
}
