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

// FitInversePolynomial fits coeff's SIP-style inverse-distortion
// coefficients (Ap, Bp), per spec.md §4.3's closing step: for every good
// observation in obsForExp, approximate the pre-image (U, V) by inverting
// the forward transform's linear part, then solve two decoupled
// ncoeff×ncoeff normal-equations systems for
//
//	Σ Ap_k · U^x · V^y = uu − U
//	Σ Bp_k · U^x · V^y = vv − V
//
// where (uu, vv) = (u + x0, v + y0) is the shifted focal-plane coordinate
// the forward model's linear part was fit against.
func FitInversePolynomial(coeff *poly.Coeff, obsForExp []*obs.Obs) error {
	ncoeff := coeff.P.NCoeff()

	ia0, ia1, ib0, ib1, err := coeff.InvertLinearPart()
	if err != nil {
		return err
	}

	dAp, err := solve.New(ncoeff)
	if err != nil {
		return err
	}
	defer solve.Release(dAp)
	dBp, err := solve.New(ncoeff)
	if err != nil {
		return err
	}
	defer solve.Release(dBp)

	basis := make([]float64, ncoeff)
	for _, o := range obsForExp {
		if !o.Good {
			continue
		}
		U := ia0*o.Xi + ia1*o.Eta
		V := ib0*o.Xi + ib1*o.Eta

		coeff.P.Basis(U, V, basis)
		entries := make([]solve.Entry, ncoeff)
		for k := 0; k < ncoeff; k++ {
			entries[k] = solve.Entry{Offset: k, Coeff: basis[k]}
		}

		uu, vv := o.U+coeff.X0, o.V+coeff.Y0
		solve.Accumulate(dAp, solve.Row{Entries: entries, Weight: 1, Residual: uu - U})
		solve.Accumulate(dBp, solve.Row{Entries: entries, Weight: 1, Residual: vv - V})
	}

	xAp, err := dAp.Solve()
	if err != nil {
		return err
	}
	xBp, err := dBp.Solve()
	if err != nil {
		return err
	}
	for k := 0; k < ncoeff; k++ {
		coeff.Ap[k] = xAp.AtVec(k)
		coeff.Bp[k] = xBp.AtVec(k)
	}
	return nil
}

// FitInversePolynomials runs FitInversePolynomial for every exposure in
// coeffs, grouping matchVec (and sourceVec, if withStars) by exposure.
func FitInversePolynomials(coeffs map[poly.ExposureID]*poly.Coeff, matchVec, sourceVec []*obs.Obs, withStars bool) error {
	byExposure := make(map[poly.ExposureID][]*obs.Obs)
	add := func(o *obs.Obs) {
		byExposure[poly.ExposureID(o.Exposure)] = append(byExposure[poly.ExposureID(o.Exposure)], o)
	}
	for _, o := range matchVec {
		add(o)
	}
	if withStars {
		for _, o := range sourceVec {
			add(o)
		}
	}

	for e, c := range coeffs {
		if err := FitInversePolynomial(c, byExposure[e]); err != nil {
			return err
		}
	}
	return nil
}
