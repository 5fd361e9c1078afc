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
	"math"

	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/plate"
	"github.com/skycal/mosaiccal/internal/poly"
	"github.com/skycal/mosaiccal/internal/solve"
)

// NumOffsetRefinements is the fixed number of (a, b, dx0, dy0) refinement
// passes run per exposure after the center fit, per spec.md §4.2.
const NumOffsetRefinements = 3

// FitExposureInitial computes the first astrometric solution for one
// exposure: a linear fit for the forward polynomial and a tangent-center
// correction, an outlier pass and refit, then NumOffsetRefinements rounds
// of pixel-offset refinement with a Jacobian-maximizing tangent-center
// relocation between rounds.
//
// obsForExp must all share coeff.Exposure and already have (U, V)
// populated from their chip's placement; their Xi/Eta and partials are
// (re)computed here every time coeff.RA/Dec move.
func FitExposureInitial(coeff *poly.Coeff, obsForExp []*obs.Obs) error {
	remapSkyAll(obsForExp, coeff.RA, coeff.Dec)

	if err := fitCenterAndReject(coeff, obsForExp); err != nil {
		return err
	}
	remapSkyAll(obsForExp, coeff.RA, coeff.Dec)

	halfWidth := boundingHalfWidth(obsForExp)
	for i := 0; i < NumOffsetRefinements; i++ {
		if err := fitOffsetRefinement(coeff, obsForExp); err != nil {
			return err
		}
		if i == NumOffsetRefinements-1 {
			break
		}

		// The current tangent point is focal (-X0, -Y0), where the forward
		// polynomial (which has no constant term) evaluates to zero.
		u, v := LocateJacobianMax(coeff.JacobianDet, -coeff.X0, -coeff.Y0, halfWidth)
		xi, eta := coeff.Forward(u, v)
		coeff.RA, coeff.Dec = plate.InverseGnomonic(xi, eta, coeff.RA, coeff.Dec)

		remapSkyAll(obsForExp, coeff.RA, coeff.Dec)
		halfWidth /= 2
	}
	return nil
}

// fitCenterAndReject runs the linear (a, b, dA, dD) fit of spec.md §4.2,
// scores every observation against it, rejects outliers past a 9*sigma^2
// threshold derived from the mean squared residual, refits once more with
// the survivors, and applies the final (a, b, dA, dD) to coeff.
func fitCenterAndReject(coeff *poly.Coeff, obsForExp []*obs.Obs) error {
	a, b, dA, dD, err := fitExposureCenter(coeff.P, obsForExp)
	if err != nil {
		return err
	}
	rejectCenterOutliers(coeff.P, obsForExp, a, b, dA, dD)

	a, b, dA, dD, err = fitExposureCenter(coeff.P, obsForExp)
	if err != nil {
		return err
	}
	coeff.A, coeff.B = a, b
	coeff.RA += dA
	coeff.Dec += dD
	return nil
}

// fitExposureCenter solves the (2*ncoeff+2)-unknown linear system for the
// forward polynomial (a, b) and tangent-center correction (dA, dD) that
// minimizes the residual spec.md §4.2 defines:
//
//	(xi_obs  - Σ a_k u^x v^y + XiRA·dA  + XiDec·dD)^2 +
//	(eta_obs - Σ b_k u^x v^y + EtaRA·dA + EtaDec·dD)^2
//
// a_k, b_k enter the model side of the normal equations with their basis
// value (same sign convention as every exposure-polynomial column
// elsewhere in this package); dA, dD instead correct the *target*
// (xi_obs, eta_obs) through the tangent-center partials, so they enter
// with the negated partials, the same convention row.go uses for a star's
// own sky-position correction.
func fitExposureCenter(p *poly.Poly, obsForExp []*obs.Obs) (a, b []float64, dA, dD float64, err error) {
	ncoeff := p.NCoeff()
	size := 2*ncoeff + 2
	d, err := solve.New(size)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	defer solve.Release(d)

	basis := make([]float64, ncoeff)
	for _, o := range obsForExp {
		if !o.Good {
			continue
		}
		p.Basis(o.U, o.V, basis)

		xiEntries := make([]solve.Entry, 0, ncoeff+2)
		etaEntries := make([]solve.Entry, 0, ncoeff+2)
		for k := 0; k < ncoeff; k++ {
			xiEntries = append(xiEntries, solve.Entry{Offset: k, Coeff: basis[k]})
			etaEntries = append(etaEntries, solve.Entry{Offset: ncoeff + k, Coeff: basis[k]})
		}
		xiEntries = append(xiEntries, solve.Entry{Offset: 2 * ncoeff, Coeff: -o.XiRA}, solve.Entry{Offset: 2*ncoeff + 1, Coeff: -o.XiDec})
		etaEntries = append(etaEntries, solve.Entry{Offset: 2 * ncoeff, Coeff: -o.EtaRA}, solve.Entry{Offset: 2*ncoeff + 1, Coeff: -o.EtaDec})

		solve.Accumulate(d, solve.Row{Entries: xiEntries, Weight: 1, Residual: o.Xi})
		solve.Accumulate(d, solve.Row{Entries: etaEntries, Weight: 1, Residual: o.Eta})
	}

	x, err := d.Solve()
	if err != nil {
		return nil, nil, 0, 0, err
	}
	a = make([]float64, ncoeff)
	b = make([]float64, ncoeff)
	for k := 0; k < ncoeff; k++ {
		a[k] = x.AtVec(k)
		b[k] = x.AtVec(ncoeff + k)
	}
	dA, dD = x.AtVec(2*ncoeff), x.AtVec(2*ncoeff+1)
	return a, b, dA, dD, nil
}

// rejectCenterOutliers scores every good observation's combined residual
// against the just-solved (a, b, dA, dD), derives a 9*sigma^2 threshold
// from the mean squared residual over this exposure's observations, and
// clears Good on the ones that exceed it.
func rejectCenterOutliers(p *poly.Poly, obsForExp []*obs.Obs, a, b []float64, dA, dD float64) {
	ncoeff := p.NCoeff()
	basis := make([]float64, ncoeff)

	type scored struct {
		o    *obs.Obs
		chi2 float64
	}
	var scores []scored
	sumSq := 0.0

	for _, o := range obsForExp {
		if !o.Good {
			continue
		}
		p.Basis(o.U, o.V, basis)
		modelXi, modelEta := 0.0, 0.0
		for k := 0; k < ncoeff; k++ {
			modelXi += a[k] * basis[k]
			modelEta += b[k] * basis[k]
		}
		rXi := o.Xi - modelXi + o.XiRA*dA + o.XiDec*dD
		rEta := o.Eta - modelEta + o.EtaRA*dA + o.EtaDec*dD
		chi2 := rXi*rXi + rEta*rEta
		scores = append(scores, scored{o, chi2})
		sumSq += chi2
	}
	if len(scores) == 0 {
		return
	}
	threshold := 9 * sumSq / float64(len(scores))
	for _, s := range scores {
		if s.chi2 > threshold {
			s.o.Good = false
		}
	}
}

// fitOffsetRefinement solves the linear system for a fresh (a, b) and a
// correction (dx0, dy0) to the focal-plane pixel offset, per spec.md
// §4.2's offset refinement: the basis is evaluated at the currently
// shifted coordinates (u+x0, v+y0), and dx0/dy0 enter through the
// forward transform's own gradients (Bx, Cx, By, Cy) at that point, since
// shifting x0 by dx0 shifts the model's prediction the same way shifting
// u would.
func fitOffsetRefinement(coeff *poly.Coeff, obsForExp []*obs.Obs) error {
	p := coeff.P
	ncoeff := p.NCoeff()
	size := 2*ncoeff + 2
	d, err := solve.New(size)
	if err != nil {
		return err
	}
	defer solve.Release(d)

	basis := make([]float64, ncoeff)
	for _, o := range obsForExp {
		if !o.Good {
			continue
		}
		uu, vv := o.U+coeff.X0, o.V+coeff.Y0
		p.Basis(uu, vv, basis)
		bx, cx, by, cy := coeff.ForwardGrad(o.U, o.V)

		xiEntries := make([]solve.Entry, 0, ncoeff+2)
		etaEntries := make([]solve.Entry, 0, ncoeff+2)
		for k := 0; k < ncoeff; k++ {
			xiEntries = append(xiEntries, solve.Entry{Offset: k, Coeff: basis[k]})
			etaEntries = append(etaEntries, solve.Entry{Offset: ncoeff + k, Coeff: basis[k]})
		}
		xiEntries = append(xiEntries, solve.Entry{Offset: 2 * ncoeff, Coeff: bx}, solve.Entry{Offset: 2*ncoeff + 1, Coeff: cx})
		etaEntries = append(etaEntries, solve.Entry{Offset: 2 * ncoeff, Coeff: by}, solve.Entry{Offset: 2*ncoeff + 1, Coeff: cy})

		solve.Accumulate(d, solve.Row{Entries: xiEntries, Weight: 1, Residual: o.Xi})
		solve.Accumulate(d, solve.Row{Entries: etaEntries, Weight: 1, Residual: o.Eta})
	}

	x, err := d.Solve()
	if err != nil {
		return err
	}
	for k := 0; k < ncoeff; k++ {
		coeff.A[k] = x.AtVec(k)
		coeff.B[k] = x.AtVec(ncoeff + k)
	}
	coeff.X0 += x.AtVec(2 * ncoeff)
	coeff.Y0 += x.AtVec(2*ncoeff + 1)
	return nil
}

// boundingHalfWidth returns a starting search half-width for
// LocateJacobianMax, sized to this exposure's own observed focal-plane
// extent so the initial golden-section bracket always contains the
// observations it is meant to be searching among.
func boundingHalfWidth(obsForExp []*obs.Obs) float64 {
	maxAbs := 1.0
	for _, o := range obsForExp {
		if v := math.Abs(o.U); v > maxAbs {
			maxAbs = v
		}
		if v := math.Abs(o.V); v > maxAbs {
			maxAbs = v
		}
	}
	return maxAbs
}
