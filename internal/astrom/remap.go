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
	"github.com/skycal/mosaiccal/internal/plate"
	"github.com/skycal/mosaiccal/internal/poly"
)

// Remap recomputes o's focal-plane coordinates from its pixel coordinates
// and the chip's current placement, and its tangent-plane coordinates (and
// their analytic partials) from its current sky position and the
// exposure's current tangent-plane center. Called whenever chip placement
// or the tangent-plane center changes, per the Obs lifecycle contract.
func Remap(o *obs.Obs, chip *obs.ChipGeometry, centerRA, centerDec float64) {
	o.U, o.V = chip.PixelToFocal(o.PixX, o.PixY)
	o.U0, o.V0 = chip.PixelToFocalUnshifted(o.PixX, o.PixY)

	o.Xi = plate.Xi(o.RA, o.Dec, centerRA, centerDec)
	o.Eta = plate.Eta(o.RA, o.Dec, centerRA, centerDec)

	p := plate.ComputePartials(o.RA, o.Dec, centerRA, centerDec)
	o.XiA, o.XiD, o.XiRA, o.XiDec = p.XiA, p.XiD, p.XiRA, p.XiDec
	o.EtaA, o.EtaD, o.EtaRA, o.EtaDec = p.EtaA, p.EtaD, p.EtaRA, p.EtaDec
}

// remapSky recomputes o's tangent-plane coordinates and their partials
// from its sky position and a new tangent-plane center, leaving its
// focal-plane coordinates (u, v) untouched. Used during the per-exposure
// initial fit, where the tangent-plane center moves but chip placement
// does not.
func remapSky(o *obs.Obs, centerRA, centerDec float64) {
	o.Xi = plate.Xi(o.RA, o.Dec, centerRA, centerDec)
	o.Eta = plate.Eta(o.RA, o.Dec, centerRA, centerDec)

	p := plate.ComputePartials(o.RA, o.Dec, centerRA, centerDec)
	o.XiA, o.XiD, o.XiRA, o.XiDec = p.XiA, p.XiD, p.XiRA, p.XiDec
	o.EtaA, o.EtaD, o.EtaRA, o.EtaDec = p.EtaA, p.EtaD, p.EtaRA, p.EtaDec
}

// remapSkyAll applies remapSky to every observation in obsForExp.
func remapSkyAll(obsForExp []*obs.Obs, centerRA, centerDec float64) {
	for _, o := range obsForExp {
		remapSky(o, centerRA, centerDec)
	}
}

// RemapAll remaps every observation in obsVec using the given exposure
// coefficients (for the tangent-plane center) and chip set (for focal-plane
// placement). Observations whose exposure or chip is missing from the maps
// are left untouched.
func RemapAll(obsVec []*obs.Obs, coeffs map[poly.ExposureID]*poly.Coeff, chips *obs.CcdSet) {
	for _, o := range obsVec {
		chip := chips.Get(o.Chip)
		if chip == nil {
			continue
		}
		c := coeffs[poly.ExposureID(o.Exposure)]
		if c == nil {
			continue
		}
		Remap(o, chip, c.RA, c.Dec)
	}
}
