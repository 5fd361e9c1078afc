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

// Package plate implements the standard gnomonic (tangent-plane)
// projection used to map catalog or measured sky positions (a, d) onto
// tangent-plane coordinates (xi, eta) around a reference direction
// (A, D), plus the analytic first partials needed by the joint
// astrometric solver.
//
// All angles are in radians on input; Xi and Eta are returned in degrees
// (the fit works in degrees, per spec), matching the 180/pi scale factor
// applied uniformly across the forward transform and its ten partials.
package plate

import "math"

const radToDeg = 180.0 / math.Pi

// denom is the shared gnomonic denominator sin(D)sin(d) + cos(D)cos(d)cos(a-A).
func denom(a, d, aRef, dRef float64) float64 {
	return math.Sin(dRef)*math.Sin(d) + math.Cos(dRef)*math.Cos(d)*math.Cos(a-aRef)
}

// Xi returns the tangent-plane xi coordinate, in degrees, of sky position
// (a, d) projected around reference direction (aRef, dRef). All angles in.
func Xi(a, d, aRef, dRef float64) float64 {
	den := denom(a, d, aRef, dRef)
	return radToDeg * math.Cos(d) * math.Sin(a-aRef) / den
}

// Eta returns the tangent-plane eta coordinate, in degrees.
func Eta(a, d, aRef, dRef float64) float64 {
	den := denom(a, d, aRef, dRef)
	return radToDeg * (math.Cos(dRef)*math.Sin(d) - math.Sin(dRef)*math.Cos(d)*math.Cos(a-aRef)) / den
}

// Partials holds the ten first partial derivatives of (xi, eta) with
// respect to source sky position (a, d) and tangent-plane center (A, D),
// all scaled to degrees to match Xi/Eta.
type Partials struct {
	XiA, XiD, XiRA, XiDec     float64
	EtaA, EtaD, EtaRA, EtaDec float64
}

// ComputePartials evaluates all ten analytic first partials of the
// gnomonic projection at sky position (a, d) around center (aRef, dRef).
func ComputePartials(a, d, aRef, dRef float64) Partials {
	sinD, cosD := math.Sin(dRef), math.Cos(dRef)
	sind, cosd := math.Sin(d), math.Cos(d)
	da := a - aRef
	sinDa, cosDa := math.Sin(da), math.Cos(da)

	den := sinD*sind + cosD*cosd*cosDa
	den2 := den * den

	xiNum := cosd * sinDa
	etaNum := cosD*sind - sinD*cosd*cosDa

	// d(den)/da = -cosD*cosd*sinDa ; d(den)/dd = sinD*cosd - cosD*sind*cosDa
	ddenDa := -cosD * cosd * sinDa
	ddenDd := sinD*cosd - cosD*sind*cosDa
	// d(den)/dA = -ddenDa ; d(den)/dD = cosD*sind - sinD*cosd*cosDa (symmetric swap of D,d roles)
	ddenDA := -ddenDa
	ddenDDec := cosD*sind - sinD*cosd*cosDa

	// d(xiNum)/da = cosd*cosDa ; d(xiNum)/dd = -sind*sinDa
	dxiNumDa := cosd * cosDa
	dxiNumDd := -sind * sinDa
	dxiNumDA := -dxiNumDa
	dxiNumDDec := 0.0

	// d(etaNum)/da = sinD*cosd*sinDa ; d(etaNum)/dd = cosD*cosd + sinD*sind*cosDa
	detaNumDa := sinD * cosd * sinDa
	detaNumDd := cosD*cosd + sinD*sind*cosDa
	detaNumDA := -detaNumDa
	// etaNum = cosD*sind - sinD*cosd*cosDa, so d/dD = -sinD*sind - cosD*cosd*cosDa
	detaNumDDec := -sinD*sind - cosD*cosd*cosDa

	p := Partials{}
	p.XiA = radToDeg * (dxiNumDa*den - xiNum*ddenDa) / den2
	p.XiD = radToDeg * (dxiNumDd*den - xiNum*ddenDd) / den2
	p.XiRA = radToDeg * (dxiNumDA*den - xiNum*ddenDA) / den2
	p.XiDec = radToDeg * (dxiNumDDec*den - xiNum*ddenDDec) / den2

	p.EtaA = radToDeg * (detaNumDa*den - etaNum*ddenDa) / den2
	p.EtaD = radToDeg * (detaNumDd*den - etaNum*ddenDd) / den2
	p.EtaRA = radToDeg * (detaNumDA*den - etaNum*ddenDA) / den2
	p.EtaDec = radToDeg * (detaNumDDec*den - etaNum*ddenDDec) / den2
	return p
}

// InverseGnomonic converts tangent-plane coordinates (xi, eta in degrees)
// back to sky position (a, d in radians) around reference direction
// (aRef, dRef in radians), via the standard inverse gnomonic formulas.
func InverseGnomonic(xi, eta, aRef, dRef float64) (a, d float64) {
	xiR, etaR := xi/radToDeg, eta/radToDeg
	rho := math.Hypot(xiR, etaR)
	if rho == 0 {
		return aRef, dRef
	}
	c := math.Atan(rho)
	sinC, cosC := math.Sin(c), math.Cos(c)
	sinD, cosD := math.Sin(dRef), math.Cos(dRef)

	dNew := math.Asin(cosC*sinD + (etaR*sinC*cosD)/rho)
	aNew := aRef + math.Atan2(xiR*sinC, rho*cosD*cosC-etaR*sinD*sinC)
	return aNew, dNew
}
