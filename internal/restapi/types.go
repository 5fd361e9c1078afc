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

package restapi

import (
	"math"

	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/orchestrate"
)

// ExposureInput is one exposure's initial celestial projection, sky
// coordinates in degrees over the wire.
type ExposureInput struct {
	ID  string  `json:"id" binding:"required"`
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// ChipInput is one detector's initial rigid placement on the focal plane.
type ChipInput struct {
	ID         string  `json:"id" binding:"required"`
	CenterX    float64 `json:"centerX"`
	CenterY    float64 `json:"centerY"`
	PixelSize  float64 `json:"pixelSize"`
	YawRadians float64 `json:"yawRadians"`
}

// MagInput is an optional magnitude measurement. A nil Value marks the
// magnitude absent, mirroring obs.Mag's Valid flag without exposing a
// separate boolean over the wire.
type MagInput struct {
	Value *float64 `json:"value,omitempty"`
	Err   float64  `json:"err,omitempty"`
}

func (m *MagInput) toMag() obs.Mag {
	if m == nil || m.Value == nil {
		return obs.NoMag
	}
	return obs.NewMag(*m.Value, m.Err)
}

// ObsInput is one detection, sky coordinates in degrees over the wire.
type ObsInput struct {
	Exposure string `json:"exposure" binding:"required"`
	Chip     string `json:"chip" binding:"required"`
	Star     string `json:"star,omitempty"`

	RA   float64 `json:"ra"`
	Dec  float64 `json:"dec"`
	PixX float64 `json:"pixX"`
	PixY float64 `json:"pixY"`

	SigX float64 `json:"sigX"`
	SigY float64 `json:"sigY"`

	MeasMag *MagInput `json:"measMag,omitempty"`
	CatMag  *MagInput `json:"catMag,omitempty"`
}

func (i ObsInput) toObs() *obs.Obs {
	o := obs.NewObs(obs.ExposureID(i.Exposure), obs.ChipID(i.Chip), obs.StarID(i.Star))
	o.RA, o.Dec = i.RA*degToRad, i.Dec*degToRad
	o.PixX, o.PixY = i.PixX, i.PixY
	o.SigX, o.SigY = i.SigX, i.SigY
	o.MeasMag = i.MeasMag.toMag()
	o.CatMag = i.CatMag.toMag()
	if !o.PixelErrorValid() {
		o.Good = false
	}
	return o
}

const degToRad = math.Pi / 180.0

// FitRequest is the /api/v1/fit request body: a mosaic's exposures, chips,
// and observations, plus the pipeline's structural options.
type FitRequest struct {
	Exposures []ExposureInput `json:"exposures" binding:"required"`
	Chips     []ChipInput     `json:"chips" binding:"required"`
	Matches   []ObsInput      `json:"matches" binding:"required"`
	Sources   []ObsInput      `json:"sources,omitempty"`

	PolyOrder     int     `json:"polyOrder"`
	SolveCcd      bool    `json:"solveCcd"`
	AllowRotation bool    `json:"allowRotation"`
	WithStars     bool    `json:"withStars"`
	CatRMS        float64 `json:"catRms"`

	FitFlux       bool `json:"fitFlux"`
	FluxOrder     int  `json:"fluxOrder"`
	FluxAbsolute  bool `json:"fluxAbsolute"`
	FluxChebyshev bool `json:"fluxChebyshev"`
}

func (r FitRequest) ToOrchestrateInputs() (wcsDic *obs.WcsDic, chips *obs.CcdSet, matchVec, sourceVec []*obs.Obs) {
	wcsDic = obs.NewWcsDic()
	for _, e := range r.Exposures {
		wcsDic.Add(obs.ExposureID(e.ID), &obs.Projection{RA: e.RA * degToRad, Dec: e.Dec * degToRad})
	}

	chips = obs.NewCcdSet()
	for _, c := range r.Chips {
		geom := obs.NewChipGeometry(c.CenterX, c.CenterY, c.PixelSize)
		geom.SetOrientation(c.YawRadians)
		chips.Add(obs.ChipID(c.ID), geom)
	}

	for _, m := range r.Matches {
		matchVec = append(matchVec, m.toObs())
	}
	for _, s := range r.Sources {
		sourceVec = append(sourceVec, s.toObs())
	}
	return wcsDic, chips, matchVec, sourceVec
}

func (r FitRequest) ToConfig() orchestrate.Config {
	return orchestrate.Config{
		PolyOrder:     r.PolyOrder,
		SolveCcd:      r.SolveCcd,
		AllowRotation: r.AllowRotation,
		WithStars:     r.WithStars,
		CatRMS:        r.CatRMS,
		FitFlux:       r.FitFlux,
		FluxOrder:     r.FluxOrder,
		FluxChebyshev: r.FluxChebyshev,
		FluxAbsolute:  r.FluxAbsolute,
	}
}
