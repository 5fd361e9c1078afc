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
	"strconv"

	"github.com/skycal/mosaiccal/internal/astrom"
	"github.com/skycal/mosaiccal/internal/orchestrate"
	"github.com/skycal/mosaiccal/internal/wcs"
)

// FitResponse is the /api/v1/fit response body: one SIP/WCS-style header
// per exposure (see wcs.EncodeCoeff), the per-iteration astrometric fit
// statistics, and, if the request asked for it, a flux-field header and
// per-exposure/chip/star photometric solution.
//
// Exposures is an ordered list, not a map: spec.md §5's ordering
// guarantee (the result must preserve the input exposure order) cannot
// survive a map on the wire either way, since encoding/json always
// marshals map keys in sorted order regardless of Go's own map iteration
// order.
type FitResponse struct {
	Exposures  []exposureHeader        `json:"exposures"`
	JointStats []astrom.IterationStats `json:"jointStats"`

	Flux *fluxResponse `json:"flux,omitempty"`
}

// exposureHeader pairs one exposure's id with its fitted SIP/WCS header,
// preserving FitResponse.Exposures' input order.
type exposureHeader struct {
	ID     string     `json:"id"`
	Header wcs.Header `json:"header"`
}

type fluxResponse struct {
	Params wcs.Header         `json:"params"`
	FExp   map[string]float64 `json:"fExp"`
	FChip  map[string]float64 `json:"fChip"`
	MStar  map[string]float64 `json:"mStar,omitempty"`
	DeltaM float64            `json:"deltaM"`
	Stats  []statsEntry        `json:"stats"`
}

type statsEntry struct {
	Solve       int     `json:"solve"`
	GoodCount   int     `json:"goodCount"`
	RejectCount int     `json:"rejectCount"`
	Chi2        float64 `json:"chi2"`
}

func NewFitResponse(r *orchestrate.Result) FitResponse {
	resp := FitResponse{
		Exposures:  make([]exposureHeader, 0, len(r.Exposures)),
		JointStats: r.JointStats,
	}
	for _, exp := range r.Exposures {
		c := r.Coeffs[exp]
		if c == nil {
			continue
		}
		resp.Exposures = append(resp.Exposures, exposureHeader{ID: string(exp), Header: wcs.EncodeCoeff(c)})
	}

	if r.Flux == nil {
		return resp
	}

	fr := &fluxResponse{
		FExp:   make(map[string]float64, len(r.Flux.FExp)),
		FChip:  make(map[string]float64, len(r.Flux.FChip)),
		DeltaM: r.Flux.DeltaM,
	}
	for e, v := range r.Flux.FExp {
		fr.FExp[string(e)] = v
	}
	for c, v := range r.Flux.FChip {
		fr.FChip[string(c)] = v
	}
	if len(r.Flux.MStar) > 0 {
		fr.MStar = make(map[string]float64, len(r.Flux.MStar))
		for s, v := range r.Flux.MStar {
			fr.MStar[string(s)] = v
		}
	}
	for _, st := range r.FluxStats {
		fr.Stats = append(fr.Stats, statsEntry{
			Solve:       st.Solve,
			GoodCount:   st.GoodCount,
			RejectCount: st.RejectCount,
			Chi2:        st.Chi2,
		})
	}

	fr.Params = encodeFluxParamsFromResult(r)
	resp.Flux = fr
	return resp
}

// encodeFluxParamsFromResult builds the flux-field header from the fitted
// result's polynomial coefficients. The solver's own FluxFitParams isn't
// retained by orchestrate.Result (only the solved PCoeff slice is), so
// this reconstructs a header carrying just the field coefficients actually
// fit; callers needing the normalization constants must keep the request
// they sent.
func encodeFluxParamsFromResult(r *orchestrate.Result) wcs.Header {
	h := wcs.NewHeader()
	for k, v := range r.Flux.PCoeff {
		h.Floats[coeffKeyForFieldIndex(k)] = v
	}
	return h
}

func coeffKeyForFieldIndex(k int) string {
	return "P_" + strconv.Itoa(k)
}
