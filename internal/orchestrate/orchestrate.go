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

// Package orchestrate drives the full mosaic self-calibration pipeline of
// spec.md §5: per-exposure initial astrometry, joint astrometric
// refinement, inverse-polynomial fitting, and (optionally) photometric
// self-calibration, in that fixed order.
package orchestrate

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/skycal/mosaiccal/internal/astrom"
	"github.com/skycal/mosaiccal/internal/calerr"
	"github.com/skycal/mosaiccal/internal/flux"
	"github.com/skycal/mosaiccal/internal/logx"
	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/poly"
	"github.com/skycal/mosaiccal/internal/snapshot"
)

// Config bundles every structural option the pipeline's stages need.
type Config struct {
	PolyOrder     int
	SolveCcd      bool
	AllowRotation bool
	WithStars     bool
	CatRMS        float64

	FitFlux      bool
	FluxOrder    int
	FluxAbsolute bool
	FluxChebyshev bool

	// SnapshotDir, if non-empty, makes Run write a matches/sources
	// table pair after every joint-fit iteration, named
	// iter_<n>_matches.bin and iter_<n>_sources.bin.
	SnapshotDir string
}

// Result is the pipeline's full output: the fitted astrometric solution
// per exposure, the refined chip geometry, refined star positions (if
// cfg.WithStars), per-iteration astrometric fit statistics, and (if
// cfg.FitFlux) the photometric solution.
//
// Exposures preserves wcsDic's input order (spec.md §5's ordering
// guarantee); Coeffs is keyed for lookup, but only Exposures carries a
// defined iteration order, since Go map iteration does not.
type Result struct {
	Exposures []poly.ExposureID
	Coeffs    map[poly.ExposureID]*poly.Coeff
	Chips     *obs.CcdSet
	Stars     map[obs.StarID]*astrom.StarPosition

	JointStats []astrom.IterationStats

	Flux      *flux.Result
	FluxStats []flux.SolveStats
}

// Run executes the pipeline for one mosaic: builds an initial Coeff per
// exposure from wcsDic's projection and chips' placement, fits each
// exposure's initial astrometric solution independently, runs the joint
// refinement, fits the inverse polynomials, and, if cfg.FitFlux, runs the
// photometric self-calibration solver.
//
// matchVec and sourceVec are consumed in place: their Good flags are
// cleared by outlier rejection across every stage, and (if cfg.WithStars)
// their RA/Dec fields are overwritten by the joint fit's star-position
// refinement.
func Run(wcsDic *obs.WcsDic, chips *obs.CcdSet, matchVec, sourceVec []*obs.Obs, cfg Config) (*Result, error) {
	if wcsDic.Len() == 0 || chips.Len() == 0 {
		return nil, fmt.Errorf("orchestrate: %w: %d exposures, %d chips", calerr.ErrInvalidInput, wcsDic.Len(), chips.Len())
	}
	poly1, err := poly.New(cfg.PolyOrder)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: %w", err)
	}

	exposures := wcsDic.Order()
	coeffs := make(map[poly.ExposureID]*poly.Coeff, len(exposures))
	for _, e := range exposures {
		proj := wcsDic.Get(e)
		c := poly.NewCoeff(poly.ExposureID(e), poly1)
		c.RA, c.Dec = proj.RA, proj.Dec
		coeffs[poly.ExposureID(e)] = c
	}

	astrom.RemapAll(matchVec, coeffs, chips)
	if cfg.WithStars {
		astrom.RemapAll(sourceVec, coeffs, chips)
	}

	byExposure := make(map[poly.ExposureID][]*obs.Obs)
	addByExp := func(o *obs.Obs) {
		byExposure[poly.ExposureID(o.Exposure)] = append(byExposure[poly.ExposureID(o.Exposure)], o)
	}
	for _, o := range matchVec {
		addByExp(o)
	}
	if cfg.WithStars {
		for _, o := range sourceVec {
			addByExp(o)
		}
	}

	for _, e := range exposures {
		c := coeffs[poly.ExposureID(e)]
		if err := astrom.FitExposureInitial(c, byExposure[poly.ExposureID(e)]); err != nil {
			return nil, fmt.Errorf("orchestrate: initial fit for exposure %s: %w", e, err)
		}
	}
	astrom.RemapAll(matchVec, coeffs, chips)
	if cfg.WithStars {
		astrom.RemapAll(sourceVec, coeffs, chips)
	}

	stars := make(map[obs.StarID]*astrom.StarPosition)
	if cfg.WithStars {
		for _, o := range sourceVec {
			if o.Star == "" {
				continue
			}
			if _, ok := stars[o.Star]; !ok {
				stars[o.Star] = &astrom.StarPosition{RA: o.RA, Dec: o.Dec}
			}
		}
	}

	chipList := chips.Order()
	jointCfg := astrom.JointConfig{
		NCoeff:        poly1.NCoeff(),
		SolveCcd:      cfg.SolveCcd,
		AllowRotation: cfg.AllowRotation,
		WithStars:     cfg.WithStars,
		CatRMS:        cfg.CatRMS,
	}

	if cfg.SnapshotDir != "" {
		jointCfg.OnIteration = func(stats astrom.IterationStats, mv, sv []*obs.Obs) {
			writeIterationSnapshot(cfg.SnapshotDir, stats.Iteration, mv, sv, cfg.WithStars)
		}
	}

	jointStats, err := astrom.JointFit(exposures, chipList, coeffs, chips, stars, matchVec, sourceVec, jointCfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: joint fit: %w", err)
	}

	if err := astrom.FitInversePolynomials(coeffs, matchVec, sourceVec, cfg.WithStars); err != nil {
		return nil, fmt.Errorf("orchestrate: inverse polynomial fit: %w", err)
	}

	exposureIDs := make([]poly.ExposureID, len(exposures))
	for i, e := range exposures {
		exposureIDs[i] = poly.ExposureID(e)
	}

	result := &Result{
		Exposures:  exposureIDs,
		Coeffs:     coeffs,
		Chips:      chips,
		Stars:      stars,
		JointStats: jointStats,
	}

	if cfg.FitFlux {
		uMax, vMax := focalPlaneExtent(matchVec, sourceVec, cfg.WithStars)
		params := poly.NewFluxFitParams(cfg.FluxOrder, cfg.FluxChebyshev, cfg.FluxAbsolute, uMax, vMax, 0, 0)
		fluxResult, fluxStats, err := flux.Fit(exposures, chipList, params,
			flux.Config{Absolute: cfg.FluxAbsolute, WithStars: cfg.WithStars}, matchVec, sourceVec)
		if err != nil {
			return nil, fmt.Errorf("orchestrate: flux fit: %w", err)
		}
		result.Flux = fluxResult
		result.FluxStats = fluxStats
	}

	return result, nil
}

// focalPlaneExtent returns the largest absolute U and V focal-plane
// coordinate across matchVec (and sourceVec, if withStars), so the flux
// field polynomial normalizes over the mosaic's actual extent rather than
// an arbitrary fixed scale. Falls back to 1 if the observation set is
// empty, matching astrom's own boundingHalfWidth convention.
func focalPlaneExtent(matchVec, sourceVec []*obs.Obs, withStars bool) (uMax, vMax float64) {
	uMax, vMax = 1, 1
	scan := func(o *obs.Obs) {
		if v := math.Abs(o.U); v > uMax {
			uMax = v
		}
		if v := math.Abs(o.V); v > vMax {
			vMax = v
		}
	}
	for _, o := range matchVec {
		scan(o)
	}
	if withStars {
		for _, o := range sourceVec {
			scan(o)
		}
	}
	return uMax, vMax
}

// writeIterationSnapshot writes the matches table, and (if withStars) the
// sources table, for one joint-fit outer iteration to snapshotDir, per
// spec.md §6. Write failures are logged, not fatal: a missing snapshot
// does not invalidate the fit itself.
func writeIterationSnapshot(snapshotDir string, iter int, matchVec, sourceVec []*obs.Obs, withStars bool) {
	if err := snapshot.WriteObsTable(filepath.Join(snapshotDir, fmt.Sprintf("iter_%d_matches.bin", iter)), matchVec); err != nil {
		logx.Printf("orchestrate: writing matches snapshot for iteration %d: %v\n", iter, err)
	}
	if withStars {
		if err := snapshot.WriteObsTable(filepath.Join(snapshotDir, fmt.Sprintf("iter_%d_sources.bin", iter)), sourceVec); err != nil {
			logx.Printf("orchestrate: writing sources snapshot for iteration %d: %v\n", iter, err)
		}
	}
}
