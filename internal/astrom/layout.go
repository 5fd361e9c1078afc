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
	"github.com/skycal/mosaiccal/internal/logx"
	"github.com/skycal/mosaiccal/internal/obs"
)

// Layout assigns dense row offsets to every unknown block of the joint
// normal-equations system: per-exposure polynomial blocks, per-chip
// placement blocks, the rotation-sum constraint, and per-star position
// blocks. Blocks with too few good observations to be estimable are
// dropped from the system with a logged warning, and no error returned,
// rather than assembled singular.
type Layout struct {
	NCoeff        int
	SolveCcd      bool
	AllowRotation bool
	WithStars     bool

	Exposures []obs.ExposureID
	ExpOffset map[obs.ExposureID]int

	Chips      []obs.ChipID
	ChipOffset map[obs.ChipID]int
	ChipDOF    int // 2 (translation only) or 3 (with rotation)

	RotOffset int // -1 if rotation is not constrained

	Stars      []obs.StarID
	StarOffset map[obs.StarID]int

	Size int
}

// BuildLayout inspects matchVec (and sourceVec, if withStars) to count good
// observations per exposure/chip/star, drops under-determined blocks, and
// assigns dense offsets to the surviving blocks. The offsets are held in
// the returned Layout only; the Obs Jexp/Jchip/Jstar fields are not set.
func BuildLayout(exposures []obs.ExposureID, chips []obs.ChipID, ncoeff int, solveCcd, allowRotation, withStars bool, matchVec, sourceVec []*obs.Obs) *Layout {
	l := &Layout{
		NCoeff:        ncoeff,
		SolveCcd:      solveCcd,
		AllowRotation: allowRotation,
		WithStars:     withStars,
		ExpOffset:     make(map[obs.ExposureID]int),
		ChipOffset:    make(map[obs.ChipID]int),
		StarOffset:    make(map[obs.StarID]int),
		RotOffset:     -1,
	}
	if allowRotation {
		l.ChipDOF = 3
	} else {
		l.ChipDOF = 2
	}

	expGoodCount := make(map[obs.ExposureID]int)
	chipGoodCount := make(map[obs.ChipID]int)
	starGoodCount := make(map[obs.StarID]int)

	all := matchVec
	if withStars {
		all = append(append([]*obs.Obs(nil), matchVec...), sourceVec...)
	}
	for _, o := range all {
		if !o.Good {
			continue
		}
		expGoodCount[o.Exposure]++
		chipGoodCount[o.Chip]++
		if o.Star != "" {
			starGoodCount[o.Star]++
		}
	}

	offset := 0
	for _, e := range exposures {
		if expGoodCount[e] < 2*ncoeff {
			logx.Printf("astrom: exposure %s has %d good observations, need >= %d; dropping its polynomial block\n",
				e, expGoodCount[e], 2*ncoeff)
			continue
		}
		l.Exposures = append(l.Exposures, e)
		l.ExpOffset[e] = offset
		offset += 2 * ncoeff
	}

	if solveCcd {
		for _, c := range chips {
			if chipGoodCount[c] < l.ChipDOF {
				logx.Printf("astrom: chip %s has %d good observations, need >= %d; dropping its placement block\n",
					c, chipGoodCount[c], l.ChipDOF)
				continue
			}
			l.Chips = append(l.Chips, c)
			l.ChipOffset[c] = offset
			offset += l.ChipDOF
		}
		if allowRotation && len(l.Chips) > 0 {
			l.RotOffset = offset
			offset++
		}
	}

	if withStars {
		for _, o := range sourceVec {
			if o.Star == "" {
				continue
			}
			if _, seen := l.StarOffset[o.Star]; seen {
				continue
			}
			if starGoodCount[o.Star] < 2 {
				continue
			}
			l.Stars = append(l.Stars, o.Star)
			l.StarOffset[o.Star] = offset
			offset += 2
		}
	}

	l.Size = offset
	return l
}

// ExpIncluded reports whether exposure e survived under-determination
// pruning.
func (l *Layout) ExpIncluded(e obs.ExposureID) (offset int, ok bool) {
	offset, ok = l.ExpOffset[e]
	return offset, ok
}

// ChipIncluded reports whether chip c survived under-determination
// pruning.
func (l *Layout) ChipIncluded(c obs.ChipID) (offset int, ok bool) {
	offset, ok = l.ChipOffset[c]
	return offset, ok
}

// StarIncluded reports whether star s has at least two good observations
// and was assigned a block.
func (l *Layout) StarIncluded(s obs.StarID) (offset int, ok bool) {
	offset, ok = l.StarOffset[s]
	return offset, ok
}
