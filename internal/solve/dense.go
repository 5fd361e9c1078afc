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

// Package solve wraps gonum's dense LU solver with the preallocation
// discipline spec.md §5 requires: the normal-equations matrix and
// right-hand side are checked against half of total physical memory before allocation,
// and satisfied from a sized sync.Pool so repeated solves (three
// astrometric outer iterations, three flux solves) reuse backing storage.
package solve

import (
	"fmt"
	"sync"

	"github.com/pbnjay/memory"
	"gonum.org/v1/gonum/mat"

	"github.com/skycal/mosaiccal/internal/calerr"
)

// Dense is preallocated working memory for one size×size normal-equations
// system: the matrix A and right-hand side b.
type Dense struct {
	Size int
	A    *mat.Dense
	B    *mat.VecDense
}

var matrixPool = struct {
	sync.RWMutex
	m map[int]*sync.Pool
}{m: make(map[int]*sync.Pool)}

func getSizedPool(size int) *sync.Pool {
	matrixPool.RLock()
	pool := matrixPool.m[size]
	matrixPool.RUnlock()
	if pool != nil {
		return pool
	}
	matrixPool.Lock()
	defer matrixPool.Unlock()
	if pool = matrixPool.m[size]; pool != nil {
		return pool
	}
	pool = &sync.Pool{
		New: func() interface{} {
			return &Dense{
				Size: size,
				A:    mat.NewDense(size, size, make([]float64, size*size)),
				B:    mat.NewVecDense(size, make([]float64, size)),
			}
		},
	}
	matrixPool.m[size] = pool
	return pool
}

// New returns zeroed size×size working memory for a normal-equations
// system, from the pool if available. It fails with calerr.ErrOutOfMemory,
// naming the requested byte count, if the allocation would exceed half of
// total physical memory (per spec.md §5's mandatory diagnostic).
func New(size int) (*Dense, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: normal-equations size must be positive, got %d", calerr.ErrInvalidInput, size)
	}
	requestedBytes := uint64(size)*uint64(size)*8 + uint64(size)*8
	// Reserve a margin for the rest of the process; a pool entry for this
	// size outlives a single solve, so bound it against half of total
	// physical memory.
	if total := memory.TotalMemory(); total != 0 && requestedBytes > total/2 {
		return nil, fmt.Errorf("%w: requested %d bytes for a %dx%d normal-equations matrix, %d total system memory",
			calerr.ErrOutOfMemory, requestedBytes, size, size, total)
	}

	d := getSizedPool(size).Get().(*Dense)
	d.A.Zero()
	d.B.Zero()
	return d, nil
}

// Release returns d's backing storage to the pool for reuse.
func Release(d *Dense) {
	getSizedPool(d.Size).Put(d)
}

// AddA accumulates v into A[i][j], the pattern every normal-equations
// assembler contribution uses (§4.3, §4.4): many observations add into
// the same block.
func (d *Dense) AddA(i, j int, v float64) {
	d.A.Set(i, j, d.A.At(i, j)+v)
}

// AddB accumulates v into the right-hand side at row i.
func (d *Dense) AddB(i int, v float64) {
	d.B.SetVec(i, d.B.AtVec(i)+v)
}

// Entry is one nonzero column of a linearized scalar equation: the dense
// system offset and the coefficient multiplying that unknown.
type Entry struct {
	Offset int
	Coeff  float64
}

// Row is one linearized scalar equation Σ entries[i].Coeff * x[entries[i].Offset] ≈ Residual,
// with an inverse-variance Weight. Both the astrometric and flux
// assemblers build up Rows per observation and fold them into a Dense
// system with Accumulate.
type Row struct {
	Entries  []Entry
	Weight   float64
	Residual float64
}

// Accumulate folds row r into the normal-equations system d: A += w*g*g^T,
// b += w*g*r, for the sparse row vector g described by r.Entries. Shared
// by every assembler in this module so the accumulation pattern — many
// observations adding into overlapping blocks of one dense system — stays
// in one place.
func Accumulate(d *Dense, r Row) {
	w := r.Weight
	if w <= 0 {
		return
	}
	for i, e := range r.Entries {
		d.AddB(e.Offset, w*e.Coeff*r.Residual)
		for j := i; j < len(r.Entries); j++ {
			f := r.Entries[j]
			v := w * e.Coeff * f.Coeff
			d.AddA(e.Offset, f.Offset, v)
			if f.Offset != e.Offset {
				d.AddA(f.Offset, e.Offset, v)
			}
		}
	}
}

// Solve factorizes d.A via dense LU and solves A x = b, in the style of
// mkhts-gortk's SolveLS: x = A^-1 b, reporting a singular matrix as
// calerr.ErrSingularSystem rather than propagating gonum's raw Condition
// error, since a zero-pivot LU failure here is always fatal to the fit
// (spec.md §7).
func (d *Dense) Solve() (x *mat.VecDense, err error) {
	var xv mat.VecDense
	if err := xv.SolveVec(d.A, d.B); err != nil {
		return nil, fmt.Errorf("%w: %v", calerr.ErrSingularSystem, err)
	}
	return &xv, nil
}
