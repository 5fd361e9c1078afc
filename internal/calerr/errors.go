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

// Package calerr defines the sentinel error kinds shared by the astrometric
// and flux solvers. Algorithms wrap these with fmt.Errorf("%w: ...") for
// context; callers match with errors.Is.
package calerr

import "errors"

var (
	// ErrInvalidInput covers order < 1, zero exposures, zero chips, and a
	// non-positive normal-equations size. Duplicate exposure or chip
	// identifiers are not detected: adding an existing id to a WcsDic or
	// CcdSet replaces its entry.
	ErrInvalidInput = errors.New("mosaiccal: invalid input")

	// ErrUnderDetermined names the condition of a block (exposure, chip,
	// or star) with fewer good observations than free parameters. The
	// solvers' layout builders omit such blocks from assembly and log a
	// warning; they do not return this error.
	ErrUnderDetermined = errors.New("mosaiccal: under-determined block")

	// ErrSingularSystem is returned when the normal-equations matrix is
	// numerically singular (zero pivot during LU factorization).
	ErrSingularSystem = errors.New("mosaiccal: singular normal-equations system")

	// ErrOutOfMemory is returned when the dense size×size working matrix
	// cannot be allocated.
	ErrOutOfMemory = errors.New("mosaiccal: out of memory for normal-equations matrix")
)
