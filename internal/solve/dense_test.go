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

package solve

import (
	"math"
	"testing"
)

func TestSolveIdentitySystem(t *testing.T) {
	d, err := New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer Release(d)

	for i := 0; i < 3; i++ {
		d.AddA(i, i, 1)
		d.AddB(i, float64(i+1))
	}
	x, err := d.Solve()
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for i := 0; i < 3; i++ {
		if math.Abs(x.AtVec(i)-float64(i+1)) > 1e-9 {
			t.Errorf("x[%d]=%g, want %g", i, x.AtVec(i), float64(i+1))
		}
	}
}

func TestSolveSingularReturnsSingularSystemError(t *testing.T) {
	d, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer Release(d)
	// All-zero A is singular.
	if _, err := d.Solve(); err == nil {
		t.Error("Solve on a singular matrix should error")
	}
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) should error")
	}
}
