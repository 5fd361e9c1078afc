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

// Package wcs encodes and decodes astrometric (SIP/WCS) and flux-field
// header properties to and from a typed property map, per spec.md §4.5
// and §6. The map shape follows the teacher's own fits.Header: separate
// typed maps per value kind rather than one interface{}-valued map, so a
// caller serializing to an actual FITS card list never has to guess a
// key's type.
package wcs

// Header is a typed property map, independent of any particular on-disk
// format. An actual FITS writer translates it to 80-column cards; this
// package only deals in the property map itself.
type Header struct {
	Bools   map[string]bool
	Ints    map[string]int
	Floats  map[string]float64
	Strings map[string]string
}

// NewHeader returns an empty Header with all maps initialized.
func NewHeader() Header {
	return Header{
		Bools:   make(map[string]bool),
		Ints:    make(map[string]int),
		Floats:  make(map[string]float64),
		Strings: make(map[string]string),
	}
}
