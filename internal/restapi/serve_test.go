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
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/skycal/mosaiccal/internal/obs"
	"github.com/skycal/mosaiccal/internal/plate"
	"github.com/skycal/mosaiccal/internal/poly"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/fit", postFit)
		}
	}
	return r
}

func TestGetPing(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["message"] != "pong" {
		t.Errorf("got message %q, want %q", body["message"], "pong")
	}
}

func TestPostFitRejectsMalformedBody(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fit", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPostFitRejectsMissingRequiredFields(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fit", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d for a request missing exposures/chips/matches", w.Code, http.StatusBadRequest)
	}
}

func TestPostFitRunsPipelineEndToEnd(t *testing.T) {
	r := newTestRouter()

	p, err := poly.New(1)
	if err != nil {
		t.Fatalf("poly.New: %v", err)
	}
	coeffTrue := poly.NewCoeff("exp1", p)
	coeffTrue.A = []float64{2e-4, 3e-5}
	coeffTrue.B = []float64{2e-5, 2.5e-4}
	coeffTrue.RA, coeffTrue.Dec = 10*math.Pi/180, 20*math.Pi/180
	chip := obs.NewChipGeometry(0, 0, 1)

	req := FitRequest{
		Exposures: []ExposureInput{{ID: "exp1", RA: 10, Dec: 20}},
		Chips:     []ChipInput{{ID: "chip1", PixelSize: 1}},
		PolyOrder: 1,
	}
	const radToDeg = 180 / math.Pi
	for i := -2; i <= 2; i++ {
		for j := -2; j <= 2; j++ {
			pixX, pixY := float64(i)*10, float64(j)*10
			u, v := chip.PixelToFocal(pixX, pixY)
			xi, eta := coeffTrue.Forward(u, v)
			ra, dec := plate.InverseGnomonic(xi, eta, coeffTrue.RA, coeffTrue.Dec)
			req.Matches = append(req.Matches, ObsInput{
				Exposure: "exp1",
				Chip:     "chip1",
				PixX:     pixX,
				PixY:     pixY,
				RA:       ra * radToDeg,
				Dec:      dec * radToDeg,
				SigX:     1,
				SigY:     1,
			})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}

	httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/fit", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp FitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Exposures) != 1 || resp.Exposures[0].ID != "exp1" {
		t.Errorf("got %+v, want exactly one exposure header for exp1, in input order", resp.Exposures)
	}
	if len(resp.JointStats) == 0 {
		t.Errorf("expected at least one joint-fit iteration")
	}
}
