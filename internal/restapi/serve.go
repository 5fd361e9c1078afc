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

// Package restapi exposes the mosaic self-calibration pipeline as a JSON
// service, the same way the teacher's internal/rest package exposes its
// own image operators.
package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skycal/mosaiccal/internal/logx"
	"github.com/skycal/mosaiccal/internal/orchestrate"
)

// Serve starts the JSON API on 0.0.0.0:8080.
func Serve() {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/fit", postFit)
		}
	}
	r.Run()
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// postFit runs the full astrometric and (optionally) photometric
// self-calibration pipeline against the posted mosaic and returns the
// fitted coefficients and flux solution.
func postFit(c *gin.Context) {
	var req FitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wcsDic, chips, matchVec, sourceVec := req.ToOrchestrateInputs()
	result, err := orchestrate.Run(wcsDic, chips, matchVec, sourceVec, req.ToConfig())
	if err != nil {
		logx.Printf("restapi: fit failed: %v\n", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, NewFitResponse(result))
}
