// Copyright 2025 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2025 Department of Linguistics,
// Faculty of Arts, Charles University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apiserver

import (
	"context"
	"time"

	"github.com/czcorpus/rulizer/cnf"
	"github.com/czcorpus/rulizer/eval"
	"github.com/gin-gonic/gin"
)

type service interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

// ------

type evaluationResponse struct {
	Method    string       `json:"method"`
	Dataset   string       `json:"dataset"`
	Threshold float64      `json:"threshold"`
	Metrics   eval.Metrics `json:"metrics"`
}

type unitPrediction struct {
	Method     string                `json:"method"`
	Threshold  float64               `json:"threshold"`
	Prediction eval.PredictionRecord `json:"prediction"`
	TrueRUL    *float64              `json:"trueRul,omitempty"`
}

type unitScores struct {
	Method  string           `json:"method"`
	Dataset string           `json:"dataset"`
	UnitID  int              `json:"unitId"`
	Updated time.Time        `json:"updated"`
	Scores  []eval.ScoredRow `json:"scores"`
}

type seriesScores struct {
	Method    string           `json:"method"`
	Dataset   string           `json:"dataset"`
	Updated   time.Time        `json:"updated"`
	Threshold float64          `json:"threshold"`
	Scores    []eval.ScoredRow `json:"scores"`
}

// -----

func corsMiddleware(conf *cnf.Conf) gin.HandlerFunc {
	return func(ctx *gin.Context) {

		var allowedOrigin string
		currOrigin := ctx.Request.Header.Get("Origin")
		for _, origin := range conf.CorsAllowedOrigins {
			if currOrigin == origin || origin == "*" {
				allowedOrigin = origin
				break
			}
		}
		if allowedOrigin != "" {
			ctx.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			ctx.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			ctx.Writer.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With",
			)
			ctx.Writer.Header().Set("Access-Control-Allow-Methods", "OPTIONS, GET")
		}

		if ctx.Request.Method == "OPTIONS" {
			ctx.AbortWithStatus(204)
			return
		}
		ctx.Next()
	}
}
