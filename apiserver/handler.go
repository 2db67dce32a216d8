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
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/czcorpus/cnc-gokit/unireq"
	"github.com/czcorpus/cnc-gokit/uniresp"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/index"
	"github.com/czcorpus/rulizer/stats"
	"github.com/gin-gonic/gin"
)

const (
	dfltRunsLimit = 20
)

func (api *apiServer) handleVersion(ctx *gin.Context) {
	uniresp.WriteJSONResponse(ctx.Writer, api.version)
}

func (api *apiServer) handlePredictions(ctx *gin.Context) {
	uniresp.WriteJSONResponse(ctx.Writer, api.preds)
}

func (api *apiServer) unitIDArg(ctx *gin.Context) (int, bool) {
	unitID, err := strconv.Atoi(ctx.Param("unitId"))
	if err != nil || unitID < 1 {
		uniresp.RespondWithErrorJSON(
			ctx, fmt.Errorf("invalid unit ID %s", ctx.Param("unitId")), http.StatusBadRequest,
		)
		return 0, false
	}
	return unitID, true
}

func (api *apiServer) handleUnitPrediction(ctx *gin.Context) {
	unitID, ok := api.unitIDArg(ctx)
	if !ok {
		return
	}
	for _, p := range api.preds {
		if p.UnitID != unitID {
			continue
		}
		resp := unitPrediction{
			Method:     api.conf.ServedMethod,
			Threshold:  api.detector.Threshold(),
			Prediction: p,
		}
		for _, t := range api.truth {
			if t.UnitID == unitID {
				resp.TrueRUL = &t.RUL
				break
			}
		}
		uniresp.WriteJSONResponse(ctx.Writer, resp)
		return
	}
	uniresp.RespondWithErrorJSON(ctx, fmt.Errorf("unit %d not found", unitID), http.StatusNotFound)
}

func (api *apiServer) handleEvaluation(ctx *gin.Context) {
	metrics, err := eval.Evaluate(api.preds, api.truth)
	if errors.Is(err, eval.ErrUnitMismatch) {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusConflict)
		return

	} else if err != nil {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
		return
	}
	uniresp.WriteJSONResponse(
		ctx.Writer,
		evaluationResponse{
			Method:    api.conf.ServedMethod,
			Dataset:   api.conf.Dataset.ID,
			Threshold: api.detector.Threshold(),
			Metrics:   metrics,
		},
	)
}

func (api *apiServer) handleUnitScores(ctx *gin.Context) {
	unitID, ok := api.unitIDArg(ctx)
	if !ok {
		return
	}
	scores, err := api.scoreDB.UnitScores(api.conf.ServedMethod, api.conf.Dataset.ID, unitID)
	if err != nil {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
		return
	}
	if len(scores) == 0 {
		uniresp.RespondWithErrorJSON(
			ctx, fmt.Errorf("no scores found for unit %d", unitID), http.StatusNotFound,
		)
		return
	}
	updated, err := api.scoreDB.ReadTimestamp(index.SeriesKey(api.conf.ServedMethod, api.conf.Dataset.ID))
	if err != nil {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
		return
	}
	uniresp.WriteJSONResponse(
		ctx.Writer,
		unitScores{
			Method:  api.conf.ServedMethod,
			Dataset: api.conf.Dataset.ID,
			UnitID:  unitID,
			Updated: updated,
			Scores:  scores,
		},
	)
}

func (api *apiServer) handleRuns(ctx *gin.Context) {
	limit, ok := unireq.GetURLIntArgOrFail(ctx, "limit", dfltRunsLimit)
	if !ok {
		return
	}
	filter := stats.ListFilter{}.SetLimit(limit)
	if v := ctx.Query("dataset"); v != "" {
		filter = filter.SetDataset(v)
	}
	if v := ctx.Query("method"); v != "" {
		filter = filter.SetMethod(v)
	}
	runs, err := api.runsDB.GetAllRuns(filter)
	if err != nil {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
		return
	}
	uniresp.WriteJSONResponse(ctx.Writer, runs)
}

// handleRunDetail returns a stored run with its predictions. The "latest"
// ID resolves to the newest run of the served method and dataset.
func (api *apiServer) handleRunDetail(ctx *gin.Context) {
	filter := stats.ListFilter{}.
		SetDataset(api.conf.Dataset.ID).
		SetMethod(api.conf.ServedMethod)
	detail, err := api.runsDB.GetRunDetail(ctx.Param("runId"), filter)
	if errors.Is(err, stats.ErrRunNotFound) {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusNotFound)
		return

	} else if err != nil {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
		return
	}
	uniresp.WriteJSONResponse(ctx.Writer, detail)
}

func (api *apiServer) handleAllScores(ctx *gin.Context) {
	scores, err := api.scoreDB.AllScores(api.conf.ServedMethod, api.conf.Dataset.ID)
	if err != nil {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
		return
	}
	if len(scores) == 0 {
		uniresp.RespondWithErrorJSON(
			ctx,
			fmt.Errorf("no scores found for %s/%s", api.conf.ServedMethod, api.conf.Dataset.ID),
			http.StatusNotFound,
		)
		return
	}
	updated, err := api.scoreDB.ReadTimestamp(index.SeriesKey(api.conf.ServedMethod, api.conf.Dataset.ID))
	if err != nil {
		uniresp.RespondWithErrorJSON(ctx, err, http.StatusInternalServerError)
		return
	}
	uniresp.WriteJSONResponse(
		ctx.Writer,
		seriesScores{
			Method:    api.conf.ServedMethod,
			Dataset:   api.conf.Dataset.ID,
			Updated:   updated,
			Threshold: api.detector.Threshold(),
			Scores:    scores,
		},
	)
}
