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

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/czcorpus/rulizer/cnf"
	"github.com/czcorpus/rulizer/dataset"
	"github.com/czcorpus/rulizer/eval"
	"github.com/czcorpus/rulizer/eval/registry"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
)

const (
	replTraceLength = 10
)

func ensureConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(homeDir, ".config", "rulizer")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}

// replSession keeps test scores of a loaded model so that predictions
// can be recalculated with different threshold and maxRUL quickly.
type replSession struct {
	method    string
	modelPath string
	scores    []float64
	groups    []dataset.UnitGroup
	truth     map[int]float64
	threshold float64
	maxRUL    float64
	preds     []eval.PredictionRecord
}

func (s *replSession) recalc() error {
	preds, err := eval.PredictFromScores(s.groups, s.scores, s.threshold, s.maxRUL)
	if err != nil {
		return err
	}
	s.preds = preds
	return nil
}

// set validates and applies a new threshold or maxRUL. On error
// the session keeps its previous values and predictions.
func (s *replSession) set(param string, value float64) error {
	threshold, maxRUL := s.threshold, s.maxRUL
	switch param {
	case "threshold":
		threshold = value
	case "maxrul":
		maxRUL = value
	default:
		return fmt.Errorf("unknown parameter '%s'", param)
	}
	if err := eval.ValidateRULParams(threshold, maxRUL); err != nil {
		return err
	}
	preds, err := eval.PredictFromScores(s.groups, s.scores, threshold, maxRUL)
	if err != nil {
		return err
	}
	s.threshold, s.maxRUL, s.preds = threshold, maxRUL, preds
	return nil
}

func (s *replSession) findUnit(unitID int) (eval.PredictionRecord, dataset.UnitGroup, bool) {
	for i, p := range s.preds {
		if p.UnitID == unitID {
			return p, s.groups[i], true
		}
	}
	return eval.PredictionRecord{}, dataset.UnitGroup{}, false
}

func runActionREPL(conf *cnf.Conf, method string) {
	method = resolveMethod(conf, method)
	env, closeEnv, err := openEnv(conf, false, false)
	exitOnError(err)
	defer closeEnv()
	det, modelPath, err := env.loadMethod(method)
	exitOnError(err)
	scores, err := det.Score(env.data.Test)
	exitOnError(err)
	groups, err := env.data.Test.GroupByUnit()
	exitOnError(err)
	sess := &replSession{
		method:    method,
		modelPath: modelPath,
		scores:    scores,
		groups:    groups,
		truth:     make(map[int]float64, len(env.data.Truth)),
		threshold: det.Threshold(),
		maxRUL:    conf.Detection.MaxRUL,
	}
	for _, t := range env.data.Truth {
		sess.truth[t.UnitID] = t.RUL
	}
	exitOnError(sess.recalc())

	titleColor := color.New(color.FgHiMagenta).SprintFunc()
	greenColor := color.New(color.FgGreen).SprintFunc()
	redColor := color.New(color.FgRed).SprintFunc()

	fmt.Printf("RUL explorer (%s, %s)\n", registry.Label(method), conf.Dataset.ID)
	fmt.Println("Commands:")
	fmt.Println("  <unit ID>              - show prediction and recent scores of a test unit")
	fmt.Println("  units                  - list predictions of all test units")
	fmt.Println("  eval                   - evaluate predictions against ground truth")
	fmt.Println("  set threshold <value>  - override the anomaly threshold")
	fmt.Println("  set maxrul <value>     - set RUL assigned to a healthy unit")
	fmt.Println("  reset                  - restore the model threshold")
	fmt.Println("  setup                  - view current settings")
	fmt.Println("  exit                   - Exit REPL")
	fmt.Println()

	var historyFile string
	historyDir, err := ensureConfigDir()
	if err != nil {
		log.Error().Err(err).Msg("failed to determine user config directory - falling back to session-local history")

	} else {
		historyFile = filepath.Join(historyDir, "rul-history.txt")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      color.New(color.FgHiGreen).Sprintf("/rul> "),
		HistoryFile: historyFile,
	})
	exitOnError(err)
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nRULizer out!")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if input == "exit" {
			fmt.Println("Goodbye!")
			break
		}

		if strings.HasPrefix(input, "set ") {
			parsedInput := strings.Fields(input)[1:]
			if len(parsedInput) != 2 {
				fmt.Println("Usage: set threshold|maxrul <value>")
				continue
			}
			value, err := strconv.ParseFloat(parsedInput[1], 64)
			if err != nil {
				fmt.Println("failed to parse number")
				continue
			}
			if err := sess.set(parsedInput[0], value); err != nil {
				fmt.Println(redColor(err))
			}
			continue

		} else if input == "reset" {
			if err := sess.set("threshold", det.Threshold()); err != nil {
				fmt.Println(redColor(err))
			}
			continue

		} else if input == "setup" {
			fmt.Printf("%s:\t\t%s\n", titleColor("Model"), sess.modelPath)
			fmt.Printf("%s:\t%.6f (model: %.6f)\n", titleColor("Threshold"), sess.threshold, det.Threshold())
			fmt.Printf("%s:\t\t%.1f\n", titleColor("Max RUL"), sess.maxRUL)
			fmt.Printf("%s:\t%v\n", titleColor("Features"), det.Features())
			continue

		} else if input == "units" {
			for _, p := range sess.preds {
				fmt.Printf("unit %3d\tpredicted: %6.1f\ttrue: %6.1f\tlast score: %.4f\n",
					p.UnitID, p.PredictedRUL, sess.truth[p.UnitID], p.LastError)
			}
			continue

		} else if input == "eval" {
			metrics, err := eval.Evaluate(sess.preds, env.data.Truth)
			if err != nil {
				fmt.Println(redColor(err))
				continue
			}
			eval.FormatMetrics(os.Stdout, registry.Label(method), metrics)
			continue
		}

		unitID, err := strconv.Atoi(input)
		if err != nil {
			fmt.Println("Unknown command")
			continue
		}
		pred, grp, ok := sess.findUnit(unitID)
		if !ok {
			fmt.Printf("unit %d not found\n", unitID)
			continue
		}
		fmt.Printf("%s: %.1f\n", titleColor("Predicted RUL"), pred.PredictedRUL)
		if v, ok := sess.truth[unitID]; ok {
			fmt.Printf("%s:      %.1f\n", titleColor("True RUL"), v)
		}
		fmt.Printf("%s: last=%.4f, mean=%.4f, max=%.4f\n",
			titleColor("Scores"), pred.LastError, pred.MeanError, pred.MaxError)
		start := max(0, len(grp.Rows)-replTraceLength)
		for _, rowIdx := range grp.Rows[start:] {
			score := sess.scores[rowIdx]
			cycle, _ := env.data.Test.Value(rowIdx, dataset.ColTimeCycles)
			label := greenColor("ok")
			if score > sess.threshold {
				label = redColor("anomaly")
			}
			fmt.Printf("  cycle %4.0f\t%.4f\t%s\n", cycle, score, label)
		}
	}
}
