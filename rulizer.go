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
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/czcorpus/rulizer/cnf"
	"github.com/fatih/color"
)

const (
	actionVersion  = "version"
	actionHelp     = "help"
	actionCurate   = "curate"
	actionFit      = "fit"
	actionEvaluate = "evaluate"
	actionDetect   = "detect"
	actionRun      = "run"
	actionRuns     = "runs"
	actionREPL     = "repl"
	actionServer   = "server"

	envFileName = ".env"
)

var (
	version   string
	buildDate string
	gitCommit string
)

func topLevelUsage() {
	fmt.Fprintf(os.Stderr, "RULIZER - turbofan anomaly detection and remaining useful life estimation\n")
	fmt.Fprintf(os.Stderr, "-----------------------------\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\t%s\t\tshow version info\n", actionVersion)
	fmt.Fprintf(os.Stderr, "\t%s\t\tload raw data, select features and store processed data\n", actionCurate)
	fmt.Fprintf(os.Stderr, "\t%s\t\tfit a detector on the processed training data\n", actionFit)
	fmt.Fprintf(os.Stderr, "\t%s\tpredict RUL of the test units and compare with the ground truth\n", actionEvaluate)
	fmt.Fprintf(os.Stderr, "\t%s\t\tscore the training data and report anomaly coverage\n", actionDetect)
	fmt.Fprintf(os.Stderr, "\t%s\t\tcurate, fit, evaluate and detect with all configured methods\n", actionRun)
	fmt.Fprintf(os.Stderr, "\t%s\t\tlist stored runs or show a run detail\n", actionRuns)
	fmt.Fprintf(os.Stderr, "\t%s\t\tinteractive exploration of a fitted model\n", actionREPL)
	fmt.Fprintf(os.Stderr, "\t%s\t\trun HTTP API server\n", actionServer)
	fmt.Fprintf(os.Stderr, "\nUse `rulizer help ACTION` for information about a specific action\n\n")
}

func setup(confPath string) *cnf.Conf {
	conf := cnf.LoadConfig(confPath)
	if conf.Logging.Level == "" {
		conf.Logging.Level = "info"
	}
	logging.SetupLogging(conf.Logging)
	envPaths := []string{envFileName, filepath.Join(filepath.Dir(confPath), envFileName)}
	if err := cnf.ApplyEnvOverrides(conf, envPaths...); err != nil {
		color.New(errColor).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cnf.ValidateAndDefaults(conf); err != nil {
		color.New(errColor).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return conf
}

func cleanVersionInfo(v string) string {
	return strings.TrimLeft(strings.Trim(v, "'"), "v")
}

func newFlagSet(action, description string) *flag.FlagSet {
	cmd := flag.NewFlagSet(action, flag.ExitOnError)
	cmd.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\t%s %s [options] config.json\n\t",
			filepath.Base(os.Args[0]), action)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		cmd.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n%s\n", description)
	}
	return cmd
}

func main() {
	version := cnf.VersionInfo{
		Version:   cleanVersionInfo(version),
		BuildDate: cleanVersionInfo(buildDate),
		GitCommit: cleanVersionInfo(gitCommit),
	}

	cmdVersion := flag.NewFlagSet(actionVersion, flag.ExitOnError)
	cmdHelp := flag.NewFlagSet(actionHelp, flag.ExitOnError)

	cmdCurate := newFlagSet(actionCurate, "Load raw CMAPSS files, remove constant and redundant sensors and store the processed data")

	cmdFit := newFlagSet(actionFit, "Fit a detector and store the model to the output directory")
	fitMethod := cmdFit.String("method", "", "detector (pca, zscore, iforest, rf, nn); servedMethod is used if empty")

	cmdEvaluate := newFlagSet(actionEvaluate, "Evaluate RUL predictions of a fitted model and store the run")
	evalMethod := cmdEvaluate.String("method", "", "detector (pca, zscore, iforest, rf, nn); servedMethod is used if empty")

	cmdDetect := newFlagSet(actionDetect, "Score the training data, report anomaly coverage and store the scores")
	detectMethod := cmdDetect.String("method", "", "detector (pca, zscore, iforest, rf, nn); servedMethod is used if empty")

	cmdRun := newFlagSet(actionRun, "Run the whole pipeline for all the configured methods")
	skipCuration := cmdRun.Bool("skip-curation", false, "use already processed data")

	cmdRuns := newFlagSet(actionRuns, "List stored runs of the configured dataset")
	runsMethod := cmdRuns.String("method", "", "show only runs of the method")
	runsLimit := cmdRuns.Int("limit", 20, "maximum number of listed runs")
	runsID := cmdRuns.String("id", "", "show details and predictions of a run (use 'latest' for the newest one)")

	cmdREPL := newFlagSet(actionREPL, "Explore predictions of a fitted model interactively")
	replMethod := cmdREPL.String("method", "", "detector (pca, zscore, iforest, rf, nn); servedMethod is used if empty")

	cmdServer := newFlagSet(actionServer, "Run HTTP API server providing predictions of the servedMethod model")

	flagSets := map[string]*flag.FlagSet{
		actionCurate:   cmdCurate,
		actionFit:      cmdFit,
		actionEvaluate: cmdEvaluate,
		actionDetect:   cmdDetect,
		actionRun:      cmdRun,
		actionRuns:     cmdRuns,
		actionREPL:     cmdREPL,
		actionServer:   cmdServer,
	}

	action := actionHelp
	if len(os.Args) > 1 {
		action = os.Args[1]
	}

	switch action {
	case actionHelp:
		var subj string
		if len(os.Args) > 2 {
			cmdHelp.Parse(os.Args[2:])
			subj = cmdHelp.Arg(0)
		}
		if fs, ok := flagSets[subj]; ok {
			fs.Usage()
			return
		}
		topLevelUsage()
	case actionVersion:
		cmdVersion.Parse(os.Args[2:])
		runActionVersion(version)
	case actionCurate:
		cmdCurate.Parse(os.Args[2:])
		runActionCurate(setup(cmdCurate.Arg(0)))
	case actionFit:
		cmdFit.Parse(os.Args[2:])
		runActionFit(setup(cmdFit.Arg(0)), *fitMethod)
	case actionEvaluate:
		cmdEvaluate.Parse(os.Args[2:])
		runActionEvaluate(setup(cmdEvaluate.Arg(0)), *evalMethod)
	case actionDetect:
		cmdDetect.Parse(os.Args[2:])
		runActionDetect(setup(cmdDetect.Arg(0)), *detectMethod)
	case actionRun:
		cmdRun.Parse(os.Args[2:])
		runActionRun(setup(cmdRun.Arg(0)), *skipCuration)
	case actionRuns:
		cmdRuns.Parse(os.Args[2:])
		runActionRuns(setup(cmdRuns.Arg(0)), *runsMethod, *runsID, *runsLimit)
	case actionREPL:
		cmdREPL.Parse(os.Args[2:])
		runActionREPL(setup(cmdREPL.Arg(0)), *replMethod)
	case actionServer:
		cmdServer.Parse(os.Args[2:])
		runActionServer(setup(cmdServer.Arg(0)), version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown action, please use 'help' to get more information")
		os.Exit(1)
	}
}
