// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hpc-submit/pkg/config"
	"hpc-submit/pkg/logging"
	"hpc-submit/pkg/orchestrator"
	"hpc-submit/pkg/orchestrator/slurm"
	"hpc-submit/pkg/resolve"
	"hpc-submit/pkg/run"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	gpuMemory     int
	ramTier       orchestrator.RAMTier
	debugQoS      bool
	gpuCount      int
	cpuCount      = orchestrator.CPUCount(10)
	hours         int
	minutes       int
	jobName       string
	modules       []string
	taskCount     int
	tasksPerNode  int
	submissionDir string
	errorFile     string
	outputFile    string
	scriptFile    string
	condaPath     string
	commandToRun  string
	email         string
	envName       string
	preload       bool
	prePost       bool
	account       string
	tag           string
	workPath      string
	live          bool
	postScript    string

	attach bool
	dryRun bool
)

func init() {
	f := rootCmd.Flags()
	f.IntVar(&gpuMemory, "gb", 0, fmt.Sprintf("GPU memory class in GB, one of %v.", orchestrator.ValidGPUMemory))
	f.Var(&ramTier, "ram", "RAM tier: l (384GB V100 nodes), m (A100 80GB nodes) or h (768GB V100 nodes).")
	f.BoolVar(&debugQoS, "debug", false, "Submit to the debug QoS (at most 2 hours and 32 GPUs).")
	f.IntVarP(&gpuCount, "ngpu", "g", 1, "Number of GPUs, 0 for a CPU-only job.")
	f.VarP(&cpuCount, "ncpu", "c", "CPUs per task, or 'max' for the largest count the hardware allows.")
	f.IntVarP(&hours, "hours", "t", 72, "Time limit, hours part.")
	f.IntVarP(&minutes, "minutes", "m", 0, "Time limit, minutes part.")
	f.StringVarP(&jobName, "name", "n", "", "Job name. Defaults to the tag, then to the user name.")
	f.StringSliceVarP(&modules, "module-load", "l", nil, "Modules to load, in order.")
	f.IntVar(&taskCount, "ntasks", 0, "Number of tasks. Defaults to one per GPU.")
	f.IntVar(&tasksPerNode, "ntasks-per-node", 0, "Tasks per node. Defaults to one per GPU of a node.")
	f.StringVar(&submissionDir, "submission-dir", "", "Directory for the script and logs. Defaults to $SUB/<tag>/<date>.")
	f.StringVarP(&errorFile, "error-file", "e", "log.txt", "Error log, relative to the submission directory.")
	f.StringVarP(&outputFile, "output-file", "o", "log.txt", "Output log, relative to the submission directory.")
	f.StringVarP(&scriptFile, "script-file", "s", "script.txt", "Batch script, relative to the submission directory.")
	f.StringVar(&condaPath, "conda-path", "", "Conda installation holding --env. Defaults to $WORK/miniconda3.")
	f.StringVar(&commandToRun, "command", "python", "Main command; 'python' and 'accelerate' get dedicated launch lines.")
	f.StringVar(&email, "email", "", "Address notified of every job state change.")
	f.StringVar(&envName, "env", "", "Conda environment to activate.")
	f.BoolVar(&preload, "preload", false, "Keep the modules loaded at submission instead of purging them.")
	f.BoolVar(&prePost, "prepost", false, "Run on a pre/post-processing node.")
	f.StringVar(&account, "account", "", "Account to charge, as project@pool. The pool is adjusted to the hardware.")
	f.StringVar(&tag, "tag", "", "Experiment tag grouping submissions.")
	f.StringVar(&workPath, "path", "", "Directory the job starts in. Defaults to the current directory.")
	f.BoolVar(&live, "live", false, "Follow the output log after submitting.")
	f.StringVar(&postScript, "post-script", "", "Script whose content runs before the main command.")
	f.BoolVar(&attach, "attach", false, "Start the interactive session instead of printing its command.")
	f.BoolVar(&dryRun, "dry-run", false, "Write the script without submitting it.")
}

// buildJobDefinition assembles the request from the parsed flags, falling
// back to the configuration for unset values.
func buildJobDefinition(flags *pflag.FlagSet, s config.Settings) (orchestrator.JobDefinition, error) {
	path := workPath
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return orchestrator.JobDefinition{}, fmt.Errorf("failed to get the current directory: %w", err)
		}
		path = wd
	}

	mods := modules
	if !flags.Changed("module-load") {
		mods = s.Modules
	}

	job := orchestrator.JobDefinition{
		Command:       commandToRun,
		Args:          commandArgs,
		Debug:         debugQoS,
		Tag:           tag,
		Name:          jobName,
		SubmissionDir: submissionDir,
		PrePost:       prePost,
		GPUMemoryGB:   gpuMemory,
		RAMTier:       ramTier,
		GPUCount:      gpuCount,
		CPUCount:      int(cpuCount),
		TaskCount:     taskCount,
		TasksPerNode:  tasksPerNode,
		Hours:         hours,
		Minutes:       minutes,
		OutputFile:    outputFile,
		ErrorFile:     errorFile,
		ScriptFile:    scriptFile,
		EnvName:       envName,
		EnvRoot:       firstNonEmpty(condaPath, s.CondaPath),
		Preload:       preload,
		Modules:       append([]string{}, mods...),
		PostScript:    postScript,
		Email:         firstNonEmpty(email, s.Email),
		Account:       firstNonEmpty(account, s.Account),
		Live:          live,
		Path:          path,
	}
	return job, job.Validate()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runRunCmd(cmd *cobra.Command, _ []string) {
	job, err := buildJobDefinition(cmd.Flags(), settings)
	if err != nil {
		logging.Fatal("%v", err)
	}
	if !job.Interactive() && job.SubmissionDir == "" && settings.SubmissionsRoot == "" {
		logging.Fatal("The submissions root is unknown. Set $STORE or $SUB, or pass --submission-dir.")
	}

	slurmOrchestrator, err := slurm.NewSlurmOrchestrator()
	if err != nil {
		logging.Fatal("Failed to create Slurm orchestrator: %v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = run.ExecuteRun(ctx, appFs, slurmOrchestrator, run.RunOptions{
		Job: job,
		Env: resolve.Environment{
			Now:             time.Now(),
			SubmissionsRoot: settings.SubmissionsRoot,
			HomeDir:         settings.HomeDir,
			WorkDir:         settings.WorkRoot,
		},
		StoreRoot:  settings.StoreRoot,
		MasterPort: settings.MasterPort,
		DryRun:     dryRun,
		Attach:     attach,
		Stdout:     cmd.OutOrStdout(),
	})
	if err != nil {
		logging.Fatal("jzsub failed: %v", err)
	}
}
