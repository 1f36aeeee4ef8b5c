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

// Package run writes a job's batch script and hands it to the scheduler.
package run

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"hpc-submit/pkg/logging"
	"hpc-submit/pkg/orchestrator"
	"hpc-submit/pkg/orchestrator/slurm"
	"hpc-submit/pkg/resolve"
	"hpc-submit/pkg/run/accelerate"
	"hpc-submit/pkg/run/batchscript"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// RecordFileName is the plan record written next to each script.
const RecordFileName = "plan.yaml"

// RunOptions holds all the necessary parameters for the submit workflow.
type RunOptions struct {
	Job orchestrator.JobDefinition
	Env resolve.Environment
	// StoreRoot receives the rank config generator of multi-node launches.
	StoreRoot  string
	MasterPort int
	// DryRun writes the script and record without submitting.
	DryRun bool
	// Attach runs the interactive session instead of only printing it.
	Attach bool
	// Stdout receives the messages meant for the user's terminal.
	Stdout io.Writer
}

// Result describes what a run produced.
type Result struct {
	Plan               *resolve.Plan
	JobID              string
	RecordPath         string
	InteractiveCommand []string
}

// Record is the YAML summary of a submission, kept for the log viewer.
type Record struct {
	JobID       string              `yaml:"job_id,omitempty"`
	CreatedAt   time.Time           `yaml:"created_at"`
	Command     string              `yaml:"command"`
	Args        []string            `yaml:"args,omitempty"`
	Summary     string              `yaml:"summary"`
	Script      string              `yaml:"script"`
	Output      string              `yaml:"output"`
	Error       string              `yaml:"error"`
	Environment string              `yaml:"environment,omitempty"`
	Modules     []string            `yaml:"modules,omitempty"`
	Directives  []resolve.Directive `yaml:"directives"`
	Warnings    []string            `yaml:"warnings,omitempty"`
}

// NewRecord summarises plan.
func NewRecord(plan *resolve.Plan, createdAt time.Time) Record {
	return Record{
		CreatedAt:   createdAt,
		Command:     plan.Command,
		Args:        plan.Args,
		Summary:     plan.Summary(),
		Script:      plan.ScriptPath,
		Output:      plan.OutputPath,
		Error:       plan.ErrorPath,
		Environment: plan.EnvPath,
		Modules:     plan.Modules,
		Directives:  plan.Directives,
		Warnings:    plan.Warnings,
	}
}

// TraceHint tells the user how to follow a job they did not tail live.
func TraceHint(outputPath string) string {
	return fmt.Sprintf("\n--------------------------\nto trace run:\n\ntail -f -n %d %s\n", slurm.TailLines, outputPath)
}

// ExecuteRun resolves the job, writes its files through fs and submits it
// with orch. Nothing is written when resolution or a precondition fails.
func ExecuteRun(ctx context.Context, fs afero.Fs, orch orchestrator.Orchestrator, opts RunOptions) (*Result, error) {
	out := opts.Stdout
	if out == nil {
		out = io.Discard
	}

	plan, err := resolve.Resolve(opts.Job, opts.Env)
	if err != nil {
		return nil, err
	}
	for _, w := range plan.Warnings {
		logging.Warn("%s", w)
	}
	logging.Info("Resolved %s", plan.Summary())
	res := &Result{Plan: plan}

	if opts.Job.Interactive() {
		res.InteractiveCommand = batchscript.InteractiveCommand(plan)
		fmt.Fprintln(out, strings.Join(res.InteractiveCommand, " "))
		if opts.Attach {
			if err := orch.Interactive(ctx, res.InteractiveCommand); err != nil {
				return res, err
			}
		}
		return res, nil
	}

	if plan.EnvPath != "" {
		ok, err := afero.DirExists(fs, plan.EnvRoot)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to check conda installation %s", plan.EnvRoot)
		}
		if !ok {
			return nil, errors.Errorf("conda installation %s not found, set --conda-path", plan.EnvRoot)
		}
	}

	var postScript string
	if plan.PostScript != "" {
		content, err := afero.ReadFile(fs, plan.PostScript)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read post script %s", plan.PostScript)
		}
		postScript = string(content)
	}

	script, err := batchscript.Assemble(plan, batchscript.Options{HomeDir: opts.Env.HomeDir, PostScript: postScript})
	if err != nil {
		return nil, err
	}

	// Must precede any write to the submission directory.
	if plan.Kind == orchestrator.AccelerateCommand && plan.MultiNode() {
		if _, _, err := accelerate.Install(fs, opts.StoreRoot, accelerate.GeneratorOptions{MasterPort: opts.MasterPort}); err != nil {
			return nil, err
		}
	}

	dirs := []string{plan.SubmissionDir, filepath.Dir(plan.OutputPath), filepath.Dir(plan.ErrorPath), filepath.Dir(plan.ScriptPath)}
	for _, dir := range dirs {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := afero.WriteFile(fs, plan.ScriptPath, []byte(script.Render()), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to write script %s", plan.ScriptPath)
	}
	logging.Info("Script written to %s", plan.ScriptPath)

	record := NewRecord(plan, opts.Env.Now)
	res.RecordPath = filepath.Join(plan.SubmissionDir, RecordFileName)
	if err := writeRecord(fs, res.RecordPath, record); err != nil {
		return nil, err
	}

	if opts.DryRun {
		logging.Info("Dry run, not submitting %s", plan.ScriptPath)
		return res, nil
	}

	id, err := orch.Submit(ctx, plan.ScriptPath)
	if err != nil {
		return res, err
	}
	res.JobID = id
	logging.Info("Submitted batch job %s", id)
	record.JobID = id
	if err := writeRecord(fs, res.RecordPath, record); err != nil {
		return res, err
	}

	if !plan.Live {
		fmt.Fprint(out, TraceHint(plan.OutputPath))
		return res, nil
	}
	if err := touch(fs, plan.OutputPath); err != nil {
		return res, err
	}
	return res, orch.Tail(ctx, plan.OutputPath)
}

func writeRecord(fs afero.Fs, path string, r Record) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to encode plan record")
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write plan record %s", path)
	}
	return nil
}

// ReadRecord loads a plan record.
func ReadRecord(fs afero.Fs, path string) (Record, error) {
	var r Record
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return r, errors.Wrapf(err, "failed to read plan record %s", path)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, errors.Wrapf(err, "failed to parse plan record %s", path)
	}
	return r, nil
}

// touch creates path if it does not exist, so that tail can follow it
// before the job starts writing.
func touch(fs afero.Fs, path string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return errors.Wrapf(err, "failed to check %s", path)
	}
	if exists {
		return nil
	}
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	return f.Close()
}
