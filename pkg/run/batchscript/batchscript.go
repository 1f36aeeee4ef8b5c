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

// Package batchscript assembles sbatch scripts from a resolved plan.
package batchscript

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"hpc-submit/pkg/orchestrator"
	"hpc-submit/pkg/resolve"
	"hpc-submit/pkg/run/accelerate"
)

const (
	Interpreter     = "/bin/bash"
	DirectivePrefix = "#SBATCH"
	injectedComment = "saccelerate injected script"
)

// ErrNoGPUs is returned when a distributed launch has no GPU to run on.
var ErrNoGPUs = errors.New("accelerate launch requires at least one gpu")

// AffinityDirectives are appended to every script after the resolved ones.
var AffinityDirectives = []resolve.Directive{
	{Flag: "--hint", Value: "nomultithread"},
	{Flag: "--distribution", Value: "block:block"},
}

// LineKind distinguishes the lines of a script.
type LineKind int

const (
	ShebangLine LineKind = iota
	DirectiveLine
	CommandLine
	CommentLine
	BlankLine
	RawLine
)

// Line is one typed element of a batch script. Raw lines may span several
// physical lines.
type Line struct {
	Kind      LineKind
	Text      string
	Directive resolve.Directive
}

func Shebang() Line { return Line{Kind: ShebangLine, Text: Interpreter} }

func Directive(d resolve.Directive) Line { return Line{Kind: DirectiveLine, Directive: d} }

func Command(text string) Line { return Line{Kind: CommandLine, Text: text} }

func Comment(text string) Line { return Line{Kind: CommentLine, Text: text} }

func Blank() Line { return Line{Kind: BlankLine} }

// Raw includes content verbatim, such as a user supplied script.
func Raw(content string) Line { return Line{Kind: RawLine, Text: content} }

// String renders the line.
func (l Line) String() string {
	switch l.Kind {
	case ShebangLine:
		return "#!" + l.Text
	case DirectiveLine:
		return DirectivePrefix + " " + l.Directive.String()
	case CommentLine:
		return "# " + l.Text
	case BlankLine:
		return ""
	case RawLine:
		return strings.TrimRight(l.Text, "\n")
	default:
		return l.Text
	}
}

// Script is an ordered batch script.
type Script []Line

// Render returns the script text, newline terminated.
func (s Script) Render() string {
	var b strings.Builder
	for _, l := range s {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Directives returns the directive lines in order.
func (s Script) Directives() []resolve.Directive {
	var ds []resolve.Directive
	for _, l := range s {
		if l.Kind == DirectiveLine {
			ds = append(ds, l.Directive)
		}
	}
	return ds
}

// Options holds the inputs of a script that are not part of the plan.
type Options struct {
	// HomeDir locates the shell profile sourced at the start of the job.
	HomeDir string
	// PostScript is the content of the user's post script, already read.
	PostScript string
}

// Assemble builds the batch script for plan. It has no side effects.
func Assemble(plan *resolve.Plan, opts Options) (Script, error) {
	s := Script{Shebang(), Blank()}
	for _, d := range plan.Directives {
		s = append(s, Directive(d))
	}
	for _, d := range AffinityDirectives {
		s = append(s, Directive(d))
	}

	s = append(s, Command("source "+filepath.Join(opts.HomeDir, ".bashrc")))
	if plan.Purge {
		s = append(s, Command("module purge"))
	}
	for _, m := range plan.Modules {
		s = append(s, Command("module load "+m))
	}
	if plan.EnvPath != "" {
		s = append(s, Command("conda activate "+plan.EnvPath))
	}

	s = append(s, Command("set -x"), Blank(), Command("cd "+plan.WorkDir))
	if plan.PostScript != "" {
		s = append(s, Blank(), Raw(opts.PostScript))
	}

	launch, err := launchLines(plan)
	if err != nil {
		return nil, err
	}
	s = append(s, launch...)
	return s, nil
}

// launchLines returns the lines that start the main command.
func launchLines(plan *resolve.Plan) (Script, error) {
	var s Script
	var command string

	switch plan.Kind {
	case orchestrator.AccelerateCommand:
		if plan.GPUs < 1 {
			return nil, ErrNoGPUs
		}
		if plan.MultiNode() {
			s = append(s, Blank(), Comment(injectedComment),
				Command("python "+accelerate.GeneratorScriptRef))
			command = "accelerate launch --config_file " + accelerate.RankConfigRef
		} else {
			s = append(s,
				Blank(),
				Comment(injectedComment),
				Command("export HOSTNAMES=`scontrol show hostnames \"$SLURM_JOB_NODELIST\"`"),
				Command("export MASTER_ADDR=$(scontrol show hostnames \"$SLURM_JOB_NODELIST\" | head -n 1)"),
				Command("export MASTER_PORT=6000"),
			)
			multiGPU := " "
			if plan.GPUs > 1 {
				multiGPU = " --multi_gpu "
			}
			command = fmt.Sprintf("accelerate launch --num_processes=%d%s--main_process_ip $MASTER_ADDR --main_process_port $MASTER_PORT",
				plan.GPUs, multiGPU)
		}
	case orchestrator.PythonCommand:
		command = "python -u"
	default:
		command = plan.Command
	}

	s = append(s, Blank(), Command("srun "+command+" "+strings.Join(plan.Args, " ")))
	return s, nil
}

// ExtractDirectives parses the #SBATCH block back out of a rendered script.
func ExtractDirectives(text string) []resolve.Directive {
	var ds []resolve.Directive
	for _, line := range strings.Split(text, "\n") {
		rest, ok := strings.CutPrefix(line, DirectivePrefix+" ")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		var d resolve.Directive
		if strings.HasPrefix(rest, "--") {
			d.Flag, d.Value, _ = strings.Cut(rest, "=")
		} else {
			d.Flag, d.Value, _ = strings.Cut(rest, " ")
		}
		ds = append(ds, d)
	}
	return ds
}

// InteractiveCommand builds the srun invocation that opens a shell with the
// plan's resources. Log redirections make no sense for a terminal session,
// so flags mentioning error, input or output are dropped.
func InteractiveCommand(plan *resolve.Plan) []string {
	args := []string{"srun", "--pty"}
	for _, d := range plan.Directives {
		if strings.Contains(d.Flag, "error") || strings.Contains(d.Flag, "input") || strings.Contains(d.Flag, "output") {
			continue
		}
		if strings.HasPrefix(d.Flag, "--") || d.Value == "" {
			args = append(args, d.String())
		} else {
			args = append(args, d.Flag, d.Value)
		}
	}
	return append(args, "bash")
}
