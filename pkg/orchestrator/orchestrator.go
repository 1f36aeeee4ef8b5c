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

package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// UseMaximumCPUs requests the largest CPU count per task the selected hardware allows.
const UseMaximumCPUs = -1

// CommandKind classifies the main command of a job.
type CommandKind int

const (
	// GenericCommand is any executable, run as given.
	GenericCommand CommandKind = iota
	// PythonCommand runs an interpreted script with unbuffered output.
	PythonCommand
	// AccelerateCommand is a distributed training launch.
	AccelerateCommand
)

func (k CommandKind) String() string {
	switch k {
	case PythonCommand:
		return "python"
	case AccelerateCommand:
		return "accelerate"
	default:
		return "generic"
	}
}

// RAMTier is the secondary memory tier modifier.
type RAMTier string

const (
	RAMUnset  RAMTier = ""
	RAMLow    RAMTier = "l"
	RAMMedium RAMTier = "m"
	RAMHigh   RAMTier = "h"
)

// String implements pflag.Value.
func (r *RAMTier) String() string { return string(*r) }

// Type implements pflag.Value.
func (r *RAMTier) Type() string { return "l|m|h" }

// Set implements pflag.Value.
func (r *RAMTier) Set(s string) error {
	switch RAMTier(s) {
	case RAMLow, RAMMedium, RAMHigh:
		*r = RAMTier(s)
		return nil
	}
	return fmt.Errorf("invalid ram tier %q, expected one of l, m, h", s)
}

// CPUCount is a CPU-per-task request that also accepts "max".
type CPUCount int

// String implements pflag.Value.
func (c *CPUCount) String() string {
	if *c == UseMaximumCPUs {
		return "max"
	}
	return strconv.Itoa(int(*c))
}

// Type implements pflag.Value.
func (c *CPUCount) Type() string { return "int|max" }

// Set implements pflag.Value.
func (c *CPUCount) Set(s string) error {
	if s == "max" {
		*c = UseMaximumCPUs
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid cpu count %q: expected an integer or \"max\"", s)
	}
	if n < UseMaximumCPUs || n == 0 {
		return fmt.Errorf("invalid cpu count %d", n)
	}
	*c = CPUCount(n)
	return nil
}

// ValidGPUMemory lists the GPU memory classes the cluster offers, in GB.
var ValidGPUMemory = []int{16, 32, 40, 80}

// JobDefinition holds everything a user asks for when submitting a job.
// It is built once from the command line and never modified afterwards.
type JobDefinition struct {
	Command string
	// Args is the pass-through command line. A nil slice requests an
	// interactive session instead of a batch script.
	Args []string

	Debug         bool
	Tag           string
	Name          string
	SubmissionDir string
	PrePost       bool

	GPUMemoryGB int // 0 when unset
	RAMTier     RAMTier
	GPUCount    int
	CPUCount    int // UseMaximumCPUs for the hardware maximum

	// Zero means "derive from the GPU layout".
	TaskCount    int
	TasksPerNode int

	Hours   int
	Minutes int

	OutputFile string
	ErrorFile  string
	ScriptFile string

	EnvName    string
	EnvRoot    string
	Preload    bool
	Modules    []string
	PostScript string

	Email   string
	Account string
	Live    bool
	Path    string
}

// Kind returns the command classification.
func (j JobDefinition) Kind() CommandKind {
	switch j.Command {
	case "python":
		return PythonCommand
	case "accelerate":
		return AccelerateCommand
	default:
		return GenericCommand
	}
}

// Interactive reports whether the job asks for an interactive session.
func (j JobDefinition) Interactive() bool {
	return j.Args == nil
}

// Validate checks value ranges. Cross-field legality is checked during resolution.
func (j JobDefinition) Validate() error {
	var problems []string
	if strings.TrimSpace(j.Command) == "" {
		problems = append(problems, "command must not be empty")
	}
	if j.GPUMemoryGB != 0 {
		ok := false
		for _, gb := range ValidGPUMemory {
			ok = ok || gb == j.GPUMemoryGB
		}
		if !ok {
			problems = append(problems, fmt.Sprintf("gpu memory %dGB is not one of %v", j.GPUMemoryGB, ValidGPUMemory))
		}
	}
	switch j.RAMTier {
	case RAMUnset, RAMLow, RAMMedium, RAMHigh:
	default:
		problems = append(problems, fmt.Sprintf("ram tier %q is not one of l, m, h", j.RAMTier))
	}
	if j.GPUCount < 0 {
		problems = append(problems, "gpu count must not be negative")
	}
	if j.CPUCount < UseMaximumCPUs || j.CPUCount == 0 {
		problems = append(problems, fmt.Sprintf("cpu count %d is invalid", j.CPUCount))
	}
	if j.TaskCount < 0 || j.TasksPerNode < 0 {
		problems = append(problems, "task counts must not be negative")
	}
	if j.Hours < 0 || j.Minutes < 0 {
		problems = append(problems, "time must not be negative")
	}
	if j.OutputFile == "" || j.ErrorFile == "" || j.ScriptFile == "" {
		problems = append(problems, "output, error and script file names must be set")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid job definition: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Orchestrator defines the interface for submitting and following jobs on a cluster.
type Orchestrator interface {
	// Submit hands the batch script at scriptPath to the scheduler and
	// returns the identifier it assigned.
	Submit(ctx context.Context, scriptPath string) (string, error)
	// Tail streams the file at path until ctx is cancelled.
	Tail(ctx context.Context, path string) error
	// Interactive opens a terminal session with the given directives.
	Interactive(ctx context.Context, commandLine []string) error
}
