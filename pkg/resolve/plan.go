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

package resolve

import (
	"strings"
	"time"

	"hpc-submit/pkg/orchestrator"
)

// Directive is a single scheduler request, rendered as one #SBATCH line.
type Directive struct {
	Flag  string `yaml:"flag"`
	Value string `yaml:"value"`
}

// String renders the directive the way sbatch expects it: long flags use
// "--flag=value", short flags use "-f value".
func (d Directive) String() string {
	if d.Value == "" {
		return d.Flag
	}
	if strings.HasPrefix(d.Flag, "--") {
		return d.Flag + "=" + d.Value
	}
	return d.Flag + " " + d.Value
}

// QoS is the queue class a job is submitted to.
type QoS string

const (
	QoSCPUDev QoS = "cpu-dev"
	QoSCPUT3  QoS = "cpu-t3"
	QoSCPUT4  QoS = "cpu-t4"
	QoSGPUDev QoS = "gpu-dev"
	QoSGPUT3  QoS = "gpu-t3"
	QoSGPUT4  QoS = "gpu-t4"
)

// Environment carries the facts about the invoking user and machine that the
// resolution depends on. Keeping them explicit makes resolution reproducible.
type Environment struct {
	Now time.Time
	// SubmissionsRoot is where per-tag submission directories are created.
	SubmissionsRoot string
	// HomeDir names the job when neither a name nor a tag is given.
	HomeDir string
	// WorkDir is the default parent of the conda installation.
	WorkDir string
}

// Plan is the fully resolved job. It is produced by Resolve and must be
// treated as read-only afterwards.
type Plan struct {
	Command string
	Kind    orchestrator.CommandKind
	Args    []string
	PrePost bool

	// Partition and Constraint are never both set.
	Partition  string
	Constraint string
	// Feature is the architecture selector required by the dense A100 nodes.
	Feature     string
	Accelerator bool
	Dense       bool
	Octo        bool
	RAMTier     orchestrator.RAMTier

	JobName string

	GPUs        int
	Nodes       int
	GPUsPerNode int
	Debug       bool

	// Tasks is zero when --ntasks is not emitted.
	Tasks        int
	TasksPerNode int

	// CPUCeiling is the node-level CPU limit of the selected hardware, nil
	// when the default partition is used.
	CPUCeiling *int
	// CPUsPerTaskCap is CPUCeiling rescaled to one task, nil without a ceiling.
	CPUsPerTaskCap *int
	CPUsPerTask    int

	RequestedMinutes int
	EffectiveMinutes int
	QoS              QoS

	SubmissionDir string
	OutputPath    string
	ErrorPath     string
	ScriptPath    string

	EnvRoot    string
	EnvPath    string
	Purge      bool
	Modules    []string
	PostScript string
	Email      string
	Account    string
	Live       bool
	WorkDir    string

	Directives []Directive
	Warnings   []string
}

// MultiNode reports whether the job spans more than one node.
func (p *Plan) MultiNode() bool {
	return p.Nodes > 1
}

// Directive returns the value of the first directive with the given flag.
func (p *Plan) Directive(flag string) (string, bool) {
	for _, d := range p.Directives {
		if d.Flag == flag {
			return d.Value, true
		}
	}
	return "", false
}
