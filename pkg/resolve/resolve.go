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

// Package resolve turns a job request into a concrete, legal set of Slurm
// directives for the Jean Zay GPU cluster.
//
// Resolution is a fixed sequence of steps over one accumulator. Later steps
// depend on state derived by earlier ones (the CPU ceiling depends on the
// memory tier, the QoS on the time and debug mode, the account on the GPU
// layout), so the order in steps is part of the contract and directives are
// emitted in exactly that order.
package resolve

import (
	"fmt"
	"path/filepath"
	"strings"

	"hpc-submit/pkg/orchestrator"
)

const (
	stepCommand      = "command"
	stepPrePost      = "prePost"
	stepMemoryTier   = "memoryTier"
	stepName         = "name"
	stepGPUCount     = "gpuCount"
	stepDebugMode    = "debugMode"
	stepTaskCount    = "taskCount"
	stepTasksPerNode = "tasksPerNode"
	stepCPUCount     = "cpuCount"
	stepTime         = "time"
	stepQueueClass   = "queueClass"
	stepOutputFile   = "outputFile"
	stepErrorFile    = "errorFile"
	stepScriptFile   = "scriptFile"
	stepEnvironment  = "environment"
	stepPreload      = "preload"
	stepModuleLoad   = "moduleLoad"
	stepPostScript   = "postScript"
	stepEmail        = "email"
	stepAccount      = "account"
	stepLiveTail     = "liveTail"
	stepWorkingPath  = "workingPath"
)

// Queue limits, in minutes and GPUs.
const (
	DebugMaxGPUs    = 32
	DebugMaxMinutes = 2 * 60
	T3MaxMinutes    = 20 * 60
	T4MaxMinutes    = 100 * 60
)

const submissionTimeFormat = "20060102-150405"

type step struct {
	name string
	// reads and writes name the request ("req."), environment ("env.") and
	// plan ("plan.") fields a step touches. Every plan field read must be
	// written by an earlier step.
	reads  []string
	writes []string
	run    func(*resolver) error
}

var steps = []step{
	{stepCommand, []string{"req.Command", "req.Args"}, []string{"plan.Command", "plan.Kind", "plan.Args"}, resolveCommand},
	{stepPrePost, []string{"req.PrePost"}, []string{"plan.PrePost", "plan.Partition"}, resolvePrePost},
	{stepMemoryTier,
		[]string{"req.GPUMemoryGB", "req.RAMTier", "plan.PrePost"},
		[]string{"plan.Partition", "plan.Constraint", "plan.Feature", "plan.Accelerator", "plan.Dense", "plan.Octo", "plan.RAMTier", "plan.CPUCeiling"},
		resolveMemoryTier},
	{stepName, []string{"req.Name", "req.Tag", "env.HomeDir"}, []string{"plan.JobName"}, resolveName},
	{stepGPUCount, []string{"req.GPUCount", "plan.PrePost", "plan.Octo"}, []string{"plan.GPUs", "plan.Nodes", "plan.GPUsPerNode"}, resolveGPUCount},
	{stepDebugMode, []string{"req.Debug", "plan.GPUs"}, []string{"plan.Debug"}, resolveDebugMode},
	{stepTaskCount, []string{"req.TaskCount", "plan.GPUs", "plan.Kind"}, []string{"plan.Tasks"}, resolveTaskCount},
	{stepTasksPerNode, []string{"req.TasksPerNode", "plan.GPUs", "plan.GPUsPerNode", "plan.Kind"}, []string{"plan.TasksPerNode"}, resolveTasksPerNode},
	{stepCPUCount,
		[]string{"req.CPUCount", "plan.CPUCeiling", "plan.Nodes", "plan.GPUs"},
		[]string{"plan.CPUsPerTaskCap", "plan.CPUsPerTask"},
		resolveCPUCount},
	{stepTime, []string{"req.Hours", "req.Minutes"}, []string{"plan.RequestedMinutes"}, resolveTime},
	{stepQueueClass,
		[]string{"plan.Debug", "plan.RequestedMinutes", "plan.GPUs"},
		[]string{"plan.QoS", "plan.EffectiveMinutes"},
		resolveQueueClass},
	{stepOutputFile,
		[]string{"req.SubmissionDir", "req.Tag", "req.OutputFile", "env.Now", "env.SubmissionsRoot"},
		[]string{"plan.SubmissionDir", "plan.OutputPath"},
		resolveOutputFile},
	{stepErrorFile, []string{"req.ErrorFile", "plan.SubmissionDir"}, []string{"plan.ErrorPath"}, resolveErrorFile},
	{stepScriptFile, []string{"req.ScriptFile", "plan.SubmissionDir"}, []string{"plan.ScriptPath"}, resolveScriptFile},
	{stepEnvironment, []string{"req.EnvName", "req.EnvRoot", "env.WorkDir"}, []string{"plan.EnvRoot", "plan.EnvPath"}, resolveEnvironment},
	{stepPreload, []string{"req.Preload"}, []string{"plan.Purge"}, resolvePreload},
	{stepModuleLoad, []string{"req.Modules", "plan.Dense"}, []string{"plan.Modules"}, resolveModuleLoad},
	{stepPostScript, []string{"req.PostScript"}, []string{"plan.PostScript"}, resolvePostScript},
	{stepEmail, []string{"req.Email"}, []string{"plan.Email"}, resolveEmail},
	{stepAccount, []string{"req.Account", "plan.GPUs", "plan.Dense"}, []string{"plan.Account"}, resolveAccount},
	{stepLiveTail, []string{"req.Live"}, []string{"plan.Live"}, resolveLiveTail},
	{stepWorkingPath, []string{"req.Path"}, []string{"plan.WorkDir"}, resolveWorkingPath},
}

// Steps returns the resolution order.
func Steps() []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}

type resolver struct {
	req  orchestrator.JobDefinition
	env  Environment
	plan *Plan
}

func (r *resolver) emit(flag, value string) {
	r.plan.Directives = append(r.plan.Directives, Directive{Flag: flag, Value: value})
}

func (r *resolver) warn(format string, a ...any) {
	r.plan.Warnings = append(r.plan.Warnings, fmt.Sprintf(format, a...))
}

// Resolve runs every resolution step in order. On error the partial plan is
// discarded.
func Resolve(req orchestrator.JobDefinition, env Environment) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, &PolicyError{Step: "validate", Err: ErrInvalidRequest, Detail: err.Error()}
	}
	r := &resolver{req: req, env: env, plan: &Plan{}}
	for _, s := range steps {
		if err := s.run(r); err != nil {
			return nil, err
		}
	}
	return r.plan, nil
}

func resolveCommand(r *resolver) error {
	r.plan.Command = r.req.Command
	r.plan.Kind = r.req.Kind()
	if r.req.Args != nil {
		r.plan.Args = append([]string{}, r.req.Args...)
	}
	return nil
}

func resolvePrePost(r *resolver) error {
	r.plan.PrePost = r.req.PrePost
	if r.plan.PrePost {
		r.plan.Partition = PrePostPartition
		r.emit("--partition", PrePostPartition)
	}
	return nil
}

func resolveName(r *resolver) error {
	name := r.req.Name
	if name == "" {
		name = r.req.Tag
	}
	if name == "" && r.env.HomeDir != "" {
		name = filepath.Base(filepath.Clean(r.env.HomeDir))
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "job"
	}
	r.plan.JobName = name
	r.emit("--job-name", name)
	return nil
}

// A pre/post-processing job counts as a single GPU-equivalent on one node
// but does not request any GPU resources.
func resolveGPUCount(r *resolver) error {
	p := r.plan
	p.Nodes = 1
	if p.PrePost {
		p.GPUs = 1
		p.GPUsPerNode = 1
		return nil
	}

	p.GPUs = r.req.GPUCount
	if p.GPUs == 0 {
		return nil
	}
	capacity := nodeCapacity(p.Octo)
	p.Nodes = ceilDiv(p.GPUs, capacity)
	p.GPUsPerNode = min(ceilDiv(p.GPUs, p.Nodes), capacity)
	r.emit("--nodes", fmt.Sprint(p.Nodes))
	r.emit("--gres", fmt.Sprintf("gpu:%d", p.GPUsPerNode))
	return nil
}

func resolveDebugMode(r *resolver) error {
	r.plan.Debug = r.req.Debug
	if r.plan.Debug && r.plan.GPUs > DebugMaxGPUs {
		return policyError(stepDebugMode, ErrDebugGPUCap,
			"requested %d gpus, the debug qos allows at most %d", r.plan.GPUs, DebugMaxGPUs)
	}
	return nil
}

func gpuTasks(p *Plan) bool {
	return p.GPUs > 0 && p.Kind != orchestrator.AccelerateCommand
}

// A distributed launch spawns its own processes, so --ntasks is left to it.
func resolveTaskCount(r *resolver) error {
	p := r.plan
	tasks := r.req.TaskCount
	if tasks == 0 {
		tasks = 1
		if gpuTasks(p) {
			tasks = p.GPUs
		}
	}
	if p.Kind != orchestrator.AccelerateCommand {
		p.Tasks = tasks
		r.emit("--ntasks", fmt.Sprint(tasks))
	}
	return nil
}

func resolveTasksPerNode(r *resolver) error {
	p := r.plan
	perNode := r.req.TasksPerNode
	if perNode == 0 {
		perNode = 1
		if gpuTasks(p) {
			perNode = p.GPUsPerNode
		}
	}
	p.TasksPerNode = perNode
	r.emit("--ntasks-per-node", fmt.Sprint(perNode))
	return nil
}

// Requests above the hardware cap are clamped with a warning rather than
// rejected.
func resolveCPUCount(r *resolver) error {
	p := r.plan
	requested := r.req.CPUCount

	if p.CPUCeiling == nil {
		if requested == orchestrator.UseMaximumCPUs {
			return policyError(stepCPUCount, ErrNoCPUCeiling,
				"select a gpu memory class or ram tier, or pass an explicit cpu count")
		}
		p.CPUsPerTask = requested
		r.emit("--cpus-per-task", fmt.Sprint(requested))
		return nil
	}

	limit := *p.CPUCeiling
	if p.GPUs > 0 {
		limit = limit * p.Nodes / p.GPUs
	}
	p.CPUsPerTaskCap = &limit

	switch {
	case requested == orchestrator.UseMaximumCPUs:
		requested = limit
	case requested > limit:
		r.warn("adjusting cpus per task from %d to %d (%s)", requested, limit, p.hardwareSummary())
		requested = limit
	}
	p.CPUsPerTask = requested
	r.emit("--cpus-per-task", fmt.Sprint(requested))
	return nil
}

func resolveTime(r *resolver) error {
	r.plan.RequestedMinutes = r.req.Hours*60 + r.req.Minutes
	return nil
}

func resolveQueueClass(r *resolver) error {
	p := r.plan
	minutes := p.RequestedMinutes

	var tier string
	switch {
	case p.Debug:
		tier = "dev"
		if minutes > DebugMaxMinutes {
			r.warn("debug qos limits the time to %d minutes, %d requested", DebugMaxMinutes, minutes)
			minutes = DebugMaxMinutes
		}
	case minutes > T3MaxMinutes:
		tier = "t4"
	default:
		tier = "t3"
	}
	if minutes > T4MaxMinutes {
		return policyError(stepQueueClass, ErrTimeCap,
			"%d minutes requested, at most %d allowed; see page 28 of %s", minutes, T4MaxMinutes, PolicyGuideURL)
	}

	class := "cpu"
	if p.GPUs > 0 {
		class = "gpu"
	}
	p.QoS = QoS(class + "-" + tier)
	p.EffectiveMinutes = minutes
	r.emit("--time", fmt.Sprintf("%02d:%02d:00", minutes/60, minutes%60))
	r.emit("--qos", "qos_"+string(p.QoS))
	return nil
}

// joinSubmission places name inside the submission directory unless it is
// already absolute.
func joinSubmission(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func resolveOutputFile(r *resolver) error {
	p := r.plan
	dir := r.req.SubmissionDir
	if dir != "" {
		if r.req.Tag != "" {
			r.warn("tag %q is not used for paths, submission dir %s is used instead", r.req.Tag, dir)
		}
	} else {
		parts := []string{r.env.SubmissionsRoot}
		if r.req.Tag != "" {
			parts = append(parts, r.req.Tag)
		}
		parts = append(parts, r.env.Now.Format(submissionTimeFormat))
		dir = filepath.Join(parts...)
	}
	p.SubmissionDir = dir
	p.OutputPath = joinSubmission(dir, r.req.OutputFile)
	r.emit("--output", p.OutputPath)
	return nil
}

func resolveErrorFile(r *resolver) error {
	r.plan.ErrorPath = joinSubmission(r.plan.SubmissionDir, r.req.ErrorFile)
	r.emit("--error", r.plan.ErrorPath)
	return nil
}

func resolveScriptFile(r *resolver) error {
	r.plan.ScriptPath = joinSubmission(r.plan.SubmissionDir, r.req.ScriptFile)
	return nil
}

func resolveEnvironment(r *resolver) error {
	if r.req.EnvName == "" {
		return nil
	}
	root := r.req.EnvRoot
	if root == "" {
		if r.env.WorkDir == "" {
			return policyError(stepEnvironment, ErrInvalidRequest,
				"environment %q needs a conda path, set --conda-path or $WORK", r.req.EnvName)
		}
		root = filepath.Join(r.env.WorkDir, "miniconda3")
	}
	r.plan.EnvRoot = root
	r.plan.EnvPath = filepath.Join(root, "envs", r.req.EnvName)
	return nil
}

func resolvePreload(r *resolver) error {
	r.plan.Purge = !r.req.Preload
	return nil
}

func resolveModuleLoad(r *resolver) error {
	modules := make([]string, 0, len(r.req.Modules)+1)
	if r.plan.Dense {
		modules = append(modules, DenseModule)
	}
	for _, m := range r.req.Modules {
		if r.plan.Dense && m == DenseModule {
			continue
		}
		modules = append(modules, m)
	}
	r.plan.Modules = modules
	return nil
}

func resolvePostScript(r *resolver) error {
	r.plan.PostScript = r.req.PostScript
	return nil
}

func resolveEmail(r *resolver) error {
	if r.req.Email == "" {
		return nil
	}
	r.plan.Email = r.req.Email
	r.emit("--mail-user", r.req.Email)
	r.emit("--mail-type", "ALL")
	return nil
}

// Accounts have the form project@pool; the pool must match the hardware.
func resolveAccount(r *resolver) error {
	account := r.req.Account
	if account == "" {
		return nil
	}
	if project, _, found := strings.Cut(account, "@"); found {
		pool := "v100"
		switch {
		case r.plan.GPUs == 0:
			pool = "cpu"
		case r.plan.Dense:
			pool = "a100"
		}
		account = project + "@" + pool
	}
	r.plan.Account = account
	r.emit("-A", account)
	return nil
}

func resolveLiveTail(r *resolver) error {
	r.plan.Live = r.req.Live
	return nil
}

func resolveWorkingPath(r *resolver) error {
	r.plan.WorkDir = r.req.Path
	return nil
}

// Summary is a one-line description of the resolved hardware and queue.
func (p *Plan) Summary() string {
	gpus := "cpu only"
	if p.GPUs > 0 && !p.PrePost {
		gpus = fmt.Sprintf("%d gpu(s) on %d node(s)", p.GPUs, p.Nodes)
	}
	return fmt.Sprintf("%s, %s, qos_%s, %d min", p.hardwareSummary(), gpus, p.QoS, p.EffectiveMinutes)
}
