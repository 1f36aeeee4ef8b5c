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

package batchscript

import (
	"errors"
	"strings"
	"testing"
	"time"

	"hpc-submit/pkg/orchestrator"
	"hpc-submit/pkg/resolve"

	"github.com/google/go-cmp/cmp"
)

var testEnv = resolve.Environment{
	Now:             time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	SubmissionsRoot: "/store/submissions",
	HomeDir:         "/home/alice",
	WorkDir:         "/work/alice",
}

var testOptions = Options{HomeDir: "/home/alice"}

func job() orchestrator.JobDefinition {
	return orchestrator.JobDefinition{
		Command:    "python",
		Args:       []string{"train.py", "--lr", "0.1"},
		GPUCount:   1,
		CPUCount:   10,
		Hours:      1,
		OutputFile: "log.txt",
		ErrorFile:  "log.txt",
		ScriptFile: "script.txt",
		Path:       "/work/alice/project",
	}
}

func plan(t *testing.T, req orchestrator.JobDefinition) *resolve.Plan {
	t.Helper()
	p, err := resolve.Resolve(req, testEnv)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return p
}

func render(t *testing.T, p *resolve.Plan, opts Options) string {
	t.Helper()
	s, err := Assemble(p, opts)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return s.Render()
}

func TestAssemblePythonJob(t *testing.T) {
	want := `#!/bin/bash

#SBATCH --job-name=alice
#SBATCH --nodes=1
#SBATCH --gres=gpu:1
#SBATCH --ntasks=1
#SBATCH --ntasks-per-node=1
#SBATCH --cpus-per-task=10
#SBATCH --time=01:00:00
#SBATCH --qos=qos_gpu-t3
#SBATCH --output=/store/submissions/20261019-120000/log.txt
#SBATCH --error=/store/submissions/20261019-120000/log.txt
#SBATCH --hint=nomultithread
#SBATCH --distribution=block:block
source /home/alice/.bashrc
module purge
set -x

cd /work/alice/project

srun python -u train.py --lr 0.1
`
	got := render(t, plan(t, job()), testOptions)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("script mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleEnvironmentAndModules(t *testing.T) {
	req := job()
	req.GPUMemoryGB = 80
	req.Preload = true
	req.Modules = []string{"pytorch-gpu/py3/2.1.1", "cpuarch/amd"}
	req.EnvName = "torch"
	req.PostScript = "/home/alice/setup.sh"

	got := render(t, plan(t, req), Options{
		HomeDir:    "/home/alice",
		PostScript: "export HF_HOME=$SCRATCH/hf\nexport TOKENIZERS_PARALLELISM=false\n",
	})

	wantTail := `source /home/alice/.bashrc
module load cpuarch/amd
module load pytorch-gpu/py3/2.1.1
conda activate /work/alice/miniconda3/envs/torch
set -x

cd /work/alice/project

export HF_HOME=$SCRATCH/hf
export TOKENIZERS_PARALLELISM=false

srun python -u train.py --lr 0.1
`
	if !strings.HasSuffix(got, wantTail) {
		t.Errorf("Expected script to end with:\n%s\ngot:\n%s", wantTail, got)
	}
	if strings.Contains(got, "module purge") {
		t.Errorf("Expected no module purge with preload")
	}
	for _, line := range []string{"#SBATCH --partition=gpu_p5", "#SBATCH -C a100"} {
		if !strings.Contains(got, line+"\n") {
			t.Errorf("Expected %q in script", line)
		}
	}
}

func TestAssembleGenericCommand(t *testing.T) {
	req := job()
	req.Command = "bash"
	req.Args = []string{"run.sh"}

	got := render(t, plan(t, req), testOptions)
	if !strings.HasSuffix(got, "\nsrun bash run.sh\n") {
		t.Errorf("Expected generic launch line, got:\n%s", got)
	}
}

func TestAssembleAccelerateSingleNode(t *testing.T) {
	tests := []struct {
		name     string
		gpus     int
		wantLine string
	}{
		{
			name:     "one gpu",
			gpus:     1,
			wantLine: "srun accelerate launch --num_processes=1 --main_process_ip $MASTER_ADDR --main_process_port $MASTER_PORT train.py --lr 0.1",
		},
		{
			name:     "several gpus",
			gpus:     4,
			wantLine: "srun accelerate launch --num_processes=4 --multi_gpu --main_process_ip $MASTER_ADDR --main_process_port $MASTER_PORT train.py --lr 0.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := job()
			req.Command = "accelerate"
			req.GPUCount = tt.gpus

			p := plan(t, req)
			got := render(t, p, testOptions)

			want := `
# saccelerate injected script
export HOSTNAMES=` + "`scontrol show hostnames \"$SLURM_JOB_NODELIST\"`" + `
export MASTER_ADDR=$(scontrol show hostnames "$SLURM_JOB_NODELIST" | head -n 1)
export MASTER_PORT=6000

` + tt.wantLine + "\n"
			if !strings.HasSuffix(got, want) {
				t.Errorf("Expected script to end with:\n%s\ngot:\n%s", want, got)
			}
			if _, found := p.Directive("--ntasks"); found {
				t.Errorf("Expected no --ntasks directive for a distributed launch")
			}
		})
	}
}

func TestAssembleAccelerateMultiNode(t *testing.T) {
	req := job()
	req.Command = "accelerate"
	req.GPUCount = 8

	p := plan(t, req)
	if !p.MultiNode() {
		t.Fatalf("Expected a multi-node plan, got %d node(s)", p.Nodes)
	}
	got := render(t, p, testOptions)

	want := `
# saccelerate injected script
python ${STORE}/idris/accelerate.py

srun accelerate launch --config_file ${STORE}/idris/config_accelerate_rank/${SLURM_PROCID}.yaml train.py --lr 0.1
`
	if !strings.HasSuffix(got, want) {
		t.Errorf("Expected script to end with:\n%s\ngot:\n%s", want, got)
	}
	if strings.Contains(got, "MASTER_ADDR") {
		t.Errorf("Expected no single-node exports in a multi-node script")
	}
}

func TestAssembleAccelerateWithoutGPUs(t *testing.T) {
	req := job()
	req.Command = "accelerate"
	req.GPUCount = 0

	_, err := Assemble(plan(t, req), testOptions)
	if !errors.Is(err, ErrNoGPUs) {
		t.Errorf("Expected ErrNoGPUs, got %v", err)
	}
}

func TestExtractDirectivesRoundTrip(t *testing.T) {
	requests := map[string]func(*orchestrator.JobDefinition){
		"default":  func(*orchestrator.JobDefinition) {},
		"dense":    func(r *orchestrator.JobDefinition) { r.GPUMemoryGB = 80; r.GPUCount = 16 },
		"account":  func(r *orchestrator.JobDefinition) { r.Account = "hkt@v100"; r.Email = "alice@example.org" },
		"prepost":  func(r *orchestrator.JobDefinition) { r.PrePost = true },
		"low ram":  func(r *orchestrator.JobDefinition) { r.RAMTier = orchestrator.RAMLow; r.CPUCount = orchestrator.UseMaximumCPUs },
		"debug":    func(r *orchestrator.JobDefinition) { r.Debug = true; r.Hours = 5 },
		"cpu only": func(r *orchestrator.JobDefinition) { r.GPUCount = 0; r.CPUCount = 4 },
	}
	for name, mutate := range requests {
		t.Run(name, func(t *testing.T) {
			req := job()
			mutate(&req)
			p := plan(t, req)

			script, err := Assemble(p, testOptions)
			if err != nil {
				t.Fatalf("Assemble failed: %v", err)
			}
			want := append(append([]resolve.Directive{}, p.Directives...), AffinityDirectives...)
			if diff := cmp.Diff(want, ExtractDirectives(script.Render())); diff != "" {
				t.Errorf("rendered directives mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want, script.Directives()); diff != "" {
				t.Errorf("Script.Directives() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	p := plan(t, job())
	first := render(t, p, testOptions)
	for i := 0; i < 5; i++ {
		if got := render(t, p, testOptions); got != first {
			t.Fatalf("Expected identical scripts, got:\n%s\nand:\n%s", first, got)
		}
	}
}

func TestLineString(t *testing.T) {
	tests := []struct {
		line Line
		want string
	}{
		{Shebang(), "#!/bin/bash"},
		{Directive(resolve.Directive{Flag: "--qos", Value: "qos_gpu-dev"}), "#SBATCH --qos=qos_gpu-dev"},
		{Directive(resolve.Directive{Flag: "-A", Value: "hkt@cpu"}), "#SBATCH -A hkt@cpu"},
		{Comment("hello"), "# hello"},
		{Blank(), ""},
		{Raw("a\nb\n\n"), "a\nb"},
		{Command("set -x"), "set -x"},
	}
	for _, tt := range tests {
		if got := tt.line.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestInteractiveCommand(t *testing.T) {
	req := job()
	req.Args = nil
	req.GPUMemoryGB = 16
	req.Account = "hkt@v100"

	want := []string{
		"srun", "--pty",
		"--constraint=v100-16g",
		"--job-name=alice",
		"--nodes=1",
		"--gres=gpu:1",
		"--ntasks=1",
		"--ntasks-per-node=1",
		"--cpus-per-task=10",
		"--time=01:00:00",
		"--qos=qos_gpu-t3",
		"-A", "hkt@v100",
		"bash",
	}
	if diff := cmp.Diff(want, InteractiveCommand(plan(t, req))); diff != "" {
		t.Errorf("InteractiveCommand() mismatch (-want +got):\n%s", diff)
	}
}
