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
	"strings"
	"testing"
)

func validJob() JobDefinition {
	return JobDefinition{
		Command:    "python",
		Args:       []string{"train.py"},
		GPUCount:   1,
		CPUCount:   10,
		Hours:      1,
		OutputFile: "log.txt",
		ErrorFile:  "log.txt",
		ScriptFile: "script.txt",
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		command string
		want    CommandKind
	}{
		{"python", PythonCommand},
		{"accelerate", AccelerateCommand},
		{"bash", GenericCommand},
		{"./run.sh", GenericCommand},
	}
	for _, tt := range tests {
		j := JobDefinition{Command: tt.command}
		if got := j.Kind(); got != tt.want {
			t.Errorf("Kind(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*JobDefinition)
		wantErr string
	}{
		{"valid", func(*JobDefinition) {}, ""},
		{"max cpus", func(j *JobDefinition) { j.CPUCount = UseMaximumCPUs }, ""},
		{"bad gb", func(j *JobDefinition) { j.GPUMemoryGB = 24 }, "gpu memory 24GB"},
		{"bad ram", func(j *JobDefinition) { j.RAMTier = "x" }, "ram tier"},
		{"negative gpus", func(j *JobDefinition) { j.GPUCount = -1 }, "gpu count"},
		{"zero cpus", func(j *JobDefinition) { j.CPUCount = 0 }, "cpu count 0"},
		{"negative time", func(j *JobDefinition) { j.Minutes = -5 }, "time must not be negative"},
		{"empty command", func(j *JobDefinition) { j.Command = " " }, "command must not be empty"},
		{"missing file", func(j *JobDefinition) { j.ScriptFile = "" }, "file names"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := validJob()
			tt.mutate(&j)
			err := j.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestFlagValues(t *testing.T) {
	var c CPUCount = 10
	if err := c.Set("max"); err != nil || c != UseMaximumCPUs || c.String() != "max" {
		t.Errorf("Set(max) = %v, value %v", err, c)
	}
	if err := c.Set("12"); err != nil || c != 12 {
		t.Errorf("Set(12) = %v, value %v", err, c)
	}
	for _, bad := range []string{"0", "-2", "lots"} {
		if err := c.Set(bad); err == nil {
			t.Errorf("Set(%q) expected an error", bad)
		}
	}

	var r RAMTier
	if err := r.Set("m"); err != nil || r != RAMMedium {
		t.Errorf("Set(m) = %v, value %v", err, r)
	}
	if err := r.Set("xl"); err == nil {
		t.Errorf("Set(xl) expected an error")
	}
}

func TestInteractive(t *testing.T) {
	j := validJob()
	if j.Interactive() {
		t.Errorf("job with args reported as interactive")
	}
	j.Args = nil
	if !j.Interactive() {
		t.Errorf("job without args not reported as interactive")
	}
}
