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

// Package slurm submits batch scripts to a Slurm cluster through its
// command line tools.
package slurm

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"hpc-submit/pkg/logging"
	"hpc-submit/pkg/orchestrator"
	"hpc-submit/pkg/shell"
)

var submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// TailLines is the number of existing log lines shown before following.
const TailLines = 20

// SlurmOrchestrator implements the Orchestrator interface with sbatch, srun and tail.
type SlurmOrchestrator struct {
	SubmitCommand string
	RunCommand    string
	TailCommand   string
	// Output receives followed log lines.
	Output io.Writer
}

var _ orchestrator.Orchestrator = (*SlurmOrchestrator)(nil)

// NewSlurmOrchestrator creates and returns a new SlurmOrchestrator instance.
func NewSlurmOrchestrator() (*SlurmOrchestrator, error) {
	return &SlurmOrchestrator{
		SubmitCommand: "sbatch",
		RunCommand:    "srun",
		TailCommand:   "tail",
		Output:        os.Stdout,
	}, nil
}

// Submit runs sbatch on the script and returns the job id it reports.
func (s *SlurmOrchestrator) Submit(ctx context.Context, scriptPath string) (string, error) {
	logging.Info("Submitting %s", scriptPath)
	res := shell.NewCommand(s.SubmitCommand, scriptPath).ExecuteContext(ctx)
	if res.Err != nil {
		return "", fmt.Errorf("failed to run %s: %w", s.SubmitCommand, res.Err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s failed with exit code %d: %s\n%s", s.SubmitCommand, res.ExitCode, res.Stderr, res.Stdout)
	}
	id := ParseJobID(res.Stdout)
	if id == "" {
		return "", fmt.Errorf("%s did not report a job id", s.SubmitCommand)
	}
	return id, nil
}

// ParseJobID extracts the job id from sbatch output. Output that does not
// match the usual message, such as that of `sbatch --parsable`, is returned
// trimmed.
func ParseJobID(stdout string) string {
	if m := submittedRe.FindStringSubmatch(stdout); m != nil {
		return m[1]
	}
	return strings.TrimSpace(stdout)
}

// TailCommandLine is the command that follows the log at path.
func (s *SlurmOrchestrator) TailCommandLine(path string) []string {
	return []string{s.TailCommand, "-f", "-n", fmt.Sprint(TailLines), path}
}

// Tail follows the log at path until ctx is cancelled.
func (s *SlurmOrchestrator) Tail(ctx context.Context, path string) error {
	cl := s.TailCommandLine(path)
	logging.Info("%s", strings.Join(cl, " "))
	if err := shell.Stream(ctx, s.Output, cl[0], cl[1:]...); err != nil {
		return fmt.Errorf("failed to follow %s: %w", path, err)
	}
	return nil
}

// Interactive runs commandLine with the terminal attached. The first element
// is replaced by the configured srun binary.
func (s *SlurmOrchestrator) Interactive(ctx context.Context, commandLine []string) error {
	if len(commandLine) == 0 {
		return fmt.Errorf("empty interactive command")
	}
	cmd := shell.NewCommand(s.RunCommand, commandLine[1:]...)
	cmd.Attach()
	res := cmd.ExecuteContext(ctx)
	if res.Err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to run %s: %w", s.RunCommand, res.Err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d", s.RunCommand, res.ExitCode)
	}
	return nil
}
