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

// Package shell runs external programs such as sbatch, srun and tail.
package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"hpc-submit/pkg/logging"
)

// CommandResult holds the outcome of an executed command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Err is set when the command could not be started or was interrupted.
	Err error
}

// Command is an external program invocation.
type Command struct {
	name     string
	args     []string
	input    string
	hasInput bool
	attached bool
	dir      string
}

// NewCommand prepares name with args without running it.
func NewCommand(name string, args ...string) *Command {
	return &Command{name: name, args: args}
}

// SetInput feeds s to the command's stdin.
func (c *Command) SetInput(s string) {
	c.input = s
	c.hasInput = true
}

// SetDir sets the working directory of the command.
func (c *Command) SetDir(dir string) {
	c.dir = dir
}

// Attach connects the command to the current process' terminal instead of
// capturing its output.
func (c *Command) Attach() {
	c.attached = true
}

// String returns the command line as it would be typed in a shell.
func (c *Command) String() string {
	return strings.Join(append([]string{c.name}, c.args...), " ")
}

// Execute runs the command to completion.
func (c *Command) Execute() CommandResult {
	return c.ExecuteContext(context.Background())
}

// ExecuteContext runs the command and kills it when ctx is cancelled.
func (c *Command) ExecuteContext(ctx context.Context) CommandResult {
	logging.Debug("Executing: %s", c.String())
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Dir = c.dir

	var stdout, stderr bytes.Buffer
	if c.attached {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if c.hasInput {
			cmd.Stdin = strings.NewReader(c.input)
		}
	}

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	return res
}

// ExecuteCommand runs name with args and captures its output.
func ExecuteCommand(name string, args ...string) CommandResult {
	return NewCommand(name, args...).Execute()
}

// Stream runs name with args, copying its stdout to w until it exits or ctx
// is cancelled. Cancellation is not reported as an error.
func Stream(ctx context.Context, w io.Writer, name string, args ...string) error {
	logging.Debug("Streaming: %s %s", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = w
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
