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

package shell

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExecuteCommand(t *testing.T) {
	requireBinary(t, "sh")

	tests := []struct {
		name         string
		args         []string
		expectedCode int
		expectedOut  string
		expectedErr  string
	}{
		{"success", []string{"-c", "echo hello"}, 0, "hello\n", ""},
		{"exit code", []string{"-c", "echo oops >&2; exit 3"}, 3, "", "oops\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ExecuteCommand("sh", tt.args...)
			if res.ExitCode != tt.expectedCode {
				t.Errorf("Expected exit code %d, got %d", tt.expectedCode, res.ExitCode)
			}
			if res.Stdout != tt.expectedOut {
				t.Errorf("Expected stdout %q, got %q", tt.expectedOut, res.Stdout)
			}
			if res.Stderr != tt.expectedErr {
				t.Errorf("Expected stderr %q, got %q", tt.expectedErr, res.Stderr)
			}
		})
	}
}

func TestMissingBinary(t *testing.T) {
	res := ExecuteCommand("definitely-not-a-real-binary-jzsub")
	if res.Err == nil || res.ExitCode != -1 {
		t.Errorf("Expected start failure, got %+v", res)
	}
}

func TestSetInput(t *testing.T) {
	requireBinary(t, "cat")

	cmd := NewCommand("cat")
	cmd.SetInput("piped content")
	res := cmd.Execute()
	if res.Stdout != "piped content" {
		t.Errorf("Expected stdin to be echoed, got %q", res.Stdout)
	}
	if got := cmd.String(); got != "cat" {
		t.Errorf("Expected command string %q, got %q", "cat", got)
	}
}

func TestStreamCancellation(t *testing.T) {
	requireBinary(t, "sh")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	err := Stream(ctx, &buf, "sh", "-c", "echo started; exec sleep 10")
	if err != nil {
		t.Errorf("Expected cancellation to be silent, got %v", err)
	}
	if !strings.Contains(buf.String(), "started") {
		t.Errorf("Expected streamed output, got %q", buf.String())
	}
}
