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

// Package logging provides the printf-style logger shared by every jzsub command.
package logging

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	logger     = logrus.New()
	exitFunc   = func() { os.Exit(1) }
	warnPrefix string
)

func init() {
	SetOutput(os.Stderr)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func formatterFor(tty bool) logrus.Formatter {
	return &logrus.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		ForceColors:            tty,
		DisableColors:          !tty,
	}
}

// SetOutput redirects all log output to w. Colors are only used when w
// itself is a terminal.
func SetOutput(w io.Writer) {
	tty := isTerminal(w)
	logger.SetOutput(w)
	logger.SetFormatter(formatterFor(tty))
	warnPrefix = "warning: "
	if tty {
		c := color.New(color.FgYellow, color.Bold)
		c.EnableColor()
		warnPrefix = c.Sprint(warnPrefix)
	}
}

// SetVerbose toggles debug-level output.
func SetVerbose(verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	logger.SetLevel(logrus.InfoLevel)
}

// SetExitFunc replaces the function Fatal calls after logging. It returns the previous one.
func SetExitFunc(f func()) func() {
	prev := exitFunc
	exitFunc = f
	return prev
}

// Debug logs a debug message.
func Debug(f string, a ...any) {
	logger.Debugf(f, a...)
}

// Info logs an informational message.
func Info(f string, a ...any) {
	logger.Infof(f, a...)
}

// Warn logs a soft policy violation or any other non-fatal problem.
func Warn(f string, a ...any) {
	logger.Warnf(warnPrefix+f, a...)
}

// Error logs an error without exiting.
func Error(f string, a ...any) {
	logger.Errorf(f, a...)
}

// Fatal logs an error and exits with status 1.
func Fatal(f string, a ...any) {
	Error(f, a...)
	exitFunc()
}
