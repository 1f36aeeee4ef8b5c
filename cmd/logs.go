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

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"hpc-submit/pkg/logging"
	"hpc-submit/pkg/logviewer"

	"github.com/spf13/cobra"
)

var (
	showScript bool
	showPlan   bool

	exit = os.Exit
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().BoolVar(&showScript, "script", false, "Show the batch script instead of the log.")
	logsCmd.Flags().BoolVar(&showPlan, "plan", false, "Show the plan record instead of the log.")
	logsCmd.MarkFlagsMutuallyExclusive("script", "plan")
}

var logsCmd = &cobra.Command{
	Use:   "logs [tag [index]]",
	Short: "Shows the log, script or plan of a past submission.",
	Long: `Without arguments, 'logs' lists the known tags. With a tag, it prints the log
of the latest submission of that tag. The index selects another submission:
0 is the oldest, negative values count back from the latest (-1).`,
	Args:         cobra.MaximumNArgs(2),
	Run:          runLogsCmd,
	SilenceUsage: true,
}

func runLogsCmd(cmd *cobra.Command, args []string) {
	file := logviewer.LogFileName
	switch {
	case showScript:
		file = logviewer.ScriptFileName
	case showPlan:
		file = logviewer.PlanFileName
	}
	v := &logviewer.Viewer{Fs: appFs, Root: settings.SubmissionsRoot, Out: cmd.OutOrStdout()}
	if code := showLogs(v, args, file); code != 0 {
		exit(code)
	}
}

// showLogs prints what args select and returns the exit code.
func showLogs(v *logviewer.Viewer, args []string, file string) int {
	if v.Root == "" {
		logging.Error("The submissions root is unknown. Set $SUB or $STORE.")
		return 1
	}
	ok, err := v.Initialized()
	if err != nil {
		logging.Error("%v", err)
		return 1
	}
	if !ok {
		fmt.Fprintf(v.Out, "%s is not initialized.\n", v.Root)
		return 0
	}

	if len(args) == 0 {
		return listTags(v)
	}

	sel := logviewer.Selection{Tag: args[0], Index: -1, File: file}
	if len(args) > 1 {
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			logging.Error("Invalid submission index %q", args[1])
			return 1
		}
		sel.Index = idx
	}

	err = v.Show(sel)
	var notFound *logviewer.TagNotFoundError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &notFound):
		fmt.Fprintln(v.Out, "Tag not found...")
		if notFound.Suggestion != "" {
			fmt.Fprintf(v.Out, "Did you mean %q?\n", notFound.Suggestion)
		}
		listTags(v)
		return 1
	default:
		logging.Error("%v", err)
		return 1
	}
}

func listTags(v *logviewer.Viewer) int {
	fmt.Fprintln(v.Out, "Available tags:")
	if err := v.List(); err != nil {
		logging.Error("%v", err)
		return 1
	}
	return 0
}
