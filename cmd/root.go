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

// Package cmd defines the jzsub command line.
package cmd

import (
	"strings"

	"hpc-submit/pkg/config"
	"hpc-submit/pkg/logging"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Separator splits the pass-through command from the jzsub options.
const Separator = ":"

var (
	cfgFile string
	verbose bool

	// commandArgs is the part of the command line before the separator, nil
	// when there is none.
	commandArgs []string

	appFs    = afero.NewOsFs()
	settings config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "jzsub [command args...] : [options]",
	Short: "Builds and submits Slurm batch scripts for the Jean Zay GPU cluster.",
	Long: `jzsub turns a resource request into a Slurm batch script, submits it with
sbatch and optionally follows its log.

Everything before the ':' separator is the command to run, everything after
it configures the job:

  jzsub train.py --lr 0.1 : --gb 80 --ngpu 16 --hours 10 --tag bert

Without a separator, the options describe an interactive session and the
matching 'srun --pty ... bash' command is printed.`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: initConfig,
	Run:               runRunCmd,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/"+config.DefaultFileName+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print debug messages.")
	rootCmd.SetGlobalNormalizationFunc(underscoreToDash)
}

// underscoreToDash accepts flag names written with underscores, such as
// --conda_path.
func underscoreToDash(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func initConfig(_ *cobra.Command, _ []string) error {
	logging.SetVerbose(verbose)
	s, err := config.Load(config.New(appFs), appFs, cfgFile)
	if err != nil {
		return err
	}
	if s.File != "" {
		logging.Debug("Using config file %s", s.File)
	}
	settings = s
	return nil
}

// SplitArgs separates the pass-through command from the options. The
// command is nil when args contain no separator.
func SplitArgs(args []string) (command, options []string) {
	for i, a := range args {
		if a == Separator {
			return append([]string{}, args[:i]...), args[i+1:]
		}
	}
	return nil, args
}

// Execute runs the command line args, which exclude the program name.
func Execute(args []string) error {
	command, options := SplitArgs(args)
	commandArgs = command
	rootCmd.SetArgs(options)
	return rootCmd.Execute()
}
