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

// Package logviewer browses past submissions stored as
// <root>/<tag>/<timestamp>/ directories.
package logviewer

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"hpc-submit/pkg/run"

	"github.com/agext/levenshtein"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// File names inside a submission directory.
const (
	LogFileName    = "log.txt"
	ScriptFileName = "script.txt"
	PlanFileName   = run.RecordFileName
)

// maxSuggestionDistance bounds how different a suggested tag may be.
const maxSuggestionDistance = 3

var (
	ErrNotInitialized  = errors.New("submissions root is not initialized")
	ErrIndexOutOfRange = errors.New("submission index out of range")
)

// TagNotFoundError reports an unknown tag and the closest known one.
type TagNotFoundError struct {
	Tag        string
	Suggestion string
}

func (e *TagNotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("tag %q not found, did you mean %q?", e.Tag, e.Suggestion)
	}
	return fmt.Sprintf("tag %q not found", e.Tag)
}

// Selection picks one file of one submission.
type Selection struct {
	Tag string
	// Index counts from the oldest submission; negative values count from
	// the newest, -1 being the latest.
	Index int
	File  string
}

// Viewer reads submissions below Root.
type Viewer struct {
	Fs   afero.Fs
	Root string
	Out  io.Writer
}

// Initialized reports whether the submissions root exists.
func (v *Viewer) Initialized() (bool, error) {
	ok, err := afero.DirExists(v.Fs, v.Root)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check %s", v.Root)
	}
	return ok, nil
}

func (v *Viewer) subdirs(dir string) ([]string, error) {
	entries, err := afero.ReadDir(v.Fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Tags returns the known tags in lexical order.
func (v *Viewer) Tags() ([]string, error) {
	ok, err := v.Initialized()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return v.subdirs(v.Root)
}

// Submissions returns the submission directories of tag, oldest first.
func (v *Viewer) Submissions(tag string) ([]string, error) {
	tags, err := v.Tags()
	if err != nil {
		return nil, err
	}
	idx := sort.SearchStrings(tags, tag)
	if idx == len(tags) || tags[idx] != tag {
		return nil, &TagNotFoundError{Tag: tag, Suggestion: Suggest(tag, tags)}
	}
	return v.subdirs(filepath.Join(v.Root, tag))
}

// Suggest returns the known tag closest to tag, or "" when none is close.
func Suggest(tag string, tags []string) string {
	best, bestDistance := "", maxSuggestionDistance+1
	for _, t := range tags {
		if d := levenshtein.Distance(tag, t, nil); d < bestDistance {
			best, bestDistance = t, d
		}
	}
	return best
}

// List prints a table of the known tags with their submission counts.
func (v *Viewer) List() error {
	tags, err := v.Tags()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(v.Out)
	table.Header("Tag", "Submissions", "Latest")
	for _, tag := range tags {
		subs, err := v.subdirs(filepath.Join(v.Root, tag))
		if err != nil {
			return err
		}
		latest := ""
		if len(subs) > 0 {
			latest = subs[len(subs)-1]
		}
		if err := table.Append(tag, fmt.Sprint(len(subs)), latest); err != nil {
			return errors.Wrap(err, "failed to add table row")
		}
	}
	return table.Render()
}

// Path returns the file the selection points to. The log and script are
// taken from the submission's plan record when it names them, since
// --output and --script may have moved them out of the submission directory.
func (v *Viewer) Path(sel Selection) (string, error) {
	subs, err := v.Submissions(sel.Tag)
	if err != nil {
		return "", err
	}
	i := sel.Index
	if i < 0 {
		i += len(subs)
	}
	if i < 0 || i >= len(subs) {
		return "", errors.Wrapf(ErrIndexOutOfRange, "tag %s has %d submission(s), index %d requested", sel.Tag, len(subs), sel.Index)
	}
	dir := filepath.Join(v.Root, sel.Tag, subs[i])
	file := sel.File
	if file == "" {
		file = LogFileName
	}
	recorded, err := v.recordedPath(dir, file)
	if err != nil {
		return "", err
	}
	if recorded != "" {
		return recorded, nil
	}
	return filepath.Join(dir, file), nil
}

// recordedPath returns "" when dir has no record or the record does not
// name file.
func (v *Viewer) recordedPath(dir, file string) (string, error) {
	if file != LogFileName && file != ScriptFileName {
		return "", nil
	}
	path := filepath.Join(dir, PlanFileName)
	ok, err := afero.Exists(v.Fs, path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to check %s", path)
	}
	if !ok {
		return "", nil
	}
	record, err := run.ReadRecord(v.Fs, path)
	if err != nil {
		return "", err
	}
	if file == ScriptFileName {
		return record.Script, nil
	}
	return record.Output, nil
}

// Show copies the selected file to Out.
func (v *Viewer) Show(sel Selection) error {
	path, err := v.Path(sel)
	if err != nil {
		return err
	}
	f, err := v.Fs.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	if _, err := io.Copy(v.Out, f); err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	return nil
}
