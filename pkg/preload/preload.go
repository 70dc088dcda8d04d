// Package preload implements the two-pass preload-recording driver the
// linker core consumes as an external collaborator: a first pass dumps
// the set of loaded classes, a second compiles that list into a shared
// preload archive (spec.md §6).
package preload

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/openshift-psap/runtime-linker/internal/procio"
)

// Driver runs the target runtime twice against internal/procio: once
// to record loaded classes, once to compile them into an archive.
type Driver struct {
	Runner *procio.Runner
	Log    *logrus.Entry

	// RuntimeExecutable is the runtime launcher to invoke (e.g. the
	// image's own java binary once built).
	RuntimeExecutable string

	// ReadFile loads the class-list file the first pass wrote.
	// Defaults to os.ReadFile when nil; tests substitute a fake.
	ReadFile func(path string) ([]byte, error)
}

// New builds a Driver with sane defaults.
func New(runtimeExecutable string) *Driver {
	return &Driver{
		Runner:            &procio.Runner{},
		Log:               logrus.New().WithField("component", "preload"),
		RuntimeExecutable: runtimeExecutable,
		ReadFile:          os.ReadFile,
	}
}

// RecordClasses runs the target runtime with stdout suppressed,
// passing the class-dump flag and classListPath, and returns the
// newline-separated list of classes it loaded.
func (d *Driver) RecordClasses(ctx context.Context, classListPath string, appArgs ...string) ([]string, error) {
	args := append([]string{"-XX:DumpLoadedClassList=" + classListPath}, appArgs...)
	if _, err := d.Runner.Run(ctx, d.RuntimeExecutable, args...); err != nil {
		return nil, fmt.Errorf("recording preload class list: %w", err)
	}

	data, err := readFileViaRunner(ctx, d, classListPath)
	if err != nil {
		return nil, err
	}
	return splitLines(data), nil
}

// CompileArchive runs the target runtime a second time with the
// dump-archive flag, archivePath, and classListPath, producing the
// shared preload archive file.
func (d *Driver) CompileArchive(ctx context.Context, archivePath, classListPath string) error {
	args := []string{
		"-Xshare:dump",
		"-XX:SharedArchiveFile=" + archivePath,
		"-XX:SharedClassListFile=" + classListPath,
	}
	if _, err := d.Runner.Run(ctx, d.RuntimeExecutable, args...); err != nil {
		return fmt.Errorf("compiling preload archive: %w", err)
	}
	return nil
}

// readFileViaRunner loads the class-list file the first pass wrote.
// Indirected through Driver.ReadFile (defaulting to os.ReadFile) so
// tests can substitute a fake without touching a real filesystem.
func readFileViaRunner(ctx context.Context, d *Driver, path string) ([]byte, error) {
	if d.ReadFile != nil {
		return d.ReadFile(path)
	}
	return nil, fmt.Errorf("no ReadFile configured to load recorded class list %s", path)
}

func splitLines(data []byte) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
