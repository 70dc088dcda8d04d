// Package link builds the runtime-linker CLI surface spec.md §6
// describes: a single "link <app-artifact>" command with the options
// listed there, the CLI-parsing/flag-wiring ambient concern spec.md §1
// keeps explicitly outside the core library.
package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/openshift-psap/runtime-linker/pkg/config"
	"github.com/openshift-psap/runtime-linker/pkg/imagebuilder"
	"github.com/openshift-psap/runtime-linker/pkg/linker"
	"github.com/openshift-psap/runtime-linker/pkg/preload"
)

// UsageError marks an argument/flag problem distinct from a LinkError,
// so main can map it to exit code 2 per spec.md §6.
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string { return e.msg }

// Options collects the flag values NewLinkCmd parses before
// delegating to the library.
type Options struct {
	Libs       string
	JDK        string
	Patches    string
	Out        string
	StripDebug bool
	Verbose    bool
	CDS        bool
}

// NewLinkCmd builds the "link <app-artifact>" cobra command.
func NewLinkCmd() *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "link <app-artifact>",
		Short: "Link an application jar against a platform image into a runtime image",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &UsageError{msg: "exactly one app-artifact argument is required"}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.JDK == "" {
				return &UsageError{msg: "--jdk is required"}
			}
			if opts.Out == "" {
				return &UsageError{msg: "--out is required"}
			}

			if opts.Verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}

			return Run(cmd.Context(), afero.NewOsFs(), args[0], opts)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&opts.Libs, "libs", "", "directory of additional application library artifacts")
	cmd.Flags().StringVar(&opts.JDK, "jdk", "", "platform module directory (required)")
	cmd.Flags().StringVar(&opts.Patches, "patches", "", "directory of <moduleName>-patch.jar overlays")
	cmd.Flags().StringVar(&opts.Out, "out", "", "destination image directory (required)")
	cmd.Flags().BoolVar(&opts.StripDebug, "strip-debug", false, "drop header and man-page entries from the image")
	cmd.Flags().BoolVar(&opts.Verbose, "verbose", false, "enable debug-level logging")
	cmd.Flags().BoolVar(&opts.CDS, "cds", false, "record and compile a class-data-sharing archive after linking")

	return cmd
}

// Run executes one link invocation against fs, the way NewLinkCmd's
// RunE does, factored out so it can be driven without cobra plumbing.
func Run(ctx context.Context, fs afero.Fs, appArtifact string, opts Options) error {
	cfg := config.Default()
	builder := imagebuilder.NewFS(fs, opts.Out)
	lk := linker.New(fs, cfg, builder, nil)

	path, err := lk.Link(ctx, linker.Options{
		AppArtifact: appArtifact,
		LibsDir:     opts.Libs,
		PlatformDir: opts.JDK,
		PatchesDir:  opts.Patches,
		StripDebug:  opts.StripDebug,
		CDS:         opts.CDS,
	})
	if err != nil {
		var linkErr *linker.LinkError
		if errors.As(err, &linkErr) {
			klog.Errorf("link failed during %s: %v", linkErr.Phase, linkErr.Cause)
		}
		return err
	}
	klog.Infof("wrote runtime image to %s", path)

	if opts.CDS {
		if err := recordCDS(ctx, path); err != nil {
			return fmt.Errorf("recording class-data-sharing archive: %w", err)
		}
	}
	return nil
}

// recordCDS drives the two-pass preload recording against the image
// that was just built, per spec.md §6's preload-driver interface.
// This runs only when --cds is set: the Linker itself never invokes
// pkg/preload (spec.md §9's CDS-off default leaves the preload class
// list empty).
func recordCDS(ctx context.Context, imagePath string) error {
	runtimeExecutable := imagePath + "/bin/java"
	driver := preload.New(runtimeExecutable)

	classListPath := imagePath + "/lib/classlist"
	if _, err := driver.RecordClasses(ctx, classListPath); err != nil {
		return err
	}

	archivePath := imagePath + "/lib/server/classes.jsa"
	return driver.CompileArchive(ctx, archivePath, classListPath)
}
