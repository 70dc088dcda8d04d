package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	klogv2 "k8s.io/klog/v2"

	"github.com/openshift-psap/runtime-linker/pkg/cli/link"
)

func main() {
	// Route k8s.io/klog/v2 (used by the CLI layer for run-progress
	// logging) to stderr.
	var fs flag.FlagSet
	klogv2.InitFlags(&fs)
	checkErr(fs.Set("logtostderr", "true"))

	rootCmd := link.NewLinkCmd()
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		os.Exit(0)
	}

	var usageErr *link.UsageError
	if errors.As(err, &usageErr) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logrus.Error(err)
	os.Exit(1)
}

func checkErr(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}
