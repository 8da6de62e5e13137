// Package cmd wires the cobra CLI surface on top of the skeleton, abi,
// pkgcache and watch packages, following the teacher's rootCmd-plus-
// PersistentFlags assembly in its own main().
package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/config"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/metrics"
)

// Version is the CLI's reported version, set at release-build time via
// -ldflags; "dev" covers local builds.
var Version = "dev"

var debugEnabled bool

func logDebug(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}

// Execute builds and runs the root command, returning its exit error.
func Execute(ctx context.Context) error {
	metrics.SetRuntimeInfo("", "", Version)

	root := &cobra.Command{
		Use:   "eunomia-bpf-sub000",
		Short: "load, attach and poll compiled eBPF packages",
	}
	root.PersistentFlags().BoolVar(&debugEnabled, "debug", false, "enable verbose debug logging")

	root.AddCommand(newRunCommand())
	root.AddCommand(newVerifyCommand())
	root.AddCommand(newParseArgsCommand())

	cfg := config.LoadFromEnv()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, log.Default()); err != nil {
				log.Printf("[cmd] metrics server exited: %v", err)
			}
		}()
	}

	root.SetContext(ctx)
	return root.Execute()
}
