package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/config"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/platform"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/argschema"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/export"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/pkgcache"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/pkgcodec"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/skeleton"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/watch"
)

func newRunCommand() *cobra.Command {
	var (
		formatFlag  string
		btfFilePath string
		watchFlag   bool
		auditDBPath string
	)

	cmd := &cobra.Command{
		Use:   "run <package-file> [-- <bpf-args...>]",
		Short: "open, load, attach and poll a compiled package",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgPath := args[0]
			bpfArgs := args[1:]
			logDebug("run: package=%s args=%v watch=%v", pkgPath, bpfArgs, watchFlag)

			format, err := parseFormat(formatFlag)
			if err != nil {
				return err
			}

			cfg := config.LoadFromEnv()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if btfFilePath == "" {
				btfFilePath = cfg.BTFFilePath
			}

			var cache *pkgcache.Cache
			if cfg.PackageCachePath != "" {
				c, err := pkgcache.Open(cfg.PackageCachePath)
				if err != nil {
					log.Printf("[cmd] package cache unavailable: %v", err)
				} else {
					cache = c
					defer cache.Close()
				}
			}

			var audit *export.PebbleAuditSink
			if auditDBPath != "" {
				a, err := export.OpenAuditSink(auditDBPath)
				if err != nil {
					return fmt.Errorf("open audit sink: %w", err)
				}
				audit = a
				defer audit.Close()
			}

			ctx := cmd.Context()
			if !watchFlag {
				return runOnce(ctx, pkgPath, bpfArgs, btfFilePath, format, cache, audit)
			}

			for {
				runCtx, cancel := context.WithCancel(ctx)
				w, werr := watch.New(pkgPath, func(string) error { cancel(); return nil })
				if werr != nil {
					cancel()
					return fmt.Errorf("start package watcher: %w", werr)
				}
				go w.Run(runCtx)

				err := runOnce(runCtx, pkgPath, bpfArgs, btfFilePath, format, cache, audit)
				w.Close()
				cancel()

				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return err
				}
				log.Printf("[cmd] %s changed, reloading", pkgPath)
			}
		},
	}

	cmd.Flags().StringVar(&formatFlag, "format", "plain", "rendering mode: plain, json, raw")
	cmd.Flags().StringVar(&btfFilePath, "btf-file-path", "", "explicit BTF file path (overrides BTF_FILE_PATH and system discovery)")
	cmd.Flags().BoolVar(&watchFlag, "watch", false, "reload on package-file replacement")
	cmd.Flags().StringVar(&auditDBPath, "audit-db", "", "persist rendered records to a Pebble database at this path for offline replay")

	return cmd
}

func parseFormat(s string) (export.Format, error) {
	switch s {
	case "plain", "":
		return export.FormatPlain, nil
	case "json":
		return export.FormatJSON, nil
	case "raw":
		return export.FormatRaw, nil
	default:
		return 0, fmt.Errorf("unknown --format %q (want plain, json, or raw)", s)
	}
}

func runOnce(ctx context.Context, pkgPath string, bpfArgs []string, btfFilePath string, format export.Format, cache *pkgcache.Cache, audit *export.PebbleAuditSink) error {
	raw, err := os.ReadFile(platform.LongPathname(pkgPath))
	if err != nil {
		return fmt.Errorf("read package file: %w", err)
	}

	decoded, err := pkgcodec.Open(raw)
	if err != nil {
		return fmt.Errorf("decode package: %w", err)
	}

	s, err := skeleton.OpenDirect(decoded.ObjectBytes, decoded.MetaJSON)
	if err != nil {
		return fmt.Errorf("open skeleton: %w", err)
	}

	if len(bpfArgs) > 0 {
		tokens := append([]string{s.Name()}, bpfArgs...)
		res, err := argschema.Bind(s.Tree(), tokens)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case argschema.OutcomeHelp, argschema.OutcomeVersion:
			fmt.Println(res.Usage)
			return nil
		}
	}

	if audit != nil {
		s.SetAuditSink(audit)
	}

	if err := s.LoadAndAttach(ctx, btfFilePath); err != nil {
		return fmt.Errorf("load and attach: %w", err)
	}
	defer s.Destroy()

	if cache != nil {
		if contentID, err := pkgcodec.ContentID(decoded.ObjectBytes); err == nil {
			_ = cache.Touch(contentID, s.Name(), len(decoded.ObjectBytes), time.Now())
		}
	}

	return s.WaitAndPollToHandler(ctx, format, nil, nil)
}
