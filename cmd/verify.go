package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/platform"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/pkgcodec"
)

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <package-file>",
		Short: "decode and parse a package without loading it into the kernel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(platform.LongPathname(args[0]))
			if err != nil {
				return fmt.Errorf("read package file: %w", err)
			}

			decoded, err := pkgcodec.Open(raw)
			if err != nil {
				return fmt.Errorf("decode package: %w", err)
			}

			tree, err := metamodel.Parse(decoded.MetaJSON)
			if err != nil {
				return fmt.Errorf("parse meta: %w", err)
			}

			contentID, err := pkgcodec.ContentID(decoded.ObjectBytes)
			if err != nil {
				return fmt.Errorf("compute content id: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "obj_name:    %s\n", tree.ObjName)
			fmt.Fprintf(out, "content_id:  %s\n", contentID)
			fmt.Fprintf(out, "object_size: %d bytes\n", len(decoded.ObjectBytes))
			fmt.Fprintf(out, "maps:        %d\n", len(tree.Maps))
			for _, m := range tree.Maps {
				fmt.Fprintf(out, "  - %s\n", m.Name)
			}
			fmt.Fprintf(out, "progs:       %d\n", len(tree.Progs))
			for _, p := range tree.Progs {
				attach := p.Attach
				if attach == "" {
					attach = "(section default)"
				}
				fmt.Fprintf(out, "  - %s [%s]\n", p.Name, attach)
			}
			fmt.Fprintf(out, "export_types: %d\n", len(tree.ExportTypes))
			fmt.Fprintf(out, "data_sections: %d\n", len(tree.DataSections))

			return nil
		},
	}
}
