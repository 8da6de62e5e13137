package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/internal/platform"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/abi"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/argschema"
)

func newParseArgsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-args <meta-file> -- <args...>",
		Short: "bind CLI arguments against a meta document and print the mutated meta",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metaText, err := os.ReadFile(platform.LongPathname(args[0]))
			if err != nil {
				return fmt.Errorf("read meta file: %w", err)
			}

			tokens := append([]string{"parse-args"}, args[1:]...)
			out, outcome, err := abi.ParseArgsToJSONConfig(metaText, tokens)
			if err != nil {
				return err
			}
			if outcome != argschema.OutcomeContinue {
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
