package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"archhive/internal/config"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Write the registry spec as JSON",
	Long: "Write the active registry (format version plus the prefix table) as a\n" +
		"JSON spec file. Another installation can load it to decode snapshots\n" +
		"with the same prefix assignments.",
	Args: cobra.NoArgs,
	RunE: runSpec,
}

func init() {
	specCmd.Flags().StringP("output", "o", "archhive-spec.json", "output file")
	rootCmd.AddCommand(specCmd)
}

func runSpec(cmd *cobra.Command, _ []string) error {
	codec, err := newCodec(config.Load())
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if err := codec.Registry().SaveSpec(output); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}
