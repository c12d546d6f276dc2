package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"archhive/internal/config"
	"archhive/internal/facts"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture the current system as snapshot lines",
	Long: "Collect packages, config files, tweaks, and hardware facts from the\n" +
		"running system and encode them as snapshot lines. Prints to stdout by\n" +
		"default; -o writes a file and --save stores to the snapshot directory.",
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringP("output", "o", "", "write snapshot lines to file")
	snapshotCmd.Flags().Bool("save", false, "save to the snapshot store")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}

	rules, err := facts.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}

	collector := facts.NewCollector(rules, cfg.Pacman.Command)
	snap := collector.Snapshot(cmd.Context())
	snap.Version = codec.Registry().Version()

	lines, err := codec.EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if save, _ := cmd.Flags().GetBool("save"); save {
		st, err := openStore(cmd.Context(), cfg, codec)
		if err != nil {
			return err
		}
		defer st.Close()
		filename, err := st.Save(cmd.Context(), lines, snap.Scope)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), filename)
		return nil
	}

	content := strings.Join(lines, "\n") + "\n"
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		return os.WriteFile(output, []byte(content), 0o644)
	}
	fmt.Fprint(cmd.OutOrStdout(), content)
	return nil
}
