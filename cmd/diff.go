package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"archhive/internal/config"
	"archhive/internal/hivescript"
	"archhive/internal/snapdiff"
	"archhive/internal/store"
)

var diffCmd = &cobra.Command{
	Use:   "diff <before> <after>",
	Short: "Compare two snapshots",
	Long: "Compare two snapshots given as file paths or snapshot store names.\n" +
		"By default a text report is printed; --script emits snapshot lines\n" +
		"describing the forward delta, and --unified shows changed config files\n" +
		"as unified diffs.",
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().Bool("script", false, "emit the change script as snapshot lines")
	diffCmd.Flags().Bool("unified", false, "render changed configs as unified diffs")
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}

	st, err := openStore(cmd.Context(), cfg, codec)
	if err != nil {
		return err
	}
	defer st.Close()

	before, err := loadSnapshot(cmd, st, codec, args[0])
	if err != nil {
		return err
	}
	after, err := loadSnapshot(cmd, st, codec, args[1])
	if err != nil {
		return err
	}

	if script, _ := cmd.Flags().GetBool("script"); script {
		lines, err := snapdiff.ChangeScript(codec, before, after)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	}

	result := snapdiff.Diff(before, after)

	if unified, _ := cmd.Flags().GetBool("unified"); unified {
		for _, path := range result.ChangedConfigs {
			text, err := snapdiff.Unified(path, before, after)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
		}
		return nil
	}

	fmt.Fprint(cmd.OutOrStdout(), snapdiff.Render(result, before, after))
	return nil
}

// loadSnapshot resolves the argument as a store name first, then as a file
// path. Decode warnings go to stderr; they never fail the diff.
func loadSnapshot(cmd *cobra.Command, st *store.Store, codec *hivescript.Codec, arg string) (*hivescript.Snapshot, error) {
	lines, err := st.Read(cmd.Context(), arg)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		data, ferr := os.ReadFile(arg)
		if ferr != nil {
			return nil, fmt.Errorf("snapshot %q: not in store and not a readable file", arg)
		}
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	} else if err != nil {
		return nil, err
	}

	snap, warnings := codec.DecodeSnapshot(lines)
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", arg, w.Text)
	}
	return snap, nil
}
