package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"archhive/internal/config"
	"archhive/internal/facts"
	"archhive/internal/reconcile"
)

var applyCmd = &cobra.Command{
	Use:   "apply <snapshot>",
	Short: "Reconcile the live system against a snapshot",
	Long: "Evaluate every item of a target snapshot (store name or file path)\n" +
		"against the running system. Items already in the desired state are\n" +
		"left alone; with --dry-run nothing is changed and planned actions are\n" +
		"reported instead.",
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().Bool("dry-run", false, "report planned changes without applying them")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
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

	snap, err := loadSnapshot(cmd, st, codec, args[0])
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	sys := facts.NewPacman(cfg.Pacman.Command, cfg.Pacman.NoConfirm, "")
	report := reconcile.New(sys).Reconcile(cmd.Context(), snap, dryRun)

	printReport(cmd, report)
	if len(report.Errors) > 0 {
		return fmt.Errorf("%d of %d actions failed", len(report.Errors), len(report.Actions))
	}
	return nil
}

func printReport(cmd *cobra.Command, report *reconcile.Report) {
	if report.DryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Dry run; no changes applied.")
	}
	for _, change := range report.Changes {
		fmt.Fprintln(cmd.OutOrStdout(), change)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", e)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d actions, %d changes, %d warnings, %d errors (%s)\n",
		len(report.Actions), len(report.Changes), len(report.Warnings), len(report.Errors), report.Duration)
}
