// Package cmd implements the archhive command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"archhive/internal/config"
	"archhive/internal/hivescript"
	"archhive/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "archhive",
	Short: "Machine configuration snapshots in a typed line format",
	Long: "Archhive captures a machine's configuration (packages, config files,\n" +
		"tweaks) as prefix-tagged snapshot lines, diffs snapshots, and reconciles\n" +
		"a live system against a target snapshot.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default .archhive.yaml)")
	rootCmd.PersistentFlags().String("snapshot-dir", "", "snapshot store directory")
	rootCmd.PersistentFlags().String("spec-file", "", "registry spec JSON file (default: built-in registry)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("snapshot_dir", rootCmd.PersistentFlags().Lookup("snapshot-dir"))
	_ = viper.BindPFlag("spec_file", rootCmd.PersistentFlags().Lookup("spec-file"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".archhive")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("ARCHHIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}

// newCodec builds the codec from the configured spec file, or the built-in
// registry when none is configured.
func newCodec(cfg config.Config) (*hivescript.Codec, error) {
	if cfg.SpecFile == "" {
		return hivescript.NewCodec(hivescript.DefaultRegistry()), nil
	}
	reg, err := hivescript.LoadSpec(cfg.SpecFile)
	if err != nil {
		return nil, fmt.Errorf("load spec %s: %w", cfg.SpecFile, err)
	}
	return hivescript.NewCodec(reg), nil
}

// openStore opens the configured snapshot store.
func openStore(ctx context.Context, cfg config.Config, codec *hivescript.Codec) (*store.Store, error) {
	return store.New(ctx, cfg.SnapshotDir, codec)
}
