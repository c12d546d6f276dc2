package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"archhive/internal/config"
	"archhive/internal/hivescript"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <type> <payload>...",
	Short: "Encode a record as a snapshot line",
	Long: "Encode one typed record as a wire line. Multiple payload arguments\n" +
		"become colon-separated fields, each escaped independently.",
	Args: cobra.MinimumNArgs(2),
	RunE: runEncode,
}

var decodeCmd = &cobra.Command{
	Use:   "decode <line>",
	Short: "Decode a snapshot line into its type and fields",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
}

func runEncode(cmd *cobra.Command, args []string) error {
	codec, err := newCodec(config.Load())
	if err != nil {
		return err
	}

	typ := hivescript.RecordType(args[0])
	var line string
	if len(args) == 2 {
		line, err = codec.Encode(typ, args[1])
	} else {
		line, err = codec.EncodeFields(typ, args[1:]...)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), line)
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	codec, err := newCodec(config.Load())
	if err != nil {
		return err
	}

	typ, fields, err := codec.DecodeFields(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", typ, strings.Join(fields, "\t"))
	return nil
}
