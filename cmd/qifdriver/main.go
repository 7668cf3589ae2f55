// Command qifdriver drives the qpack codec against QIF interop fixtures:
// "encode" turns a QIF text file into the framed binary interop format,
// "decode" reverses that, and "roundtrip" chains the two in memory and
// prints the decoded QIF text; it does not compare it with the input.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagCapacity    uint64
	flagMaxBlocked  int
	flagAcknowledge bool
	flagVerbose     bool
	flagOutput      string
)

func newLogger() *zap.Logger {
	if flagVerbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	return zap.NewNop()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qifdriver",
		Short: "Drive the qpack codec against QIF interop fixtures",
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "output file (default stdout)")

	encodeCmd := &cobra.Command{
		Use:   "encode [input]",
		Short: "Encode a QIF text file into the binary interop format",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) > 0 {
				input = args[0]
			}
			return runEncode(encodeOptions{
				capacity:         flagCapacity,
				maxRiskedStreams: flagMaxBlocked,
				acknowledge:      flagAcknowledge,
				input:            input,
				output:           flagOutput,
			}, newLogger())
		},
	}
	encodeCmd.Flags().Uint64VarP(&flagCapacity, "table-capacity", "t", 4096, "dynamic table capacity")
	encodeCmd.Flags().IntVarP(&flagMaxBlocked, "max-blocked", "b", 0, "max number of streams the decoder may risk blocking")
	encodeCmd.Flags().BoolVarP(&flagAcknowledge, "acknowledge", "a", false, "treat every block as immediately acknowledged")

	decodeCmd := &cobra.Command{
		Use:   "decode [input]",
		Short: "Decode the binary interop format back into QIF text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) > 0 {
				input = args[0]
			}
			return runDecode(decodeOptions{
				capacity:         flagCapacity,
				maxRiskedStreams: flagMaxBlocked,
				input:            input,
				output:           flagOutput,
			}, newLogger())
		},
	}
	decodeCmd.Flags().Uint64VarP(&flagCapacity, "table-capacity", "t", 4096, "dynamic table capacity")
	decodeCmd.Flags().IntVarP(&flagMaxBlocked, "max-blocked", "b", 16, "max number of streams the decoder may risk blocking")

	roundtripCmd := &cobra.Command{
		Use:   "roundtrip [input]",
		Short: "Encode then decode a QIF file in memory and print the decoded result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) > 0 {
				input = args[0]
			}
			return runRoundtrip(input, flagCapacity, flagMaxBlocked, newLogger())
		},
	}
	roundtripCmd.Flags().Uint64VarP(&flagCapacity, "table-capacity", "t", 4096, "dynamic table capacity")
	roundtripCmd.Flags().IntVarP(&flagMaxBlocked, "max-blocked", "b", 16, "max number of streams the decoder may risk blocking")

	root.AddCommand(encodeCmd, decodeCmd, roundtripCmd)
	return root
}

// runRoundtrip chains runEncodeTo and runDecodeFrom through an in-memory
// buffer and writes the decoded QIF text to stdout. It does not compare
// that output with the input.
func runRoundtrip(input string, capacity uint64, maxBlocked int, logger *zap.Logger) error {
	in := io.Reader(os.Stdin)
	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var wire bytes.Buffer
	encOpts := encodeOptions{capacity: capacity, maxRiskedStreams: maxBlocked}
	if err := runEncodeTo(encOpts, in, &wire, logger); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	var decoded bytes.Buffer
	decOpts := decodeOptions{capacity: capacity, maxRiskedStreams: maxBlocked}
	if err := runDecodeFrom(decOpts, &wire, &decoded, logger); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	fmt.Fprint(os.Stdout, decoded.String())
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
