package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/lzss"
)

var lzssCmd = &cobra.Command{
	Use:   "lzss",
	Short: "Compress or decompress files with the device LZSS codec",
}

var lzssCompressCmd = &cobra.Command{
	Use:   "compress <input> <output>",
	Short: "Compress a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transform(args[0], args[1], lzss.CompressFile, "compressed")
	},
}

var lzssDecompressCmd = &cobra.Command{
	Use:   "decompress <input> <output>",
	Short: "Decompress a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transform(args[0], args[1], lzss.DecompressFile, "decompressed")
	},
}

func init() {
	rootCmd.AddCommand(lzssCmd)
	lzssCmd.AddCommand(lzssCompressCmd)
	lzssCmd.AddCommand(lzssDecompressCmd)
}

func transform(input, output string, fn func(string, string) error, verb string) error {
	if err := fn(input, output); err != nil {
		return errors.Wrap(err, "lzss failed")
	}

	in, err := os.Stat(input)
	if err != nil {
		return err
	}
	out, err := os.Stat(output)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: %d -> %d bytes\n", verb, input, in.Size(), out.Size())
	return nil
}
