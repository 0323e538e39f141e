package lzss

import (
	"os"

	"github.com/thinger-io/thinger-ota/pkg/errors"
)

// CompressFile encodes the file at inputPath into outputPath.
func CompressFile(inputPath, outputPath string) error {
	return transformFile(inputPath, outputPath, Encode)
}

// DecompressFile decodes the file at inputPath into outputPath. The input must be a
// complete stream as written by CompressFile.
func DecompressFile(inputPath, outputPath string) error {
	return transformFile(inputPath, outputPath, Decode)
}

func transformFile(inputPath, outputPath string, fn func([]byte) []byte) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return errors.Wrap(err, "failed to read input file")
	}
	if err := os.WriteFile(outputPath, fn(data), 0644); err != nil {
		return errors.Wrap(err, "failed to write output file")
	}
	return nil
}
