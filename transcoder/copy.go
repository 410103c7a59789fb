package transcoder

import (
	"context"
	"io"
	"os"

	"variagen/logger"
)

// Copy writes the input unchanged to the output path. It needs no external
// binary and is meant for dry runs on hosts without ffmpeg.
type Copy struct{}

func (Copy) Transcode(ctx context.Context, req Request) error {
	return copyFile(ctx, req.Variation, req.InputPath, req.OutputPath)
}

// CleanMetadata copies the file as is; there is no metadata handling
// without ffmpeg.
func (Copy) CleanMetadata(ctx context.Context, inputPath, outputPath string) error {
	return copyFile(ctx, 1, inputPath, outputPath)
}

func copyFile(ctx context.Context, variation int, inputPath, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(inputPath)
	if err != nil {
		return &EngineError{Variation: variation, Command: "copy", ExitCode: -1, Err: err}
	}
	defer src.Close()

	dst, err := os.Create(outputPath)
	if err != nil {
		return &EngineError{Variation: variation, Command: "copy", ExitCode: -1, Err: err}
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return &EngineError{Variation: variation, Command: "copy", ExitCode: -1, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &EngineError{Variation: variation, Command: "copy", ExitCode: -1, Err: err}
	}

	logger.Debugf("copied %s to %s", inputPath, outputPath)
	return nil
}
