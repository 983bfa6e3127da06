package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mvellano/enhancerd/internal/queue"
)

// Video2X runs the video2x CLI, which handles frame extraction and
// reassembly itself.
type Video2X struct {
	BinPath string
}

func NewVideo2X(binPath string) *Video2X {
	return &Video2X{BinPath: strings.TrimSpace(binPath)}
}

func (v *Video2X) Available() bool {
	if v.BinPath == "" {
		return false
	}
	_, err := exec.LookPath(v.BinPath)
	return err == nil
}

func (v *Video2X) Upscale(ctx context.Context, inputPath string, scale int, onProgress func(float64)) (string, error) {
	outputPath := outputFor(inputPath, fmt.Sprintf("upscaled_x%d", scale), "mp4")

	cmd := exec.CommandContext(ctx, v.BinPath,
		"-i", inputPath,
		"-o", outputPath,
		"--ratio", fmt.Sprintf("%d", scale),
		"--processor", "realesrgan",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if onProgress != nil {
		onProgress(5)
	}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", queue.NewToolError("video2x failed: %v: %s", err, lastLine(stderr.String()))
	}
	if onProgress != nil {
		onProgress(99)
	}
	return outputPath, nil
}
