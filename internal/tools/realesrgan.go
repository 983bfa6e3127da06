package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mvellano/enhancerd/internal/queue"
)

// Realesrgan runs the realesrgan-ncnn-vulkan frame upscaler. Videos are
// split into frames with ffmpeg, upscaled frame by frame, then
// reassembled with the original audio track.
type Realesrgan struct {
	BinPath string
	ffmpeg  *FFmpeg
}

func NewRealesrgan(binPath string, ffmpeg *FFmpeg) *Realesrgan {
	return &Realesrgan{BinPath: strings.TrimSpace(binPath), ffmpeg: ffmpeg}
}

func (r *Realesrgan) Available() bool {
	if r.BinPath == "" {
		return false
	}
	_, err := exec.LookPath(r.BinPath)
	return err == nil
}

// Upscale runs the full frame pipeline. Progress is coarse: extraction,
// per-directory upscaling and reassembly each advance the callback.
func (r *Realesrgan) Upscale(ctx context.Context, inputPath string, scale int, model string, onProgress func(float64)) (string, error) {
	if model == "" {
		model = "realesrgan-x4plus"
	}
	outputPath := outputFor(inputPath, fmt.Sprintf("upscaled_x%d", scale), "mp4")

	workDir, err := os.MkdirTemp(filepath.Dir(inputPath), "frames_")
	if err != nil {
		return "", queue.NewToolError("create frame dir: %v", err)
	}
	defer os.RemoveAll(workDir)

	framesDir := filepath.Join(workDir, "in")
	upscaledDir := filepath.Join(workDir, "out")
	for _, dir := range []string{framesDir, upscaledDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return "", queue.NewToolError("create frame dir: %v", err)
		}
	}

	report := func(pct float64) {
		if onProgress != nil {
			onProgress(pct)
		}
	}

	if err := r.extractFrames(ctx, inputPath, framesDir); err != nil {
		return "", err
	}
	report(20)

	if err := r.upscaleFrames(ctx, framesDir, upscaledDir, scale, model); err != nil {
		return "", err
	}
	report(80)

	if err := r.reassemble(ctx, upscaledDir, inputPath, outputPath); err != nil {
		return "", err
	}
	report(99)
	return outputPath, nil
}

func (r *Realesrgan) extractFrames(ctx context.Context, videoPath, framesDir string) error {
	args := []string{
		"-i", videoPath,
		"-q:v", "1",
	}
	pattern := filepath.Join(framesDir, "frame_%06d.png")
	return r.ffmpeg.run(ctx, videoPath, pattern, args, nil)
}

func (r *Realesrgan) upscaleFrames(ctx context.Context, framesDir, outputDir string, scale int, model string) error {
	cmd := exec.CommandContext(ctx, r.BinPath,
		"-i", framesDir,
		"-o", outputDir,
		"-n", model,
		"-s", fmt.Sprintf("%d", scale),
		"-f", "png",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return queue.NewToolError("realesrgan failed: %v: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func (r *Realesrgan) reassemble(ctx context.Context, framesDir, originalPath, outputPath string) error {
	fps := r.frameRate(ctx, originalPath)
	args := []string{
		"-framerate", fps,
		"-i", filepath.Join(framesDir, "frame_%06d.png"),
		"-i", originalPath,
		"-c:v", "libx264",
		"-crf", "18",
		"-preset", "slow",
		"-c:a", "copy",
		"-map", "0:v:0",
		"-map", "1:a:0?",
	}
	return r.ffmpeg.run(ctx, originalPath, outputPath, args, nil)
}

func (r *Realesrgan) frameRate(ctx context.Context, videoPath string) string {
	cmd := exec.CommandContext(ctx, r.ffmpeg.ProbePath,
		"-v", "quiet",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "csv=p=0",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return "24"
	}
	raw := strings.TrimSpace(string(out))
	num, den, ok := strings.Cut(raw, "/")
	if !ok {
		return "24"
	}
	n, err1 := strconv.Atoi(strings.TrimSpace(num))
	d, err2 := strconv.Atoi(strings.TrimSpace(den))
	if err1 != nil || err2 != nil || n <= 0 || d <= 0 {
		return "24"
	}
	return strconv.Itoa(n / d)
}
