package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mvellano/enhancerd/internal/queue"
)

// FFmpeg wraps the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	BinPath   string
	ProbePath string
}

func NewFFmpeg(binPath, probePath string) *FFmpeg {
	return &FFmpeg{
		BinPath:   strings.TrimSpace(binPath),
		ProbePath: strings.TrimSpace(probePath),
	}
}

// MediaInfo is the subset of probe output the service cares about.
type MediaInfo struct {
	DurationSeconds float64
	Width           int
	Height          int
	VideoCodec      string
	AudioCodec      string
	HasVideo        bool
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (MediaInfo, error) {
	cmd := exec.CommandContext(ctx, f.ProbePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return MediaInfo{}, ctx.Err()
		}
		return MediaInfo{}, queue.NewToolError("ffprobe failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return MediaInfo{}, queue.NewToolError("ffprobe output unreadable: %v", err)
	}

	info := MediaInfo{}
	if out.Format.Duration != "" {
		info.DurationSeconds, _ = strconv.ParseFloat(out.Format.Duration, 64)
	}
	for _, stream := range out.Streams {
		switch stream.CodecType {
		case "video":
			info.HasVideo = true
			info.VideoCodec = stream.CodecName
			if stream.Width > info.Width {
				info.Width = stream.Width
			}
			if stream.Height > info.Height {
				info.Height = stream.Height
			}
		case "audio":
			info.AudioCodec = stream.CodecName
		}
	}
	return info, nil
}

// Convert transcodes input to the target container format.
func (f *FFmpeg) Convert(ctx context.Context, inputPath, format, codec, crf string, onProgress func(float64)) (string, error) {
	outputPath := outputFor(inputPath, "converted", format)

	args := []string{"-i", inputPath}
	if audioOnlyFormat(format) {
		args = append(args, "-vn", "-c:a", audioCodecFor(format))
	} else {
		videoCodec := codec
		if videoCodec == "" {
			videoCodec = "libx264"
		}
		if crf == "" {
			crf = "23"
		}
		args = append(args, "-c:v", videoCodec, "-crf", crf, "-preset", "medium", "-c:a", "aac")
	}
	if err := f.run(ctx, inputPath, outputPath, args, onProgress); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Denoise applies hqdn3d video and afftdn audio denoising filters.
func (f *FFmpeg) Denoise(ctx context.Context, inputPath string, onProgress func(float64)) (string, error) {
	outputPath := outputFor(inputPath, "denoised", "mp4")
	args := []string{
		"-i", inputPath,
		"-vf", "hqdn3d=3:2:4:3",
		"-af", "afftdn=nr=20:nf=-25",
		"-c:v", "libx264",
		"-c:a", "aac",
	}
	if err := f.run(ctx, inputPath, outputPath, args, onProgress); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Sharpen applies an unsharp mask.
func (f *FFmpeg) Sharpen(ctx context.Context, inputPath string, onProgress func(float64)) (string, error) {
	outputPath := outputFor(inputPath, "sharpened", "mp4")
	args := []string{
		"-i", inputPath,
		"-vf", "unsharp=5:5:0.8:3:3:0.4",
		"-c:v", "libx264",
		"-c:a", "copy",
	}
	if err := f.run(ctx, inputPath, outputPath, args, onProgress); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Quality re-encodes at a high-quality CRF without resizing.
func (f *FFmpeg) Quality(ctx context.Context, inputPath string, onProgress func(float64)) (string, error) {
	outputPath := outputFor(inputPath, "enhanced", "mp4")
	args := []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-crf", "18",
		"-preset", "slow",
		"-c:a", "copy",
	}
	if err := f.run(ctx, inputPath, outputPath, args, onProgress); err != nil {
		return "", err
	}
	return outputPath, nil
}

// Upscale is the lanczos scaling fallback used when no dedicated
// upscaler binary is configured.
func (f *FFmpeg) Upscale(ctx context.Context, inputPath string, width, height int, onProgress func(float64)) (string, error) {
	outputPath := outputFor(inputPath, fmt.Sprintf("upscaled_%dx%d", width, height), "mp4")
	args := []string{
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=%d:%d:flags=lanczos", width, height),
		"-c:v", "libx264",
		"-crf", "18",
		"-preset", "slow",
		"-c:a", "copy",
	}
	if err := f.run(ctx, inputPath, outputPath, args, onProgress); err != nil {
		return "", err
	}
	return outputPath, nil
}

// run executes ffmpeg with machine-readable progress on stdout and maps
// a context kill back to ctx.Err() so cancellation is not mistaken for
// a tool failure.
func (f *FFmpeg) run(ctx context.Context, inputPath, outputPath string, args []string, onProgress func(float64)) error {
	full := append([]string{"-hide_banner", "-nostats"}, args...)
	full = append(full, "-progress", "pipe:1", "-y", outputPath)

	var duration float64
	if onProgress != nil {
		if info, err := f.Probe(ctx, inputPath); err == nil {
			duration = info.DurationSeconds
		}
	}

	cmd := exec.CommandContext(ctx, f.BinPath, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return queue.NewToolError("ffmpeg pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return queue.NewToolError("ffmpeg start: %v", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if onProgress == nil || duration <= 0 {
			continue
		}
		if raw, ok := strings.CutPrefix(line, "out_time_us="); ok {
			us, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			pct := float64(us) / 1e6 / duration * 100
			if pct > 99 {
				pct = 99
			}
			onProgress(pct)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext surfaces "signal: killed" instead of
			// the context error.
			return ctx.Err()
		}
		return queue.NewToolError("ffmpeg failed: %v: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func outputFor(inputPath, suffix, ext string) string {
	dir := filepath.Dir(inputPath)
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", base, suffix, ext))
}

func audioOnlyFormat(format string) bool {
	switch strings.ToLower(format) {
	case "mp3", "aac", "wav", "flac", "ogg":
		return true
	default:
		return false
	}
}

func audioCodecFor(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "libmp3lame"
	case "wav":
		return "pcm_s16le"
	default:
		return "aac"
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
