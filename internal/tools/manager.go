package tools

import (
	"context"
	"log"
	"strings"

	"github.com/mvellano/enhancerd/internal/queue"
)

// Manager dispatches a task kind to the right tool. It satisfies
// queue.ToolRunner; the queue itself only ever sees the interface.
type Manager struct {
	ffmpeg     *FFmpeg
	realesrgan *Realesrgan
	video2x    *Video2X
}

type Config struct {
	FFmpegPath     string
	FFprobePath    string
	RealesrganPath string
	Video2xPath    string
}

func NewManager(cfg Config) *Manager {
	ffmpeg := NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	return &Manager{
		ffmpeg:     ffmpeg,
		realesrgan: NewRealesrgan(cfg.RealesrganPath, ffmpeg),
		video2x:    NewVideo2X(cfg.Video2xPath),
	}
}

func (m *Manager) Execute(ctx context.Context, kind queue.Kind, inputPath string, params queue.Params, onProgress func(float64)) (string, error) {
	switch kind {
	case queue.KindConvert:
		return m.ffmpeg.Convert(ctx, inputPath, params["format"], params["codec"], params["crf"], onProgress)
	case queue.KindEnhance:
		return m.enhance(ctx, inputPath, params, onProgress)
	case queue.KindAIEnhance:
		return m.aiEnhance(ctx, inputPath, params, onProgress)
	default:
		return "", queue.NewToolError("no tool for kind %q", kind)
	}
}

func (m *Manager) enhance(ctx context.Context, inputPath string, params queue.Params, onProgress func(float64)) (string, error) {
	switch params["type"] {
	case "denoise":
		return m.ffmpeg.Denoise(ctx, inputPath, onProgress)
	case "sharpen":
		return m.ffmpeg.Sharpen(ctx, inputPath, onProgress)
	case "quality":
		return m.ffmpeg.Quality(ctx, inputPath, onProgress)
	case "upscale_1080p":
		return m.upscale(ctx, inputPath, 2, 1920, 1080, params["model"], onProgress)
	case "upscale_2k":
		return m.upscale(ctx, inputPath, 2, 2560, 1440, params["model"], onProgress)
	default:
		return "", queue.NewToolError("unsupported enhancement %q", params["type"])
	}
}

// upscale prefers Real-ESRGAN, then video2x, then plain lanczos scaling
// when neither upscaler binary is on the path.
func (m *Manager) upscale(ctx context.Context, inputPath string, scale, width, height int, model string, onProgress func(float64)) (string, error) {
	if m.realesrgan.Available() {
		return m.realesrgan.Upscale(ctx, inputPath, scale, model, onProgress)
	}
	if m.video2x.Available() {
		return m.video2x.Upscale(ctx, inputPath, scale, onProgress)
	}
	log.Printf("tools: no upscaler binary available, falling back to ffmpeg scaling")
	return m.ffmpeg.Upscale(ctx, inputPath, width, height, onProgress)
}

// aiEnhance probes the input and picks the enhancement by resolution:
// sub-720p sources get upscaled to 1080p, sub-1080p to 2K, anything
// larger gets a quality re-encode.
func (m *Manager) aiEnhance(ctx context.Context, inputPath string, params queue.Params, onProgress func(float64)) (string, error) {
	target := strings.TrimSpace(params["target"])
	if target == "" || target == "auto" {
		info, err := m.ffmpeg.Probe(ctx, inputPath)
		if err != nil {
			return "", err
		}
		switch {
		case !info.HasVideo:
			return m.ffmpeg.Denoise(ctx, inputPath, onProgress)
		case info.Width < 1280 || info.Height < 720:
			target = "1080p"
		case info.Width < 1920 || info.Height < 1080:
			target = "2k"
		default:
			return m.ffmpeg.Quality(ctx, inputPath, onProgress)
		}
	}

	enhanceType := "upscale_1080p"
	if target == "2k" {
		enhanceType = "upscale_2k"
	}
	return m.enhance(ctx, inputPath, queue.Params{"type": enhanceType}, onProgress)
}
