package queue

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the tagged task variant. Each kind carries its own parameter
// schema, validated once at submission; unknown kinds or fields are
// rejected instead of silently defaulted.
type Kind string

const (
	KindEnhance   Kind = "enhance"
	KindConvert   Kind = "convert"
	KindAIEnhance Kind = "ai_enhance"
)

type Params map[string]string

// ValidationError reports a malformed kind or parameter at submission.
// The task is never created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid task: " + e.Reason
	}
	return fmt.Sprintf("invalid task parameter %q: %s", e.Field, e.Reason)
}

var enhanceTypes = map[string]bool{
	"denoise":       true,
	"sharpen":       true,
	"quality":       true,
	"upscale_1080p": true,
	"upscale_2k":    true,
}

var upscaleModels = map[string]bool{
	"realesrgan-x4plus":       true,
	"realesr-animevideov3":    true,
	"realesrgan-x4plus-anime": true,
}

var upscaleEnhanceTypes = map[string]bool{
	"upscale_1080p": true,
	"upscale_2k":    true,
}

var convertFormats = map[string]bool{
	"mp4":  true,
	"webm": true,
	"mkv":  true,
	"avi":  true,
	"mov":  true,
	"gif":  true,
	"mp3":  true,
	"aac":  true,
	"wav":  true,
}

var aiTargets = map[string]bool{
	"auto":  true,
	"1080p": true,
	"2k":    true,
}

// ValidateKind checks kind and params against the kind's schema.
func ValidateKind(kind Kind, params Params) error {
	switch kind {
	case KindEnhance:
		return validateEnhance(params)
	case KindConvert:
		return validateConvert(params)
	case KindAIEnhance:
		return validateAIEnhance(params)
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown kind %q", kind)}
	}
}

func validateEnhance(params Params) error {
	typ := strings.TrimSpace(params["type"])
	if typ == "" {
		return &ValidationError{Field: "type", Reason: "required for kind enhance"}
	}
	if !enhanceTypes[typ] {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported enhancement %q", typ)}
	}
	for key, value := range params {
		switch key {
		case "type":
		case "model":
			if !upscaleEnhanceTypes[typ] {
				return &ValidationError{Field: "model", Reason: fmt.Sprintf("not applicable to enhancement %q", typ)}
			}
			if !upscaleModels[strings.TrimSpace(value)] {
				return &ValidationError{Field: "model", Reason: fmt.Sprintf("unsupported model %q", value)}
			}
		default:
			return &ValidationError{Field: key, Reason: "unknown field for kind enhance"}
		}
	}
	return nil
}

func validateConvert(params Params) error {
	format := strings.TrimSpace(params["format"])
	if format == "" {
		return &ValidationError{Field: "format", Reason: "required for kind convert"}
	}
	if !convertFormats[format] {
		return &ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", format)}
	}
	for key, value := range params {
		switch key {
		case "format", "codec":
		case "crf":
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 || n > 51 {
				return &ValidationError{Field: "crf", Reason: "must be an integer in [0, 51]"}
			}
		default:
			return &ValidationError{Field: key, Reason: "unknown field for kind convert"}
		}
	}
	return nil
}

func validateAIEnhance(params Params) error {
	for key, value := range params {
		switch key {
		case "target":
			if !aiTargets[strings.TrimSpace(value)] {
				return &ValidationError{Field: "target", Reason: fmt.Sprintf("unsupported target %q", value)}
			}
		default:
			return &ValidationError{Field: key, Reason: "unknown field for kind ai_enhance"}
		}
	}
	return nil
}
