package tools

import (
	"context"

	"github.com/mvellano/enhancerd/internal/queue"
)

// MockRunner is a scriptable ToolRunner for tests and dry runs.
type MockRunner struct {
	ExecuteFunc func(ctx context.Context, kind queue.Kind, inputPath string, params queue.Params, onProgress func(float64)) (string, error)
}

func (m *MockRunner) Execute(ctx context.Context, kind queue.Kind, inputPath string, params queue.Params, onProgress func(float64)) (string, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, kind, inputPath, params, onProgress)
	}
	return inputPath, nil
}
