package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mvellano/enhancerd/internal/queue"
)

// TelegramSink posts terminal summaries to a chat via the Bot API. The
// notify target is the chat id. Completed tasks get the result file
// attached when it still exists on disk; everything else is a plain
// message.
type TelegramSink struct {
	token   string
	apiBase string
	client  *http.Client
}

func NewTelegramSink(token, apiBase string) *TelegramSink {
	return &TelegramSink{
		token:   strings.TrimSpace(token),
		apiBase: strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *TelegramSink) Notify(ctx context.Context, target string, summary queue.Summary) error {
	text := formatSummary(summary)
	if summary.Status == queue.StatusCompleted && summary.ResultRef != "" {
		if _, err := os.Stat(summary.ResultRef); err == nil {
			return s.sendDocument(ctx, target, summary.ResultRef, text)
		}
	}
	return s.sendMessage(ctx, target, text)
}

func (s *TelegramSink) sendMessage(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.methodURL("sendMessage"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *TelegramSink) sendDocument(ctx context.Context, chatID, path, caption string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", chatID); err != nil {
		return err
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.methodURL("sendDocument"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return s.do(req)
}

func (s *TelegramSink) do(req *http.Request) error {
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("telegram api status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

func (s *TelegramSink) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", s.apiBase, s.token, method)
}

func formatSummary(summary queue.Summary) string {
	elapsed := summary.Elapsed.Round(time.Second)
	switch summary.Status {
	case queue.StatusCompleted:
		return fmt.Sprintf("✅ Done! Task %s (%s) finished in %s.", summary.TaskID, summary.Kind, elapsed)
	case queue.StatusFailed:
		reason := summary.ErrorMessage
		if reason == "" {
			reason = "unknown error"
		}
		return fmt.Sprintf("❌ Task %s (%s) failed: %s", summary.TaskID, summary.Kind, reason)
	case queue.StatusCancelled:
		return fmt.Sprintf("🚫 Task %s (%s) was cancelled.", summary.TaskID, summary.Kind)
	default:
		return fmt.Sprintf("Task %s (%s): %s", summary.TaskID, summary.Kind, summary.Status)
	}
}
