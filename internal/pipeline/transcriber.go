package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"recap/internal/logging"
	"recap/internal/recording"
)

// Transcriber turns a recording into a text transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, rec *recording.Recording) (string, error)
}

// Files under this size ride inline in the request; larger ones go
// through the file upload API first.
const inlineFileLimit = 15 * 1024 * 1024

const filePollInterval = 2 * time.Second

const transcribePrompt = `Transcribe this recording of a work session.
Write out all speech verbatim. When the screen shows significant actions
(commands run, files edited, errors shown), note them in brackets.
Prefix each segment with a [mm:ss] timestamp.`

// GeminiTranscriber transcribes recordings with a multimodal Gemini
// model.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
}

// NewGeminiTranscriber creates a transcriber backed by the Gemini API.
func NewGeminiTranscriber(ctx context.Context, apiKey, model string) (*GeminiTranscriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transcriber: missing API key")
	}
	if model == "" {
		return nil, fmt.Errorf("transcriber: missing model")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("transcriber: failed to create client: %w", err)
	}

	return &GeminiTranscriber{client: client, model: model}, nil
}

// Transcribe sends the recording's media to the model and returns the
// transcript text.
func (t *GeminiTranscriber) Transcribe(ctx context.Context, rec *recording.Recording) (string, error) {
	if rec.Path == "" {
		return "", fmt.Errorf("recording %s has no local file", rec.ID)
	}

	info, err := os.Stat(rec.Path)
	if err != nil {
		return "", fmt.Errorf("failed to stat recording file: %w", err)
	}

	mimeType := mediaMIMEType(rec.Path)

	var mediaPart *genai.Part
	if info.Size() <= inlineFileLimit {
		data, err := os.ReadFile(rec.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read recording file: %w", err)
		}
		mediaPart = genai.NewPartFromBytes(data, mimeType)
	} else {
		uploaded, err := t.uploadFile(ctx, rec.Path, mimeType)
		if err != nil {
			return "", err
		}
		defer func() {
			if _, err := t.client.Files.Delete(ctx, uploaded.Name, nil); err != nil {
				logging.Debug("failed to delete uploaded media", "file", uploaded.Name, "error", err)
			}
		}()
		mediaPart = genai.NewPartFromURI(uploaded.URI, uploaded.MIMEType)
	}

	content := genai.NewContentFromParts([]*genai.Part{
		mediaPart,
		genai.NewPartFromText(transcribePrompt),
	}, genai.RoleUser)

	resp, err := t.client.Models.GenerateContent(ctx, t.model, []*genai.Content{content}, nil)
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("model returned an empty transcript")
	}
	return text, nil
}

// uploadFile pushes the media through the file API and waits until the
// service has finished processing it.
func (t *GeminiTranscriber) uploadFile(ctx context.Context, path, mimeType string) (*genai.File, error) {
	logging.Info("uploading media for transcription", "path", path, "mime", mimeType)

	file, err := t.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("media upload failed: %w", err)
	}

	ticker := time.NewTicker(filePollInterval)
	defer ticker.Stop()

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		file, err = t.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to check upload state: %w", err)
		}
	}

	if file.State != genai.FileStateActive {
		return nil, fmt.Errorf("media upload ended in state %s", file.State)
	}
	return file, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String())
}

func mediaMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}
