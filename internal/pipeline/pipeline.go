// Package pipeline drives a finished recording through its processing
// stages: upload to the video host, transcription, summarization, and
// finally the orchestrated tool-calling run that produces a work item.
// Each stage writes its artifact back to the store, so an interrupted
// recording resumes at the first stage still missing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"recap/internal/llm"
	"recap/internal/logging"
	"recap/internal/orchestrator"
	"recap/internal/recording"
)

const summaryPrompt = `You summarize transcripts of recorded work sessions.
Produce a concise summary covering what was worked on, the decisions made,
problems that came up, and follow-up actions. Keep it under 300 words.`

// Pipeline runs recordings through their processing stages.
type Pipeline struct {
	store    *recording.Store
	uploader Uploader
	trans    Transcriber
	llm      llm.Client
	orch     *orchestrator.Orchestrator
}

// New assembles a pipeline from its stages.
func New(store *recording.Store, uploader Uploader, trans Transcriber, client llm.Client, orch *orchestrator.Orchestrator) *Pipeline {
	return &Pipeline{
		store:    store,
		uploader: uploader,
		trans:    trans,
		llm:      client,
		orch:     orch,
	}
}

// Process takes a recording through upload, transcription,
// summarization, and the orchestrated run. Stages whose artifact is
// already present are skipped, so a recording that failed partway picks
// up where it stopped. runID names the run; empty picks a fresh id.
func (p *Pipeline) Process(ctx context.Context, rec *recording.Recording, runID string) (*orchestrator.Result, error) {
	if !rec.Uploaded() {
		if p.uploader == nil {
			return nil, fmt.Errorf("recording %s is not uploaded and no upload target is configured", rec.ID)
		}
		logging.Info("uploading recording", "recording", rec.ID)
		videoURL, err := p.uploader.Upload(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("upload stage failed: %w", err)
		}
		rec.VideoURL = videoURL
		if err := p.store.Save(rec); err != nil {
			return nil, err
		}
	}

	if !rec.Transcribed() {
		if p.trans == nil {
			return nil, fmt.Errorf("recording %s has no transcript and no transcription backend is configured", rec.ID)
		}
		logging.Info("transcribing recording", "recording", rec.ID)
		transcript, err := p.trans.Transcribe(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("transcription stage failed: %w", err)
		}
		rec.Transcript = transcript
		if err := p.store.Save(rec); err != nil {
			return nil, err
		}
	}

	if rec.Summary == "" {
		logging.Info("summarizing recording", "recording", rec.ID)
		summary, err := p.summarize(ctx, rec.Transcript)
		if err != nil {
			return nil, fmt.Errorf("summary stage failed: %w", err)
		}
		rec.Summary = summary
		if err := p.store.Save(rec); err != nil {
			return nil, err
		}
	}

	return p.orchestrate(ctx, rec, runID)
}

// Retry reruns the orchestrated stage of a recording that already
// finished its preparation stages. The id may be the recording id or
// the run id of the previous attempt.
func (p *Pipeline) Retry(ctx context.Context, id, runID string) (*orchestrator.Result, error) {
	rec, err := p.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !rec.Uploaded() || rec.Summary == "" {
		return nil, fmt.Errorf("recording %s has not finished its preparation stages; process it instead", rec.ID)
	}
	return p.orchestrate(ctx, rec, runID)
}

// Lookup resolves an id to a recording. It accepts a recording id or
// the run id of a previous attempt.
func (p *Pipeline) Lookup(id string) (*recording.Recording, error) {
	rec, err := p.store.Load(id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, recording.ErrNotFound) {
		return nil, err
	}

	// Not a recording id; try it as the run id of a previous attempt.
	recs, listErr := p.store.List()
	if listErr != nil {
		return nil, listErr
	}
	for _, r := range recs {
		if r.RunID == id {
			return r, nil
		}
	}
	return nil, err
}

// orchestrate builds the run task from the stored artifacts and records
// the run id on the recording, even when the run fails, so it can be
// retried.
func (p *Pipeline) orchestrate(ctx context.Context, rec *recording.Recording, runID string) (*orchestrator.Result, error) {
	result, err := p.orch.Run(ctx, orchestrator.Task{
		RunID:   runID,
		Goal:    buildGoal(rec),
		Context: buildContext(rec),
	})

	if result != nil && result.RunID != "" {
		rec.RunID = result.RunID
		if saveErr := p.store.Save(rec); saveErr != nil {
			logging.Warn("failed to record run id", "recording", rec.ID, "error", saveErr)
		}
	}
	return result, err
}

func (p *Pipeline) summarize(ctx context.Context, transcript string) (string, error) {
	summary, err := p.llm.GenerateText(ctx, llm.Request{
		System:   summaryPrompt,
		Messages: []llm.Message{llm.UserMessage(transcript)},
	})
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return summary, nil
}

func buildGoal(rec *recording.Recording) string {
	title := rec.Title
	if title == "" {
		title = rec.ID
	}
	return fmt.Sprintf("Create a work item from the recorded session %q using the available tools.", title)
}

func buildContext(rec *recording.Recording) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recording id: %s\n", rec.ID)
	if rec.VideoURL != "" {
		fmt.Fprintf(&sb, "Video: %s\n", rec.VideoURL)
	}
	fmt.Fprintf(&sb, "\nSession summary:\n%s\n", rec.Summary)
	sb.WriteString("\nThe full transcript is available through the recordings tools.")
	return sb.String()
}
