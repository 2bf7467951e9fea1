// Package builtin provides the tool servers that ship inside the
// program: recording lookups and web fetching. They register as
// in-memory endpoints and connect like any other server.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"recap/internal/mcp"
	"recap/internal/recording"
)

// RecordingsEndpoint is the registry channel the recordings server
// listens on.
const RecordingsEndpoint = "recordings"

// NewRecordingsServer builds the in-process server exposing the
// recording store to the model.
func NewRecordingsServer(store *recording.Store) *mcp.InMemoryServer {
	srv := mcp.NewInMemoryServer("recordings", "1.0.0")

	srv.RegisterTool(&mcp.ToolInfo{
		Name:        "list_recordings",
		Description: "Lists all captured recordings with their ids, titles, capture times, and processing state.",
		InputSchema: &mcp.JSONSchema{Type: "object", Properties: map[string]*mcp.JSONSchema{}},
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		recs, err := store.List()
		if err != nil {
			return nil, fmt.Errorf("failed to list recordings: %w", err)
		}
		if len(recs) == 0 {
			return mcp.TextResult("No recordings captured yet."), nil
		}

		var sb strings.Builder
		for _, rec := range recs {
			fmt.Fprintf(&sb, "%s | %s | captured %s | %s",
				rec.ID, rec.Title, rec.CapturedAt.Format("2006-01-02 15:04"), rec.Duration)
			var state []string
			if rec.Uploaded() {
				state = append(state, "uploaded")
			}
			if rec.Transcribed() {
				state = append(state, "transcribed")
			}
			if len(state) > 0 {
				fmt.Fprintf(&sb, " | %s", strings.Join(state, ", "))
			}
			sb.WriteString("\n")
		}
		return mcp.TextResult(sb.String()), nil
	})

	srv.RegisterTool(&mcp.ToolInfo{
		Name:        "get_transcript",
		Description: "Returns the full transcript of a recording.",
		InputSchema: recordingIDSchema(),
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		rec, errResult := lookup(store, args)
		if errResult != nil {
			return errResult, nil
		}
		if rec.Transcript == "" {
			return mcp.ErrorResult(fmt.Sprintf("recording %s has no transcript yet", rec.ID)), nil
		}
		return mcp.TextResult(rec.Transcript), nil
	})

	srv.RegisterTool(&mcp.ToolInfo{
		Name:        "get_summary",
		Description: "Returns the summary of a recording.",
		InputSchema: recordingIDSchema(),
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		rec, errResult := lookup(store, args)
		if errResult != nil {
			return errResult, nil
		}
		if rec.Summary == "" {
			return mcp.ErrorResult(fmt.Sprintf("recording %s has no summary yet", rec.ID)), nil
		}
		return mcp.TextResult(rec.Summary), nil
	})

	srv.RegisterTool(&mcp.ToolInfo{
		Name:        "get_video_link",
		Description: "Returns the URL of the uploaded video for a recording.",
		InputSchema: recordingIDSchema(),
	}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		rec, errResult := lookup(store, args)
		if errResult != nil {
			return errResult, nil
		}
		if rec.VideoURL == "" {
			return mcp.ErrorResult(fmt.Sprintf("recording %s has not been uploaded yet", rec.ID)), nil
		}
		return mcp.TextResult(rec.VideoURL), nil
	})

	return srv
}

func recordingIDSchema() *mcp.JSONSchema {
	return &mcp.JSONSchema{
		Type: "object",
		Properties: map[string]*mcp.JSONSchema{
			"recording_id": {
				Type:        "string",
				Description: "The id of the recording, as shown by list_recordings",
			},
		},
		Required: []string{"recording_id"},
	}
}

func lookup(store *recording.Store, args map[string]any) (*recording.Recording, *mcp.CallToolResult) {
	id, _ := args["recording_id"].(string)
	if id == "" {
		return nil, mcp.ErrorResult("recording_id is required")
	}
	rec, err := store.Load(id)
	if err != nil {
		return nil, mcp.ErrorResult(err.Error())
	}
	return rec, nil
}
