package builtin

import (
	"context"
	"strings"
	"testing"
	"time"

	"recap/internal/mcp"
	"recap/internal/recording"
)

func recordingsFixture(t *testing.T) *recording.Store {
	t.Helper()
	store, err := recording.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	recs := []*recording.Recording{
		{
			ID:         "rec-ready",
			Title:      "sprint review",
			CapturedAt: time.Date(2025, 11, 3, 14, 0, 0, 0, time.UTC),
			Duration:   12 * time.Minute,
			VideoURL:   "https://media.example.com/rec-ready.mp4",
			Transcript: "we walked through the release checklist",
			Summary:    "release is on track",
		},
		{
			ID:         "rec-fresh",
			Title:      "quick capture",
			CapturedAt: time.Date(2025, 11, 3, 15, 0, 0, 0, time.UTC),
		},
	}
	for _, rec := range recs {
		if err := store.Save(rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	return store
}

func recordingsClient(t *testing.T, store *recording.Store) *mcp.Client {
	t.Helper()
	srv := NewRecordingsServer(store)
	client := mcp.NewClient(srv.Connect(), "recordings", 5*time.Second)
	t.Cleanup(func() { client.Close() })
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return client
}

func TestRecordingsListTool(t *testing.T) {
	client := recordingsClient(t, recordingsFixture(t))

	result, err := client.CallTool(context.Background(), "list_recordings", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	text := mcp.FlattenContent(result.Content)

	if !strings.Contains(text, "rec-ready") || !strings.Contains(text, "rec-fresh") {
		t.Errorf("listing missing recordings:\n%s", text)
	}
	if !strings.Contains(text, "uploaded, transcribed") {
		t.Errorf("listing missing processing state:\n%s", text)
	}
	// Newest first.
	if strings.Index(text, "rec-fresh") > strings.Index(text, "rec-ready") {
		t.Errorf("listing not newest first:\n%s", text)
	}
}

func TestRecordingsListEmpty(t *testing.T) {
	store, err := recording.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	client := recordingsClient(t, store)

	result, err := client.CallTool(context.Background(), "list_recordings", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if text := mcp.FlattenContent(result.Content); !strings.Contains(text, "No recordings") {
		t.Errorf("empty listing = %q", text)
	}
}

func TestRecordingsArtifactTools(t *testing.T) {
	client := recordingsClient(t, recordingsFixture(t))
	ctx := context.Background()

	tests := []struct {
		tool string
		want string
	}{
		{"get_transcript", "release checklist"},
		{"get_summary", "on track"},
		{"get_video_link", "https://media.example.com/rec-ready.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			result, err := client.CallTool(ctx, tt.tool, map[string]any{"recording_id": "rec-ready"})
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if result.IsError {
				t.Fatalf("tool errored: %s", mcp.FlattenContent(result.Content))
			}
			if text := mcp.FlattenContent(result.Content); !strings.Contains(text, tt.want) {
				t.Errorf("result = %q, want it to contain %q", text, tt.want)
			}
		})

		t.Run(tt.tool+" before the stage ran", func(t *testing.T) {
			result, err := client.CallTool(ctx, tt.tool, map[string]any{"recording_id": "rec-fresh"})
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if !result.IsError {
				t.Errorf("%s on an unprocessed recording did not error", tt.tool)
			}
		})
	}

	t.Run("unknown recording", func(t *testing.T) {
		result, err := client.CallTool(ctx, "get_summary", map[string]any{"recording_id": "nope"})
		if err != nil {
			t.Fatalf("CallTool: %v", err)
		}
		if !result.IsError {
			t.Error("unknown recording id did not error")
		}
	})

	t.Run("missing argument", func(t *testing.T) {
		result, err := client.CallTool(ctx, "get_transcript", map[string]any{})
		if err != nil {
			t.Fatalf("CallTool: %v", err)
		}
		if !result.IsError {
			t.Error("missing recording_id did not error")
		}
	})
}

func TestInstallRegistersBuiltins(t *testing.T) {
	store, err := recording.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := mcp.NewRegistry()

	configs, err := Install(reg, store)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("Install returned %d configs, want 2", len(configs))
	}
	for _, cfg := range configs {
		if !cfg.Builtin || !cfg.Enabled || cfg.Transport != mcp.TransportInMemory {
			t.Errorf("config %s = %+v, want an enabled builtin inmemory entry", cfg.ID, cfg)
		}
	}

	manager := mcp.NewManager(reg, nil)
	defer manager.Shutdown()
	if err := manager.ConnectAll(context.Background(), configs); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}
	catalog := manager.Catalog()
	for _, name := range []string{"recordings_list_recordings", "web_fetch_page"} {
		if _, err := catalog.Resolve(name); err != nil {
			t.Errorf("catalog missing %s (have %v)", name, catalog.Names())
		}
	}
}
