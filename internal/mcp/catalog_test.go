package mcp

import (
	"errors"
	"reflect"
	"testing"
)

func session(id, name string, whitelist []string, toolNames ...string) *Session {
	tools := make([]*ToolInfo, 0, len(toolNames))
	for _, tn := range toolNames {
		tools = append(tools, &ToolInfo{Name: tn})
	}
	return &Session{
		cfg:   ServerConfig{ID: id, Name: name, Transport: TransportInMemory, ToolWhitelist: whitelist},
		state: StateConnected,
		tools: tools,
	}
}

func TestBuildCatalogNamespacing(t *testing.T) {
	tests := []struct {
		name     string
		sessions []*Session
		want     []string
	}{
		{
			name: "single server",
			sessions: []*Session{
				session("gh", "github", nil, "create_issue", "list_repos"),
			},
			want: []string{"github_create_issue", "github_list_repos"},
		},
		{
			name: "distinct servers share tool names",
			sessions: []*Session{
				session("gh", "github", nil, "search"),
				session("sl", "slack", nil, "search"),
			},
			want: []string{"github_search", "slack_search"},
		},
		{
			name: "same server name collides, id breaks the tie",
			sessions: []*Session{
				session("search-a", "search", nil, "lookup"),
				session("search-b", "search", nil, "lookup"),
			},
			want: []string{"search_a_search_lookup", "search_b_search_lookup"},
		},
		{
			name: "names are sanitized to the provider charset",
			sessions: []*Session{
				session("x", "my-server", nil, "do.thing"),
			},
			want: []string{"my_server_do_thing"},
		},
		{
			name: "whitelist filters by original tool name",
			sessions: []*Session{
				session("fs", "files", []string{"read_*"}, "read_file", "write_file", "read_dir"),
			},
			want: []string{"files_read_dir", "files_read_file"},
		},
		{
			name: "exact whitelist entry",
			sessions: []*Session{
				session("fs", "files", []string{"write_file"}, "read_file", "write_file"),
			},
			want: []string{"files_write_file"},
		},
		{
			name:     "no sessions",
			sessions: nil,
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := BuildCatalog(tt.sessions)
			got := c.Names()
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Names() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildCatalogKeepsCollidingEntries(t *testing.T) {
	c := BuildCatalog([]*Session{
		session("search-a", "search", nil, "lookup"),
		session("search-b", "search", nil, "lookup"),
	})

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	a, err := c.Resolve("search_a_search_lookup")
	if err != nil {
		t.Fatalf("Resolve(search_a_search_lookup): %v", err)
	}
	b, err := c.Resolve("search_b_search_lookup")
	if err != nil {
		t.Fatalf("Resolve(search_b_search_lookup): %v", err)
	}
	if a.Session == b.Session {
		t.Error("colliding entries resolved to the same session")
	}
	if a.Session.Config().ID != "search-a" {
		t.Errorf("entry a owned by %s, want search-a", a.Session.Config().ID)
	}
	if b.Session.Config().ID != "search-b" {
		t.Errorf("entry b owned by %s, want search-b", b.Session.Config().ID)
	}
}

func TestCatalogResolveUnknown(t *testing.T) {
	c := BuildCatalog([]*Session{session("gh", "github", nil, "search")})

	_, err := c.Resolve("no_such_tool")
	if err == nil {
		t.Fatal("Resolve of unknown tool succeeded")
	}
	var unknownErr *UnknownToolError
	if !errors.As(err, &unknownErr) {
		t.Errorf("error type = %T, want *UnknownToolError", err)
	}
}

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"github_search", "github_search"},
		{"my-server_do.thing", "my_server_do_thing"},
		{"with space", "with_space"},
		{"1numeric", "_1numeric"},
		{"", "unnamed_tool"},
		{"@#$%", "unnamed_tool"},
	}
	for _, tt := range tests {
		if got := sanitizeToolName(tt.in); got != tt.want {
			t.Errorf("sanitizeToolName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
