package mcp

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"recap/internal/logging"
)

// CatalogEntry binds one namespaced tool name to its descriptor and the
// session that owns it.
type CatalogEntry struct {
	Name    string
	Tool    *ToolInfo
	Session *Session
}

// Catalog is the merged tool table across all live sessions. It is built
// wholesale and never mutated; session changes produce a new catalog.
type Catalog struct {
	entries map[string]*CatalogEntry
	names   []string
}

// BuildCatalog merges the tool lists of the given sessions. Tool names are
// namespaced with the owning server's name; when two namespaced names still
// collide, every colliding entry is re-prefixed with its server's stable id
// so that no tool is ever dropped. Whitelists filter by original tool name.
func BuildCatalog(sessions []*Session) *Catalog {
	type candidate struct {
		session *Session
		tool    *ToolInfo
		name    string
	}

	sorted := make([]*Session, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Config().ID < sorted[j].Config().ID
	})

	var candidates []candidate
	counts := make(map[string]int)
	for _, session := range sorted {
		cfg := session.Config()
		for _, tool := range session.Tools() {
			if !whitelisted(tool.Name, cfg.ToolWhitelist) {
				continue
			}
			name := sanitizeToolName(cfg.Name + "_" + tool.Name)
			candidates = append(candidates, candidate{session: session, tool: tool, name: name})
			counts[name]++
		}
	}

	c := &Catalog{entries: make(map[string]*CatalogEntry, len(candidates))}
	for _, cand := range candidates {
		name := cand.name
		if counts[name] > 1 {
			cfg := cand.session.Config()
			name = sanitizeToolName(cfg.ID + "_" + cfg.Name + "_" + cand.tool.Name)
		}
		if _, exists := c.entries[name]; exists {
			logging.Warn("duplicate tool dropped from catalog",
				"tool", name,
				"server", cand.session.Config().Name)
			continue
		}
		c.entries[name] = &CatalogEntry{Name: name, Tool: cand.tool, Session: cand.session}
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)
	return c
}

// whitelisted reports whether a tool name passes the whitelist. Entries are
// exact names or glob patterns; an empty whitelist admits everything.
func whitelisted(name string, whitelist []string) bool {
	if len(whitelist) == 0 {
		return true
	}
	for _, pattern := range whitelist {
		if pattern == name {
			return true
		}
		if matched, err := doublestar.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}

// Resolve looks up a namespaced tool name for dispatch.
func (c *Catalog) Resolve(name string) (*CatalogEntry, error) {
	entry, ok := c.entries[name]
	if !ok {
		return nil, &UnknownToolError{Tool: name}
	}
	return entry, nil
}

// Entries returns all entries sorted by namespaced name.
func (c *Catalog) Entries() []*CatalogEntry {
	out := make([]*CatalogEntry, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.entries[name])
	}
	return out
}

// Names returns the sorted namespaced tool names.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.entries) }

// sanitizeToolName normalizes a name to [a-zA-Z0-9_], the charset every
// model provider accepts for function names.
func sanitizeToolName(name string) string {
	if name == "" {
		return "unnamed_tool"
	}

	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		case r == '-' || r == '.' || r == ' ':
			b.WriteByte('_')
		}
	}

	if b.Len() == 0 {
		return "unnamed_tool"
	}
	return b.String()
}
