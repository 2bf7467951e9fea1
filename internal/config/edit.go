package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"recap/internal/mcp"
)

// EditServers rewrites only the servers list of a config file, leaving
// every other key as written, comments included. Commands use it so a
// file holding ${VAR} references never gets expanded values written
// back. An empty path uses the default location; a missing file is
// created around the new list.
func EditServers(path string, edit func(servers []mcp.ServerConfig) ([]mcp.ServerConfig, error)) error {
	if path == "" {
		path = getConfigPath()
	}
	if path == "" {
		return fmt.Errorf("could not determine config path")
	}

	var doc yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config file %s is not a mapping", path)
	}

	var servers []mcp.ServerConfig
	serversVal := findKey(root, "servers")
	if serversVal != nil {
		if err := serversVal.Decode(&servers); err != nil {
			return fmt.Errorf("failed to parse servers in %s: %w", path, err)
		}
	}

	servers, err = edit(servers)
	if err != nil {
		return err
	}

	var newVal yaml.Node
	if err := newVal.Encode(servers); err != nil {
		return fmt.Errorf("failed to encode servers: %w", err)
	}
	if serversVal != nil {
		*serversVal = newVal
	} else {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "servers"},
			&newVal)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		// Rename can fail across filesystems on Windows; fall back to
		// a direct write.
		if err := os.WriteFile(path, out, 0600); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}
	return nil
}

// findKey returns the value node for a top-level mapping key, or nil.
func findKey(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
