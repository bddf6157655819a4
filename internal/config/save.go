package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SaveBinary records binary as the configured editor. Comments and the
// other keys in the file are preserved.
func SaveBinary(configPath, binary string) error {
	return SetValue(configPath, "binary", binary)
}

// SetValue sets a top-level scalar key in the config file, creating the file
// if needed. It edits the yaml.Node tree so comments survive.
func SetValue(configPath, key, value string) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	valueNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}

	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						{Kind: yaml.ScalarNode, Value: key},
						valueNode,
					},
				},
			},
		}
	} else if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind != yaml.MappingNode {
			return fmt.Errorf("config root is not a mapping")
		}
		found := false
		for i := 0; i < len(root.Content)-1; i += 2 {
			if root.Content[i].Value == key {
				// keep any line comment attached to the old value
				valueNode.LineComment = root.Content[i+1].LineComment
				root.Content[i+1] = valueNode
				found = true
				break
			}
		}
		if !found {
			root.Content = append(root.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key},
				valueNode,
			)
		}
	} else {
		return fmt.Errorf("unexpected config document structure")
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(configPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
