package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

//go:embed platforms.yaml
var defaultCatalog []byte

type PlatformSeed struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	CharacterLimit int    `yaml:"character_limit"`
}

type PlatformCatalog struct {
	Platforms []PlatformSeed `yaml:"platforms"`
}

// LoadPlatformCatalog reads the catalog at path, or the embedded default when path is empty.
func LoadPlatformCatalog(path string) (*PlatformCatalog, error) {
	data := defaultCatalog
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read platform catalog: %w", err)
		}
		data = b
	}
	return ParsePlatformCatalog(data)
}

func ParsePlatformCatalog(data []byte) (*PlatformCatalog, error) {
	var c PlatformCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse platform catalog: %w", err)
	}
	if len(c.Platforms) == 0 {
		return nil, errors.New("platform catalog is empty")
	}

	seen := make(map[string]struct{}, len(c.Platforms))
	for i, p := range c.Platforms {
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))
		if p.Type == "" {
			return nil, fmt.Errorf("platform %d: type is required", i)
		}
		if p.CharacterLimit <= 0 {
			return nil, fmt.Errorf("platform %s: character_limit must be positive", p.Type)
		}
		if _, dup := seen[p.Type]; dup {
			return nil, fmt.Errorf("platform %s: duplicate type", p.Type)
		}
		seen[p.Type] = struct{}{}
		if strings.TrimSpace(p.Name) == "" {
			p.Name = p.Type
		}
		c.Platforms[i] = p
	}
	return &c, nil
}
