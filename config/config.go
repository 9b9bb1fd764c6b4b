// Package config reads server settings from the environment and capped
// collection definitions from a YAML file.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stevemurr/docstore/docdb"
)

// Config holds process settings. Every field has an environment variable.
type Config struct {
	Host            string // HOST
	Port            string // PORT
	Backend         string // STORE_BACKEND
	Location        string // STORE_LOCATION, falls back to DATA_DIR
	Database        string // DATABASE
	CollectionsFile string // COLLECTIONS_FILE
	AllowedOrigins  string // ALLOWED_ORIGINS
	LogLevel        string // LOG_LEVEL
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// FromEnv returns the configuration described by the environment.
func FromEnv() Config {
	return Config{
		Host:            env("HOST", "0.0.0.0"),
		Port:            env("PORT", "8080"),
		Backend:         env("STORE_BACKEND", "json"),
		Location:        env("STORE_LOCATION", env("DATA_DIR", "./data")),
		Database:        env("DATABASE", "default"),
		CollectionsFile: env("COLLECTIONS_FILE", ""),
		AllowedOrigins:  env("ALLOWED_ORIGINS", "*"),
		LogLevel:        env("LOG_LEVEL", "info"),
	}
}

// Addr returns the listen address, bracketing IPv6 hosts.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// FieldList is a list of field names that may be written in YAML as a
// single scalar or as a sequence.
type FieldList []string

func (f *FieldList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			*f = nil
			return nil
		}
		*f = FieldList{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*f = list
		return nil
	}
	return fmt.Errorf("line %d: unique must be a field name or a list of field names", node.Line)
}

// CollectionConfig is the YAML form of docdb.Capped.
type CollectionConfig struct {
	Max    int       `yaml:"max"`
	Unique FieldList `yaml:"unique"`
}

// Capped converts the entry for use with docdb.DB.Collection.
func (c CollectionConfig) Capped() docdb.Capped {
	return docdb.Capped{Max: c.Max, Unique: []string(c.Unique)}
}

// Collections maps collection names to their capped configuration.
type Collections map[string]CollectionConfig

// Lookup returns the capped configuration for name, or the zero value.
func (c Collections) Lookup(name string) docdb.Capped {
	return c[name].Capped()
}

type collectionsFile struct {
	Collections Collections `yaml:"collections"`
}

// LoadCollections reads a collections file. An empty path yields an empty
// set.
func LoadCollections(path string) (Collections, error) {
	if path == "" {
		return Collections{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collections file: %w", err)
	}
	return ParseCollections(data)
}

// ParseCollections decodes the YAML collections document.
func ParseCollections(data []byte) (Collections, error) {
	var f collectionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse collections file: %w", err)
	}
	if f.Collections == nil {
		f.Collections = Collections{}
	}
	for name, c := range f.Collections {
		if c.Max < 0 {
			return nil, fmt.Errorf("collection %q: max must not be negative", name)
		}
	}
	return f.Collections, nil
}
