package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the options recognized by mtdynamo-demo. Loaded from
// mtdynamo-demo.yaml if present, searching from the working directory
// upward; if no file is found, DefaultConfig's values are used.
type Config struct {
	// Mode selects which façade backs the demo: "sharedtable" (default) or
	// "tablepertenant".
	Mode string `yaml:"mode"`
	// TablePrefix and Delimiter are forwarded to mtdynamo.Config.
	TablePrefix string `yaml:"tablePrefix"`
	Delimiter   string `yaml:"delimiter"`
	// MetadataPath is where the BadgerDB-backed table-metadata repository
	// stores its database. Empty means in-memory (metadata does not
	// survive a restart).
	MetadataPath string `yaml:"metadataPath"`
}

// DefaultConfig returns the demo's built-in defaults.
func DefaultConfig() Config {
	return Config{Mode: "sharedtable", Delimiter: "."}
}

// LoadConfig searches for mtdynamo-demo.yaml starting from the current
// directory and walking up to the filesystem root, overlaying it onto
// DefaultConfig. Returns the defaults unchanged if no file is found.
func LoadConfig() Config {
	cfg := DefaultConfig()

	path := findConfigFile()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	_ = yaml.Unmarshal(data, &cfg)
	return cfg
}

func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, "mtdynamo-demo.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
