package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/wakegate/internal/domain"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Loader reads every service file of a directory.
type Loader struct {
	dir string
}

// NewLoader creates a loader for dir (ex: /app/configs).
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load parses all *.yml and *.yaml files, sorted by name.
// Any unreadable or malformed file fails the whole load.
func (l *Loader) Load() ([]Record, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read services directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yml", ".yaml":
			paths = append(paths, filepath.Join(l.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, &domain.ConfigError{Source: l.dir, Reason: "no service files (*.yml, *.yaml) found"}
	}

	records := make([]Record, 0, len(paths))
	for _, path := range paths {
		rec, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// LoadFile parses a single service file.
func LoadFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read service file: %w", err)
	}

	data = expandEnvVariables(data)

	if len(bytes.TrimSpace(data)) == 0 {
		return Record{}, &domain.ConfigError{Source: path, Reason: "file is empty"}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file ServiceFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, &domain.ConfigError{Source: path, Reason: "file is empty"}
		}
		return Record{}, &domain.ConfigError{Source: path, Reason: "must be a YAML mapping of known keys: " + err.Error()}
	}

	return Record{Path: path, File: file}, nil
}

// expandEnvVariables replaces ${NAME} with the value of the environment variable NAME.
// Example: HOST_MAC: ${NAS_MAC} -> HOST_MAC: 00:11:22:33:44:55
func expandEnvVariables(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
