package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"kq-tunnel/internal/config/schema"
	coreerrors "kq-tunnel/internal/core/errors"
)

// FileSource loads configuration from YAML or TOML files
//
// The format is chosen by extension: .toml is TOML, anything else is YAML.
type FileSource struct {
	paths    []string // later files override earlier ones
	required bool
}

// NewFileSource creates a new FileSource with the specified file paths
func NewFileSource(paths ...string) *FileSource {
	return &FileSource{
		paths: paths,
	}
}

// Required makes a missing file an error instead of being skipped
func (s *FileSource) Required() *FileSource {
	s.required = true
	return s
}

// Name returns the source name
func (s *FileSource) Name() string {
	return "file"
}

// Priority returns the source priority
func (s *FileSource) Priority() int {
	return PriorityFile
}

// LoadInto loads file configuration into the config structure
func (s *FileSource) LoadInto(cfg *schema.Root) error {
	for _, path := range s.paths {
		if path == "" {
			continue
		}

		expandedPath, err := expandPath(path)
		if err != nil {
			return coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to expand path %q", path)
		}

		data, err := os.ReadFile(expandedPath)
		if err != nil {
			if os.IsNotExist(err) && !s.required {
				continue
			}
			return coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to read config file %q", expandedPath)
		}

		if err := decode(expandedPath, data, cfg); err != nil {
			return err
		}
	}
	return nil
}

func decode(path string, data []byte, cfg *schema.Root) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		if err != nil {
			return coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to parse TOML file %q", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return coreerrors.Newf(coreerrors.CodeConfigError, "unknown keys in %q: %v", path, undecoded)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return coreerrors.Wrapf(err, coreerrors.CodeConfigError, "failed to parse YAML file %q", path)
		}
	}
	return nil
}

// FindConfigFile searches for a configuration file in standard locations
// Returns the first found file path, or empty string if none found
func FindConfigFile(configFile string) string {
	if configFile != "" {
		if expanded, err := expandPath(configFile); err == nil {
			return expanded
		}
		return configFile
	}

	searchPaths := []string{
		"./kqtunnel.yaml",
		"./kqtunnel.yml",
		"./kqtunnel.toml",
	}
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		searchPaths = append(searchPaths,
			filepath.Join(execDir, "kqtunnel.yaml"),
			filepath.Join(execDir, "kqtunnel.toml"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(homeDir, ".kqtunnel", "config.yaml"),
			filepath.Join(homeDir, ".kqtunnel", "config.toml"))
	}
	searchPaths = append(searchPaths, "/etc/kqtunnel/config.yaml")

	for _, path := range searchPaths {
		expanded, err := expandPath(path)
		if err != nil {
			continue
		}
		if _, err := os.Stat(expanded); err == nil {
			return expanded
		}
	}
	return ""
}

// expandPath expands ~ to user home directory
func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[1:])
	}
	return filepath.Clean(path), nil
}
