// Package loader provides multi-source configuration loading
package loader

import (
	"sort"

	"kq-tunnel/internal/config/schema"
	"kq-tunnel/internal/config/source"
	"kq-tunnel/internal/config/validator"
	coreerrors "kq-tunnel/internal/core/errors"
	corelog "kq-tunnel/internal/core/log"
)

// Loader loads configuration from multiple sources in priority order
type Loader struct {
	sources      []source.Source
	appType      string
	skipValidate bool
}

// NewLoader creates a new Loader
func NewLoader() *Loader {
	return &Loader{
		sources: make([]source.Source, 0),
	}
}

// AddSource adds a configuration source
func (l *Loader) AddSource(s source.Source) {
	l.sources = append(l.sources, s)
}

// SetAppType selects the role-specific validation rules
func (l *Loader) SetAppType(appType string) {
	l.appType = appType
}

// SetSkipValidate disables the validation phase
func (l *Loader) SetSkipValidate(skip bool) {
	l.skipValidate = skip
}

// Load loads configuration from all sources in priority order
// Lower priority sources are loaded first, then higher priority sources override
func (l *Loader) Load() (*schema.Root, error) {
	if len(l.sources) == 0 {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "no configuration sources registered")
	}

	// Sort sources by priority (ascending)
	sorted := make([]source.Source, len(l.sources))
	copy(sorted, l.sources)
	sort.Stable(source.ByPriority(sorted))

	cfg := &schema.Root{}

	for _, s := range sorted {
		corelog.Debugf("Loading configuration from source: %s (priority %d)", s.Name(), s.Priority())
		if err := s.LoadInto(cfg); err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeConfigError,
				"failed to load configuration from source %s", s.Name())
		}
	}

	if !l.skipValidate {
		if result := validator.ValidateConfig(cfg, l.appType); !result.IsValid() {
			return nil, coreerrors.New(coreerrors.CodeConfigError, result.Error())
		}
	}

	return cfg, nil
}

// LoaderBuilder helps build a Loader with common configurations
type LoaderBuilder struct {
	loader       *Loader
	prefix       string
	configFile   string
	appType      string
	overrides    []source.Source
	skipValidate bool
}

// NewLoaderBuilder creates a new LoaderBuilder
func NewLoaderBuilder() *LoaderBuilder {
	return &LoaderBuilder{
		loader: NewLoader(),
		prefix: source.DefaultEnvPrefix,
	}
}

// WithPrefix sets the environment variable prefix
func (b *LoaderBuilder) WithPrefix(prefix string) *LoaderBuilder {
	b.prefix = prefix
	return b
}

// WithConfigFile sets the configuration file path
func (b *LoaderBuilder) WithConfigFile(path string) *LoaderBuilder {
	b.configFile = path
	return b
}

// WithAppType sets the application type (server/client)
func (b *LoaderBuilder) WithAppType(appType string) *LoaderBuilder {
	b.appType = appType
	return b
}

// WithOverrides adds sources applied after the environment, e.g. CLI flags
func (b *LoaderBuilder) WithOverrides(sources ...source.Source) *LoaderBuilder {
	for _, s := range sources {
		if s != nil {
			b.overrides = append(b.overrides, s)
		}
	}
	return b
}

// WithSkipValidate enables or disables the validation phase
func (b *LoaderBuilder) WithSkipValidate(skip bool) *LoaderBuilder {
	b.skipValidate = skip
	return b
}

// Build creates the configured Loader
func (b *LoaderBuilder) Build() *Loader {
	// 1. Add default source (lowest priority)
	b.loader.AddSource(source.NewDefaultSource())

	// 2. Find and add file source
	configFile := source.FindConfigFile(b.configFile)
	if configFile != "" {
		fs := source.NewFileSource(configFile)
		if b.configFile != "" {
			fs.Required()
		}
		b.loader.AddSource(fs)
		corelog.Debugf("Using config file: %s", configFile)
	}

	// 3. Add environment variable source
	b.loader.AddSource(source.NewEnvSource(b.prefix))

	// 4. Overrides (highest priority)
	for _, s := range b.overrides {
		b.loader.AddSource(s)
	}

	b.loader.SetAppType(b.appType)
	b.loader.SetSkipValidate(b.skipValidate)

	return b.loader
}

// Load is a convenience function that creates a loader and loads configuration
func Load(configFile, appType string) (*schema.Root, error) {
	loader := NewLoaderBuilder().
		WithConfigFile(configFile).
		WithAppType(appType).
		Build()

	return loader.Load()
}

// LoadServer loads server configuration
func LoadServer(configFile string) (*schema.Root, error) {
	return Load(configFile, validator.AppTypeServer)
}

// LoadClient loads client configuration
func LoadClient(configFile string) (*schema.Root, error) {
	return Load(configFile, validator.AppTypeClient)
}
