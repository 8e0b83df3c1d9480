// Package config provides configuration structures and defaults for GravelMMDB.
package config

import (
	"bytes"
	"io"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Mode selects how the database file is made available to readers.
type Mode int

const (
	// ModeMmap maps the file read-only into memory.
	ModeMmap Mode = iota
	// ModeMemory reads the whole file into a private buffer.
	ModeMemory
	// ModeFile keeps the file open and reads every range on demand.
	ModeFile
)

const (
	defaultMetadataSearchWindow = 128 * 1024
	defaultMaxDepth             = 512
	defaultPoolInitialSize      = 64
	defaultPoolMaxBytes         = 0
)

// String returns the name used for the mode in config files and flags.
func (m Mode) String() string {
	switch m {
	case ModeMmap:
		return "mmap"
	case ModeMemory:
		return "memory"
	case ModeFile:
		return "file"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "mmap":
		return ModeMmap, nil
	case "memory":
		return ModeMemory, nil
	case "file":
		return ModeFile, nil
	}
	return 0, errors.Errorf("unknown mode %q", s)
}

// UnmarshalYAML decodes a mode from its string form.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Config holds all tunable parameters for opening and reading a database.
type Config struct {
	Mode                 Mode `yaml:"mode"`
	MetadataSearchWindow int  `yaml:"metadata_search_window"`
	MaxDepth             int  `yaml:"max_depth"`
	PoolInitialSize      int  `yaml:"pool_initial_size"`
	// PoolMaxBytes caps the memory one DataList call may use. Zero derives
	// the cap from the size of the data section.
	PoolMaxBytes int `yaml:"pool_max_bytes"`

	Fs         afero.Fs              `yaml:"-"`
	Logger     log.Logger            `yaml:"-"`
	Registerer prometheus.Registerer `yaml:"-"`
}

// DefaultConfig returns a Config struct populated with default values.
func DefaultConfig() *Config {
	return &Config{
		Mode:                 ModeMmap,
		MetadataSearchWindow: defaultMetadataSearchWindow,
		MaxDepth:             defaultMaxDepth,
		PoolInitialSize:      defaultPoolInitialSize,
		PoolMaxBytes:         defaultPoolMaxBytes,
		Fs:                   afero.NewOsFs(),
		Logger:               log.NewNopLogger(),
	}
}

// FillDefaults sets any zero-value fields in the Config to their default values.
func (c *Config) FillDefaults() {
	def := DefaultConfig()
	if c.MetadataSearchWindow == 0 {
		c.MetadataSearchWindow = def.MetadataSearchWindow
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.PoolInitialSize == 0 {
		c.PoolInitialSize = def.PoolInitialSize
	}
	if c.Fs == nil {
		c.Fs = def.Fs
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
}

// Validate reports settings that can never produce a working reader.
func (c *Config) Validate() error {
	if c.MetadataSearchWindow < 0 {
		return errors.Errorf("metadata_search_window must be positive, got %d", c.MetadataSearchWindow)
	}
	if c.MaxDepth < 0 {
		return errors.Errorf("max_depth must be positive, got %d", c.MaxDepth)
	}
	if c.PoolInitialSize < 0 {
		return errors.Errorf("pool_initial_size must be positive, got %d", c.PoolInitialSize)
	}
	if c.PoolMaxBytes < 0 {
		return errors.Errorf("pool_max_bytes must be positive, got %d", c.PoolMaxBytes)
	}
	return nil
}

// Load reads a YAML config file from fs. Fields missing from the file keep their defaults.
func Load(fs afero.Fs, path string) (*Config, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}
