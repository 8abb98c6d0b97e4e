package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ezrec/ucboot/backend"
	"github.com/ezrec/ucboot/toolchain"
)

// Config is the build configuration, as read from YAML.
type Config struct {
	SourceDir string          `yaml:"source_dir"`
	OutputDir string          `yaml:"output_dir"`
	Library   string          `yaml:"library"`  // Relative to SourceDir.
	Template  string          `yaml:"template"` // Relative to SourceDir.
	Mode      string          `yaml:"mode"`
	MaxTicks  int             `yaml:"max_ticks"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
}

// ToolchainConfig selects and bounds the external assembler.
type ToolchainConfig struct {
	Candidates []toolchain.Candidate `yaml:"candidates"`
	Timeout    time.Duration         `yaml:"timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		SourceDir: "examples",
		OutputDir: "build",
		Library:   "lib/runtime.uc",
		Template:  "boot/vm_boot.asm",
		Mode:      backend.MODE_NATIVE.String(),
		MaxTicks:  1000000,
		Toolchain: ToolchainConfig{
			Candidates: toolchain.DefaultCandidates,
			Timeout:    toolchain.DEFAULT_TIMEOUT,
		},
	}
}

// Validate checks the configuration for usable values.
func (config *Config) Validate() (err error) {
	switch {
	case len(config.SourceDir) == 0:
		err = fmt.Errorf("%w: source_dir empty", ErrConfigInvalid)
	case len(config.OutputDir) == 0:
		err = fmt.Errorf("%w: output_dir empty", ErrConfigInvalid)
	case len(config.Toolchain.Candidates) == 0:
		err = fmt.Errorf("%w: no toolchain candidates", ErrConfigInvalid)
	case config.Toolchain.Timeout < 0:
		err = fmt.Errorf("%w: negative toolchain timeout", ErrConfigInvalid)
	}
	if err != nil {
		return
	}

	_, err = backend.ParseMode(config.Mode)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	return
}

// ParseConfig reads YAML over the defaults. Unknown keys are rejected.
func ParseConfig(data []byte) (config *Config, err error) {
	result := DefaultConfig()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err = decoder.Decode(result)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		return
	}

	err = result.Validate()
	if err != nil {
		return
	}

	config = result
	return
}

// LoadConfig reads a YAML configuration file. An empty path, or a missing
// optional file, yields the defaults.
func LoadConfig(path string, optional bool) (config *Config, err error) {
	if len(path) == 0 {
		config = DefaultConfig()
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			config = DefaultConfig()
			err = nil
		}
		return
	}

	config, err = ParseConfig(data)
	if err != nil {
		err = fmt.Errorf("%v: %w", path, err)
	}

	return
}
