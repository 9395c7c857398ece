// Package config handles YAML config file loading for hosts embedding a pipe.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pithecene-io/sluice/pipe"
)

// Config represents a sluice.yaml configuration file.
// All values are optional and act as defaults for pipe construction;
// values the host sets programmatically override config values.
type Config struct {
	// SpillDir is the directory for spill files.
	SpillDir string `yaml:"spill_dir"`
	// Threshold is the in-memory buffering cap, e.g. "8MiB".
	Threshold ByteSize `yaml:"threshold"`
	// ReadBlock bounds a single spill-file read, e.g. "64KiB".
	ReadBlock ByteSize `yaml:"read_block"`
	// Journal configures the optional diagnostic journal.
	Journal JournalConfig `yaml:"journal"`
}

// JournalConfig holds journal defaults from the config file.
type JournalConfig struct {
	// Path is the journal file path. Empty disables the journal.
	Path string `yaml:"path"`
}

// Options converts the config into pipe.Options, leaving zero values for
// anything the file did not set so pipe.New applies its defaults.
// The caller still supplies the loop, hooks, logger and collectors.
func (c *Config) Options() pipe.Options {
	return pipe.Options{
		Dir:           c.SpillDir,
		Threshold:     int64(c.Threshold),
		ReadBlockSize: int(c.ReadBlock),
	}
}

// ByteSize wraps an int64 byte count for YAML literal parsing.
// Accepts plain integers and binary-unit suffixes: "512", "64KiB",
// "8MiB", "1GiB". Decimal suffixes ("KB", "MB", "GB") are accepted as
// their binary equivalents.
type ByteSize int64

// byteSizeUnits maps accepted suffixes to multipliers. Longest-match wins.
var byteSizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"gib", 1 << 30},
	{"mib", 1 << 20},
	{"kib", 1 << 10},
	{"gb", 1 << 30},
	{"mb", 1 << 20},
	{"kb", 1 << 10},
	{"g", 1 << 30},
	{"m", 1 << 20},
	{"k", 1 << 10},
	{"b", 1},
}

// ParseByteSize parses a byte-size literal like "64KiB" or "1048576".
func ParseByteSize(s string) (ByteSize, error) {
	trimmed := strings.TrimSpace(strings.ToLower(s))
	if trimmed == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, unit := range byteSizeUnits {
		if strings.HasSuffix(trimmed, unit.suffix) {
			mult = unit.mult
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, unit.suffix))
			break
		}
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid byte size %q: negative", s)
	}
	return ByteSize(n * mult), nil
}

// UnmarshalYAML parses a byte-size literal, accepting both bare integers
// and suffixed strings.
func (b *ByteSize) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return fmt.Errorf("invalid byte size %d: negative", v)
		}
		*b = ByteSize(v)
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("invalid byte size %d: negative", v)
		}
		*b = ByteSize(v)
		return nil
	case string:
		parsed, err := ParseByteSize(v)
		if err != nil {
			return err
		}
		*b = parsed
		return nil
	default:
		return fmt.Errorf("invalid byte size %v (%T)", raw, raw)
	}
}
