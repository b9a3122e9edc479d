// Package flags implements the small set of boolean runtime toggles
// the pipeline consults at specific decision points, settable from the
// disable-checks list in the JSON config, mirroring the teacher's
// flag-registry idiom in config/value.go.
package flags

import (
	"fmt"
	"strings"
)

// Flag is a runtime toggle checked at a specific decision point.
type Flag int

const (
	// IgnoreDataErrors makes Data/Redo category errors warn-and-continue
	// instead of fatal, per spec.md §7.
	IgnoreDataErrors Flag = iota
	// JSONTags disables the config loader's unknown-top-level-key
	// rejection, per spec.md §6.
	JSONTags
	// Schemaless suppresses schema lookups in the Builder, emitting
	// positional column placeholders instead of names.
	Schemaless
	// AdaptiveSchema lets the Builder synthesize a schema entry for an
	// object it has never seen rather than failing the lookup.
	AdaptiveSchema
	// KeyAsArray renders a table's key columns as a JSON array instead
	// of a map in output messages.
	KeyAsArray
	// DisableBlockSum skips block checksum verification, named after
	// the original's DISABLE_CHECKS::BLOCK_SUM bit.
	DisableBlockSum

	numFlags
)

var defaultFlags = map[string]Flag{
	"ignore_data_errors": IgnoreDataErrors,
	"json_tags":          JSONTags,
	"schemaless":         Schemaless,
	"adaptive_schema":    AdaptiveSchema,
	"key_as_array":       KeyAsArray,
	"block_sum":          DisableBlockSum,
}

// LookupFlag resolves a config-file flag name to its Flag constant,
// case-insensitively.
func LookupFlag(name string) (Flag, bool) {
	f, ok := defaultFlags[strings.ToLower(name)]
	return f, ok
}

// ListFlags calls fn once per known flag name.
func ListFlags(fn func(name string, f Flag)) {
	for name, f := range defaultFlags {
		fn(name, f)
	}
}

// Flags is a fixed-size set of runtime flags, cheap to copy and pass
// by value through the pipeline's components.
type Flags []bool

// GetFlag reports whether f is set.
func (flgs Flags) GetFlag(f Flag) bool {
	return flgs[f]
}

// Default returns every flag in its off position.
func Default() Flags {
	return make(Flags, numFlags)
}

// ApplyNamed sets the flag named name to v, used while decoding a
// config file's disable-checks list.
func (flgs Flags) ApplyNamed(name string, v bool) error {
	f, ok := LookupFlag(name)
	if !ok {
		return fmt.Errorf("flags: %q is not a known flag", name)
	}
	flgs[f] = v
	return nil
}
