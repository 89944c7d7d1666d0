package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

// PackageSpec is one manifest entry: an install request plus how to run it.
type PackageSpec struct {
	// ID identifies the entry in output. Defaults to the map key or the
	// entry position.
	ID string `json:"id,omitempty" validate:"required,max=128"`

	aur.InstallRequest

	// CheckMode reports what would change without changing anything.
	CheckMode bool `json:"check_mode,omitempty"`

	// Diff adds a before/after package listing to the outcome.
	Diff bool `json:"diff,omitempty"`
}

// Mode returns the engine mode for the entry.
func (s PackageSpec) Mode() aur.Mode {
	return aur.Mode{Check: s.CheckMode, Diff: s.Diff}
}

// Manifest is a parsed and validated manifest document.
type Manifest struct {
	// Packages are the entries in document order. Entries from a keyed
	// packages map are ordered by key.
	Packages []PackageSpec `json:"packages"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the manifest was parsed.
	ParsedAt time.Time `json:"parsed_at"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the manifest path to the error (e.g., "packages[1].state").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		loc += e.Path + ": "
	}
	return loc + e.Message
}

// ManifestError collects every problem found in a manifest.
type ManifestError struct {
	Source string
	Errors []ValidationError
}

func (e *ManifestError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("invalid manifest %s: %s", e.Source, strings.Join(msgs, "; "))
}
