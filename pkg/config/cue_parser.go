package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

// Format is a manifest encoding.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported manifest type: %s", path)
	}
}

// Parser reads package manifests in CUE, YAML or JSON and validates them
// against the #Manifest schema and the request rules.
type Parser struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewParser creates a parser whose helper list comes from registry.
func NewParser(registry *aur.Registry) (*Parser, error) {
	schemas, err := NewSchemaRegistry(registry)
	if err != nil {
		return nil, err
	}
	return &Parser{
		ctx:       cuecontext.New(),
		schemas:   schemas,
		validator: validator.New(),
	}, nil
}

// Schemas returns the schema registry.
func (p *Parser) Schemas() *SchemaRegistry {
	return p.schemas
}

// ParseFiles parses manifest files and directories and concatenates their
// entries. Directories contribute every manifest file below them in lexical
// order. Entry ids must be unique across all sources.
func (p *Parser) ParseFiles(ctx context.Context, sources []string) (*Manifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	files, err := expandSources(sources)
	if err != nil {
		return nil, err
	}

	merged := &Manifest{ParsedAt: time.Now()}
	seen := make(map[string]string)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		format, err := FormatOf(file)
		if err != nil {
			return nil, err
		}

		m, err := p.Parse(ctx, file, data, format)
		if err != nil {
			return nil, err
		}

		var dupes []ValidationError
		for _, spec := range m.Packages {
			if prev, ok := seen[spec.ID]; ok {
				dupes = append(dupes, ValidationError{
					File:    file,
					Message: fmt.Sprintf("duplicate entry id %q, first defined in %s", spec.ID, prev),
				})
				continue
			}
			seen[spec.ID] = file
		}
		if len(dupes) > 0 {
			return nil, &ManifestError{Source: file, Errors: dupes}
		}

		merged.Packages = append(merged.Packages, m.Packages...)
		merged.SourceFiles = append(merged.SourceFiles, file)
	}

	return merged, nil
}

func expandSources(sources []string) ([]string, error) {
	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if !info.IsDir() {
			files = append(files, source)
			continue
		}

		var found []string
		err = filepath.WalkDir(source, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ferr := FormatOf(path); ferr == nil {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory: %w", err)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no manifest files found in %s", source)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// ParseInline parses CUE manifest content.
func (p *Parser) ParseInline(ctx context.Context, content string) (*Manifest, error) {
	return p.Parse(ctx, "inline", []byte(content), FormatCUE)
}

// Parse parses one manifest document. Problems are reported together in a
// *ManifestError.
func (p *Parser) Parse(_ context.Context, name string, data []byte, format Format) (*Manifest, error) {
	val, err := p.compile(name, data, format)
	if err != nil {
		return nil, err
	}

	unified, err := p.schemas.Unify(SchemaManifest, val)
	if err != nil {
		return nil, &ManifestError{Source: name, Errors: convertCUEErrors(err)}
	}

	m, verrs := p.extract(name, unified)
	if len(verrs) > 0 {
		return nil, &ManifestError{Source: name, Errors: verrs}
	}
	return m, nil
}

func (p *Parser) compile(name string, data []byte, format Format) (cue.Value, error) {
	var doc interface{}

	switch format {
	case FormatCUE:
		val := p.ctx.CompileBytes(data, cue.Filename(name))
		if err := val.Err(); err != nil {
			return cue.Value{}, &ManifestError{Source: name, Errors: convertCUEErrors(err)}
		}
		return val, nil
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return cue.Value{}, &ManifestError{Source: name, Errors: []ValidationError{{File: name, Message: err.Error()}}}
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return cue.Value{}, &ManifestError{Source: name, Errors: []ValidationError{{File: name, Message: err.Error()}}}
		}
	default:
		return cue.Value{}, fmt.Errorf("unsupported manifest format %q", format)
	}

	if doc == nil {
		return cue.Value{}, &ManifestError{Source: name, Errors: []ValidationError{{File: name, Message: "manifest is empty"}}}
	}

	val := p.ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return cue.Value{}, &ManifestError{Source: name, Errors: convertCUEErrors(err)}
	}
	return val, nil
}

// extract decodes the entries of a validated manifest value.
func (p *Parser) extract(name string, val cue.Value) (*Manifest, []ValidationError) {
	m := &Manifest{SourceFiles: []string{name}, ParsedAt: time.Now()}
	var verrs []ValidationError

	defaults := map[string]interface{}{}
	if d := val.LookupPath(cue.ParsePath("defaults")); d.Exists() {
		if err := d.Decode(&defaults); err != nil {
			verrs = append(verrs, ValidationError{File: name, Path: "defaults", Message: err.Error()})
		}
	}

	type entry struct {
		key  string
		path string
		val  cue.Value
	}
	var entries []entry

	packages := val.LookupPath(cue.ParsePath("packages"))
	switch packages.IncompleteKind() {
	case cue.ListKind:
		list, err := packages.List()
		if err != nil {
			return nil, append(verrs, ValidationError{File: name, Path: "packages", Message: err.Error()})
		}
		for i := 0; list.Next(); i++ {
			entries = append(entries, entry{path: fmt.Sprintf("packages[%d]", i), val: list.Value()})
		}
	case cue.StructKind:
		iter, err := packages.Fields()
		if err != nil {
			return nil, append(verrs, ValidationError{File: name, Path: "packages", Message: err.Error()})
		}
		for iter.Next() {
			key := iter.Selector().Unquoted()
			entries = append(entries, entry{key: key, path: "packages." + key, val: iter.Value()})
		}
	}

	ids := make(map[string]string)
	for i, e := range entries {
		spec, err := p.decodeEntry(e.key, e.val, defaults)
		if err != nil {
			verrs = append(verrs, ValidationError{File: name, Path: e.path, Message: err.Error()})
			continue
		}
		if spec.ID == "" {
			spec.ID = defaultID(spec, i)
		}

		if err := p.validator.Var(spec.ID, "required,max=128"); err != nil {
			verrs = append(verrs, ValidationError{File: name, Path: e.path + ".id", Message: "id must be at most 128 characters"})
			continue
		}
		if prev, ok := ids[spec.ID]; ok {
			verrs = append(verrs, ValidationError{File: name, Path: e.path, Message: fmt.Sprintf("duplicate entry id %q, first used at %s", spec.ID, prev)})
			continue
		}
		ids[spec.ID] = e.path

		spec.InstallRequest = spec.InstallRequest.Normalized()
		if err := spec.InstallRequest.Validate(); err != nil {
			verrs = append(verrs, ValidationError{File: name, Path: e.path, Message: err.Error()})
			continue
		}

		m.Packages = append(m.Packages, spec)
	}

	return m, verrs
}

// decodeEntry applies defaults to one entry and decodes it. A single name
// string becomes a one-element list; a keyed entry without a name installs
// the package named by its key.
func (p *Parser) decodeEntry(key string, val cue.Value, defaults map[string]interface{}) (PackageSpec, error) {
	var spec PackageSpec

	raw := map[string]interface{}{}
	if err := val.Decode(&raw); err != nil {
		return spec, fmt.Errorf("failed to decode entry: %w", err)
	}

	if name, ok := raw["name"].(string); ok {
		raw["name"] = []interface{}{name}
	}
	if key != "" {
		if _, ok := raw["name"]; !ok && raw["upgrade"] != true {
			raw["name"] = []interface{}{key}
		}
		if _, ok := raw["id"]; !ok {
			raw["id"] = key
		}
	}
	for k, v := range defaults {
		if _, ok := raw[k]; !ok {
			raw[k] = v
		}
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return spec, fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := json.Unmarshal(encoded, &spec); err != nil {
		return spec, fmt.Errorf("failed to decode entry: %w", err)
	}
	return spec, nil
}

func defaultID(spec PackageSpec, index int) string {
	switch {
	case spec.Upgrade:
		return "upgrade"
	case len(spec.Packages) == 1:
		return spec.Packages[0]
	default:
		return fmt.Sprintf("entry-%d", index+1)
	}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: strings.TrimSpace(cueerrors.Details(e, nil)),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}

	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
