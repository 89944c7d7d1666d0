package config

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/openfroyo/froyo-aur/pkg/aur"
)

const (
	// SchemaPackage validates a single package entry.
	SchemaPackage = "#AURPackage"

	// SchemaManifest validates a whole manifest document.
	SchemaManifest = "#Manifest"
)

// SchemaRegistry holds compiled CUE definitions used to validate manifests.
type SchemaRegistry struct {
	ctx     *cue.Context
	mu      sync.RWMutex
	sources map[string]string
	schemas map[string]cue.Value
}

// NewSchemaRegistry compiles the built-in schemas. The use field accepts
// "auto" and every helper id in registry.
func NewSchemaRegistry(registry *aur.Registry) (*SchemaRegistry, error) {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		sources: make(map[string]string),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("aur", builtinSchema(registry)); err != nil {
		return nil, err
	}
	return sr, nil
}

// RegisterSchema compiles src and registers every definition it declares.
func (sr *SchemaRegistry) RegisterSchema(name, src string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("failed to list definitions of %s: %w", name, err)
	}
	for iter.Next() {
		if !iter.Selector().IsDefinition() {
			continue
		}
		def := iter.Selector().String()
		sr.schemas[def] = iter.Value()
		sr.sources[def] = name
	}
	return nil
}

// GetSchema retrieves a definition such as "#AURPackage".
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered definition names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unify unifies val with a named definition and checks the result is concrete.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema encodes data and validates it against a named definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func builtinSchema(registry *aur.Registry) string {
	ids := []string{aur.HelperAuto}
	if registry != nil {
		ids = append(ids, registry.IDs()...)
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}

	return fmt.Sprintf(builtinSchemaTemplate, strconv.Quote(packageNamePattern), strings.Join(quoted, " | "))
}

// packageNamePattern mirrors the request validator.
const packageNamePattern = `^[A-Za-z0-9@_+][A-Za-z0-9@._+-]*$`

const builtinSchemaTemplate = `
#PackageName: string & =~%s

#Helper: %s

// Options shared by package entries and manifest defaults.
#Options: {
	state?:          "present" | "latest" | "absent"
	use?:            #Helper
	extra_args?:     string
	skip_pgp_check?: bool
	ignore_arch?:    bool
	aur_only?:       bool
	update_cache?:   bool
	check_mode?:     bool
	diff?:           bool
}

#AURPackage: {
	#Options
	id?:             string & =~"^[A-Za-z0-9_.-]+$"
	name?:           [...#PackageName] | #PackageName
	upgrade?:        bool
	local_pkgbuild?: string & !=""
}

#Manifest: {
	defaults?: #Options
	packages:  [...#AURPackage] | {[string]: #AURPackage}
}
`
