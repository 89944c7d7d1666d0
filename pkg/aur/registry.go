package aur

import (
	"fmt"
	"strings"
)

const (
	// HelperAuto requests discovery of the first installed helper.
	HelperAuto = "auto"

	// HelperMakepkg is the build-path helper used when no AUR helper is installed.
	HelperMakepkg = "makepkg"
)

// HelperSpec declares a helper for NewRegistry.
type HelperSpec struct {
	ID                string
	BaseArgs          []string
	LocalSourceArgs   []string
	RemoveArgs        []string
	SupportsScopeFlag bool
	BuildPath         bool
}

// HelperDescriptor is an immutable description of an installer helper.
// Accessors return copies so callers can never mutate the registry.
type HelperDescriptor struct {
	id                string
	baseArgs          []string
	localSourceArgs   []string
	removeArgs        []string
	supportsScopeFlag bool
	buildPath         bool
}

// ID returns the helper identifier, which is also its executable name.
func (h HelperDescriptor) ID() string { return h.id }

// BaseArgs returns a fresh copy of the install argv template.
func (h HelperDescriptor) BaseArgs() []string { return cloneArgs(h.baseArgs) }

// LocalSourceArgs returns a fresh copy of the local-source argv template,
// or nil if the helper cannot install from a local PKGBUILD.
func (h HelperDescriptor) LocalSourceArgs() []string { return cloneArgs(h.localSourceArgs) }

// RemoveArgs returns a fresh copy of the removal argv template.
func (h HelperDescriptor) RemoveArgs() []string { return cloneArgs(h.removeArgs) }

// RemoveTool returns the executable used for removal.
func (h HelperDescriptor) RemoveTool() string {
	if len(h.removeArgs) == 0 {
		return h.id
	}
	return h.removeArgs[0]
}

// SupportsScopeFlag reports whether the helper understands --aur.
func (h HelperDescriptor) SupportsScopeFlag() bool { return h.supportsScopeFlag }

// SupportsLocalSource reports whether the helper can install from a local PKGBUILD.
func (h HelperDescriptor) SupportsLocalSource() bool { return len(h.localSourceArgs) > 0 }

// IsBuildPath reports whether this descriptor is the fetch/extract/build fallback.
func (h HelperDescriptor) IsBuildPath() bool { return h.buildPath }

// IsZero reports whether h is the zero descriptor.
func (h HelperDescriptor) IsZero() bool { return h.id == "" }

// String implements fmt.Stringer.
func (h HelperDescriptor) String() string { return h.id }

// Registry is an ordered, immutable set of helper descriptors.
// Order is the auto-discovery preference order.
type Registry struct {
	helpers []HelperDescriptor
	index   map[string]int
	build   int
}

// NewRegistry builds a registry from specs, in the given preference order.
// At most one spec may be the build path.
func NewRegistry(specs ...HelperSpec) (*Registry, error) {
	r := &Registry{
		helpers: make([]HelperDescriptor, 0, len(specs)),
		index:   make(map[string]int, len(specs)),
		build:   -1,
	}

	for i, spec := range specs {
		id := strings.TrimSpace(spec.ID)
		if id == "" {
			return nil, fmt.Errorf("helper %d: id is required", i)
		}
		if id == HelperAuto {
			return nil, fmt.Errorf("helper id %q is reserved", HelperAuto)
		}
		if _, exists := r.index[id]; exists {
			return nil, fmt.Errorf("duplicate helper id %q", id)
		}
		if len(spec.BaseArgs) == 0 {
			return nil, fmt.Errorf("helper %q: base args are required", id)
		}
		if spec.BuildPath {
			if r.build >= 0 {
				return nil, fmt.Errorf("helper %q: only one build-path helper is allowed", id)
			}
			r.build = len(r.helpers)
		}

		removeArgs := cloneArgs(spec.RemoveArgs)
		if len(removeArgs) == 0 {
			removeArgs = []string{id, "-R", "--noconfirm"}
		}

		r.index[id] = len(r.helpers)
		r.helpers = append(r.helpers, HelperDescriptor{
			id:                id,
			baseArgs:          cloneArgs(spec.BaseArgs),
			localSourceArgs:   cloneArgs(spec.LocalSourceArgs),
			removeArgs:        removeArgs,
			supportsScopeFlag: spec.SupportsScopeFlag,
			buildPath:         spec.BuildPath,
		})
	}

	return r, nil
}

// DefaultRegistry returns the standard helper set.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultHelperSpecs()...)
	if err != nil {
		panic(fmt.Sprintf("default helper registry: %v", err))
	}
	return r
}

// DefaultHelperSpecs returns the standard helper declarations in preference order.
func DefaultHelperSpecs() []HelperSpec {
	return []HelperSpec{
		{
			ID:                "yay",
			BaseArgs:          []string{"yay", "-S", "--noconfirm", "--needed", "--cleanafter"},
			SupportsScopeFlag: true,
		},
		{
			ID:                "paru",
			BaseArgs:          []string{"paru", "-S", "--noconfirm", "--needed", "--cleanafter"},
			SupportsScopeFlag: true,
		},
		{
			ID:                "pacaur",
			BaseArgs:          []string{"pacaur", "-S", "--noconfirm", "--noedit", "--needed"},
			SupportsScopeFlag: true,
		},
		{
			ID:                "trizen",
			BaseArgs:          []string{"trizen", "-S", "--noconfirm", "--noedit", "--needed"},
			SupportsScopeFlag: true,
		},
		{
			ID:                "pikaur",
			BaseArgs:          []string{"pikaur", "-S", "--noconfirm", "--noedit", "--needed"},
			LocalSourceArgs:   []string{"pikaur", "-P", "--noconfirm", "--noedit", "--needed", "--install"},
			SupportsScopeFlag: true,
		},
		{
			ID:                "aurman",
			BaseArgs:          []string{"aurman", "-S", "--noconfirm", "--noedit", "--needed", "--skip_news", "--pgp_fetch", "--skip_new_locations"},
			SupportsScopeFlag: true,
		},
		{
			ID:              HelperMakepkg,
			BaseArgs:        []string{"makepkg", "--syncdeps", "--install", "--noconfirm", "--needed"},
			LocalSourceArgs: []string{"makepkg", "--syncdeps", "--install", "--noconfirm", "--needed"},
			RemoveArgs:      []string{"pacman", "-R", "--noconfirm"},
			BuildPath:       true,
		},
	}
}

// Lookup returns the descriptor with the given id.
func (r *Registry) Lookup(id string) (HelperDescriptor, bool) {
	i, ok := r.index[id]
	if !ok {
		return HelperDescriptor{}, false
	}
	return r.helpers[i], true
}

// Helpers returns all descriptors in preference order.
func (r *Registry) Helpers() []HelperDescriptor {
	out := make([]HelperDescriptor, len(r.helpers))
	copy(out, r.helpers)
	return out
}

// IDs returns helper ids in preference order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.helpers))
	for i, h := range r.helpers {
		ids[i] = h.id
	}
	return ids
}

// BuildHelper returns the build-path descriptor, if the registry has one.
func (r *Registry) BuildHelper() (HelperDescriptor, bool) {
	if r.build < 0 {
		return HelperDescriptor{}, false
	}
	return r.helpers[r.build], true
}

func cloneArgs(args []string) []string {
	if args == nil {
		return nil
	}
	out := make([]string, len(args))
	copy(out, args)
	return out
}
