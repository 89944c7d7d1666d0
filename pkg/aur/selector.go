package aur

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Selector resolves the helper for a request.
type Selector struct {
	registry *Registry
	paths    PathFinder
	logger   zerolog.Logger
}

// NewSelector creates a selector over registry using paths for discovery.
func NewSelector(registry *Registry, paths PathFinder, logger zerolog.Logger) *Selector {
	return &Selector{
		registry: registry,
		paths:    paths,
		logger:   logger.With().Str("component", "selector").Logger(),
	}
}

// Select returns the helper for req and checks the options that depend on
// which helper was chosen. Errors are always validation errors.
func (s *Selector) Select(ctx context.Context, req InstallRequest) (HelperDescriptor, error) {
	use := req.Use
	if use == "" {
		use = HelperAuto
	}

	var helper HelperDescriptor
	if use == HelperAuto {
		if strings.TrimSpace(req.ExtraArgs) != "" {
			return HelperDescriptor{}, NewValidationError("'extra_args' cannot be used with 'auto', a tool must be specified")
		}
		h, err := s.discover(ctx)
		if err != nil {
			return HelperDescriptor{}, err
		}
		helper = h
	} else {
		h, ok := s.registry.Lookup(use)
		if !ok {
			return HelperDescriptor{}, NewValidationError(fmt.Sprintf(
				"value of use must be one of: %s, got: %s",
				strings.Join(append([]string{HelperAuto}, s.registry.IDs()...), ", "), use))
		}
		helper = h
	}

	if err := checkCapabilities(helper, req); err != nil {
		return HelperDescriptor{}, err
	}

	s.logger.Debug().
		Str("requested", use).
		Str("helper", helper.ID()).
		Msg("Helper selected")

	return helper, nil
}

// Discovered is one registry entry and where it was found on the host.
type Discovered struct {
	Helper HelperDescriptor
	Path   string
	Found  bool
}

// Discover looks up every registry helper on the host, in preference order.
func (s *Selector) Discover(ctx context.Context) []Discovered {
	helpers := s.registry.Helpers()
	out := make([]Discovered, 0, len(helpers))
	for _, h := range helpers {
		if ctx.Err() != nil {
			break
		}
		path, err := s.paths.LookPath(h.ID())
		out = append(out, Discovered{Helper: h, Path: path, Found: err == nil})
	}
	return out
}

func (s *Selector) discover(ctx context.Context) (HelperDescriptor, error) {
	for _, h := range s.registry.Helpers() {
		if err := ctx.Err(); err != nil {
			return HelperDescriptor{}, err
		}
		if h.IsBuildPath() {
			continue
		}
		if _, err := s.paths.LookPath(h.ID()); err == nil {
			return h, nil
		}
	}

	build, ok := s.registry.BuildHelper()
	if !ok {
		return HelperDescriptor{}, NewValidationError("no helper found and the registry has no build path")
	}
	s.logger.Debug().Msg("No AUR helper found, falling back to build path")
	return build, nil
}

func checkCapabilities(helper HelperDescriptor, req InstallRequest) error {
	if !helper.IsBuildPath() {
		if req.SkipSignatureCheck {
			return NewValidationError(fmt.Sprintf("'skip_pgp_check' is only valid with %s, not %s", HelperMakepkg, helper.ID()))
		}
		if req.IgnoreArch {
			return NewValidationError(fmt.Sprintf("'ignore_arch' is only valid with %s, not %s", HelperMakepkg, helper.ID()))
		}
	}

	if req.LocalSourceDir != "" && !helper.SupportsLocalSource() {
		return NewValidationError(fmt.Sprintf("'local_pkgbuild' is not supported by %s", helper.ID()))
	}

	if req.Upgrade && helper.IsBuildPath() {
		return NewValidationError(fmt.Sprintf("%s cannot be used to upgrade", helper.ID()))
	}

	return nil
}
