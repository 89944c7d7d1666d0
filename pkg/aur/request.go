package aur

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// State is the desired package state.
type State string

const (
	// StatePresent installs packages that are not installed yet.
	StatePresent State = "present"

	// StateLatest always runs the installer so the helper can upgrade.
	StateLatest State = "latest"

	// StateAbsent removes installed packages.
	StateAbsent State = "absent"
)

// Options are the boolean request toggles.
type Options struct {
	// SkipSignatureCheck passes --skippgpcheck to makepkg.
	SkipSignatureCheck bool `json:"skip_pgp_check,omitempty" yaml:"skip_pgp_check,omitempty"`

	// IgnoreArch passes --ignorearch to makepkg.
	IgnoreArch bool `json:"ignore_arch,omitempty" yaml:"ignore_arch,omitempty"`

	// AUROnly restricts helpers to the AUR with --aur.
	AUROnly bool `json:"aur_only,omitempty" yaml:"aur_only,omitempty"`

	// UpdateCache refreshes the package database with -y.
	UpdateCache bool `json:"update_cache,omitempty" yaml:"update_cache,omitempty"`
}

// InstallRequest is a declarative package state request.
type InstallRequest struct {
	Packages       []string `json:"name,omitempty" yaml:"name,omitempty" validate:"omitempty,dive,aurname"`
	State          State    `json:"state,omitempty" yaml:"state,omitempty" validate:"omitempty,oneof=present latest absent"`
	Upgrade        bool     `json:"upgrade,omitempty" yaml:"upgrade,omitempty"`
	Use            string   `json:"use,omitempty" yaml:"use,omitempty"`
	ExtraArgs      string   `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
	LocalSourceDir string   `json:"local_pkgbuild,omitempty" yaml:"local_pkgbuild,omitempty"`
	Options        `yaml:",inline"`
}

// Normalized returns a copy with defaults applied.
func (r InstallRequest) Normalized() InstallRequest {
	if r.State == "" {
		r.State = StatePresent
	}
	r.Use = strings.TrimSpace(r.Use)
	if r.Use == "" {
		r.Use = HelperAuto
	}
	if r.Packages != nil {
		pkgs := make([]string, len(r.Packages))
		for i, p := range r.Packages {
			pkgs[i] = strings.TrimSpace(p)
		}
		r.Packages = pkgs
	}
	return r
}

// Validate checks field formats and the cross-field rules that do not
// depend on the helper registry or the host.
func (r InstallRequest) Validate() error {
	hasNames := len(r.Packages) > 0
	switch {
	case r.Packages != nil && len(r.Packages) == 0 && !r.Upgrade:
		return NewValidationError("'name' cannot be empty")
	case hasNames && r.Upgrade:
		return NewValidationError("parameters are mutually exclusive: name|upgrade")
	case !hasNames && !r.Upgrade:
		return NewValidationError("one of the following is required: name, upgrade")
	}

	if err := requestValidator().Struct(r); err != nil {
		return NewValidationError(describeValidation(err))
	}

	if r.Use == HelperAuto && strings.TrimSpace(r.ExtraArgs) != "" {
		return NewValidationError("'extra_args' cannot be used with 'auto', a tool must be specified")
	}

	if r.LocalSourceDir != "" && r.Upgrade {
		return NewValidationError("'local_pkgbuild' cannot be used with 'upgrade'")
	}

	return nil
}

// Mode selects dry-run and diff reporting.
type Mode struct {
	Check bool `json:"check_mode,omitempty"`
	Diff  bool `json:"diff,omitempty"`
}

// Operation names the kind of work a request performs.
func (r InstallRequest) Operation() string {
	switch {
	case r.Upgrade:
		return "upgrade"
	case r.State == StateAbsent:
		return "remove"
	default:
		return "install"
	}
}

// aurNamePattern accepts pacman package names and rejects anything that
// could be read as an option.
var aurNamePattern = regexp.MustCompile(`^[A-Za-z0-9@_+][A-Za-z0-9@._+-]*$`)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func requestValidator() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("aurname", func(fl validator.FieldLevel) bool {
			return aurNamePattern.MatchString(fl.Field().String())
		})
		validatorInst = v
	})
	return validatorInst
}

// ValidatePackageName reports whether name is an acceptable package name.
func ValidatePackageName(name string) error {
	if !aurNamePattern.MatchString(name) {
		return NewValidationError(fmt.Sprintf("invalid package name %q", name))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "aurname":
			msgs = append(msgs, fmt.Sprintf("invalid package name %q", fe.Value()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("value of state must be one of: present, latest, absent, got: %v", fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
