package policy

import (
	"time"
)

// DefaultProtectedPackages may never be removed through the engine.
var DefaultProtectedPackages = []string{
	"base",
	"filesystem",
	"glibc",
	"linux",
	"pacman",
	"sudo",
	"systemd",
}

// DefaultForbiddenArgs are extra argument prefixes that redirect pacman
// away from the host database or overwrite files owned by other packages.
var DefaultForbiddenArgs = []string{
	"--root",
	"--dbpath",
	"--config",
	"--overwrite",
	"--gpgdir",
	"--hookdir",
	"--sysroot",
}

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedPackagesPolicy(),
		extraArgsPolicy(),
		signatureCheckPolicy(),
		localSourcePolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, rego string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        rego,
	}
}

func protectedPackagesPolicy() Policy {
	return builtin(
		"protected-packages",
		"Refuses to remove packages the host cannot boot or update without",
		SeverityCritical,
		[]string{"safety", "remove"},
		`package froyo.aur.protected

import rego.v1

deny contains violation if {
	input.request.operation == "remove"
	some name in input.request.packages
	name in data.aur.protected_packages
	violation := {
		"message": sprintf("package %s is protected and cannot be removed", [name]),
		"package": name,
	}
}
`)
}

func extraArgsPolicy() Policy {
	return builtin(
		"extra-args",
		"Rejects extra arguments that retarget or overwrite the package database",
		SeverityError,
		[]string{"safety", "arguments"},
		`package froyo.aur.extra_args

import rego.v1

deny contains violation if {
	some arg in input.request.extra_args
	some prefix in data.aur.forbidden_args
	startswith(arg, prefix)
	violation := {"message": sprintf("extra argument %s is not allowed", [arg])}
}
`)
}

func signatureCheckPolicy() Policy {
	return builtin(
		"signature-check",
		"Reports requests that build without PGP signature verification",
		SeverityWarning,
		[]string{"security", "build"},
		`package froyo.aur.signatures

import rego.v1

deny contains violation if {
	input.request.skip_pgp_check
	some name in input.request.packages
	violation := {
		"message": sprintf("package %s is built without PGP signature verification", [name]),
		"package": name,
	}
}
`)
}

func localSourcePolicy() Policy {
	return builtin(
		"local-source-path",
		"Reports relative local PKGBUILD directories",
		SeverityWarning,
		[]string{"build"},
		`package froyo.aur.local_source

import rego.v1

deny contains violation if {
	dir := input.request.local_pkgbuild
	dir != ""
	not startswith(dir, "/")
	violation := sprintf("local_pkgbuild %s is relative to the working directory", [dir])
}
`)
}
