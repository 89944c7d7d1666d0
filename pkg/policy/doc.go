// Package policy provides Open Policy Agent (OPA) admission control for
// AUR package requests.
//
// The Engine implements aur.Admission. After a request is validated and a
// helper selected, every enabled Rego policy is evaluated against an input
// document describing the request:
//
//	{
//	  "request": {
//	    "operation": "install" | "remove" | "upgrade",
//	    "helper": "yay",
//	    "packages": ["foo"],
//	    "state": "present",
//	    "extra_args": ["--rebuild"],
//	    "skip_pgp_check": false,
//	    ...
//	  },
//	  "context": {"timestamp": "..."}
//	}
//
// Each policy defines a deny set. Entries are strings or objects with
// message, severity and package fields. Violations with error or critical
// severity deny the request; the rest are logged as warnings.
//
// # Built-in Policies
//
//  1. protected-packages - refuses removal of packages listed in data.aur.protected_packages
//  2. extra-args - rejects extra arguments starting with a prefix in data.aur.forbidden_args
//  3. signature-check - warns when PGP verification is skipped
//  4. local-source-path - warns about relative local PKGBUILD directories
//
// # Custom Policies
//
//	package site.aur.allowlist
//
//	import rego.v1
//
//	allowed := {"yay", "paru"}
//
//	deny contains violation if {
//	    not input.request.helper in allowed
//	    violation := {
//	        "message": sprintf("helper %s is not approved", [input.request.helper]),
//	        "severity": "error",
//	    }
//	}
//
// Policies are loaded from .rego files, JSON policy files, or JSON bundles
// with a policies list. Loader.Watch reloads them when files change.
package policy
