// Package config parses AUR package manifests.
//
// # Overview
//
// A manifest lists the package entries to converge on a host. Manifests can
// be written in CUE, YAML or JSON; all three are turned into a CUE value and
// unified with the built-in #Manifest definition, so every format gets the
// same checks and error positions where the format carries them.
//
// # Manifest Structure
//
// Entries may be given as a list or as a map keyed by entry id. A keyed entry
// without a name installs the package named by its key:
//
//	defaults: {
//	    use:          "yay"
//	    update_cache: true
//	}
//
//	packages: {
//	    yay: {use: "makepkg"}
//	    browsers: {name: ["google-chrome", "librewolf-bin"], state: "latest"}
//	    system: {upgrade: true, aur_only: true}
//	}
//
// The same document in YAML:
//
//	defaults:
//	  use: yay
//	packages:
//	  - name: [google-chrome, librewolf-bin]
//	    state: latest
//
// Defaults are applied to fields an entry leaves unset. After schema
// validation each entry is normalized and checked with
// aur.InstallRequest.Validate, so rules the schema cannot express (name and
// upgrade together, extra_args with the auto helper) are reported here too.
//
// # Schemas
//
// SchemaRegistry holds the compiled definitions: #PackageName, #Helper,
// #Options, #AURPackage and #Manifest. The #Helper disjunction is generated
// from the helper registry the parser is created with. Additional
// definitions can be registered with RegisterSchema.
//
// # Error Handling
//
// Problems are collected and returned together in a *ManifestError. Each
// ValidationError carries the file, line, column and path where known.
//
// # Thread Safety
//
// SchemaRegistry is safe for concurrent use. A Parser shares one CUE context
// and should not be used from multiple goroutines at once.
package config
