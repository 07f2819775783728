// Package metadata defines the versioned metadata document and normalizes the
// raw output of the build script's inspection command into it.
//
// The document has two top-level keys:
//
//	{
//	    "data": {"install_requires": ["bar", "foo"], ...},
//	    "version": 1
//	}
//
// SchemaVersion only increases when a key under "data" is renamed or removed;
// new keys are additive and leave it unchanged.
//
// Normalization sorts the list-valued fields named in ListFields so the
// output is deterministic regardless of declaration order in the build
// script. Every other field, including fields this package does not know
// about, passes through untouched, and missing fields are never invented.
package metadata
