package actions

import "errors"

// Errors for update operations.
var (
	// errNotWorkingCopy indicates an apply was requested before the tree was initialized.
	errNotWorkingCopy = errors.New("deployment tree is not a working copy")
	// errRevisionLookup indicates a failure to resolve the local or remote revision.
	errRevisionLookup = errors.New("failed to resolve revision")
	// errManifestCheck indicates a failure to diff the dependency manifest.
	errManifestCheck = errors.New("failed to check dependency manifest")
)

// Errors for image-version checks.
var (
	// errTagLookup indicates a failure to list published tags.
	errTagLookup = errors.New("failed to list tags")
)
