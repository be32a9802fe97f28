// Package version exposes the module version for diagnostics.
package version

// Current is the released version without a leading "v".
const Current = "0.1.0"
