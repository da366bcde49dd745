// Package sqlgen builds the provisioning statements a connection runs on
// the worker at connect time, and verifies that remote attach targets
// exist before an attach is attempted.
//
// Builders emit deterministic text: option maps are rendered in sorted
// key order, so the same config always provisions with the same
// statements.
package sqlgen
