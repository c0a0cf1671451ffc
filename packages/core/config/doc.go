// Package config handles transport options for hitwire.
//
// It provides functionality for:
//   - Validating loosely typed option maps, collecting warnings instead of failing
//   - Default option values
//   - Loading options from .hitwire.json or .hitwire.yaml files
//   - Client certificate descriptors (p12 and pem)
package config
