// Package history records finished exchanges in a sqlite database so the
// CLI can list what was sent.
package history
