// Package cmd implements the hitwire CLI commands using Cobra.
//
// Available commands:
//   - send: Send a URL or the requests of a YAML/JSON descriptor file
//   - bench: Send one request repeatedly and report latency percentiles
//   - history: List exchanges recorded with send --history
//   - import: Convert curl command lines into a descriptor file
//   - version: Show hitwire version information
//   - completion: Generate shell completion scripts
//
// Request flags (headers, proxy, certificates, NTLM, host rules) are shared
// by send and bench and default from HITWIRE_* environment variables.
package cmd
