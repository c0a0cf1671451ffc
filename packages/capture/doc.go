// Package capture inspects loaded responses.
//
// It extracts values from:
//   - the response body, with gjson paths
//   - response headers
//   - the status code and the loading time
//
// and validates JSON bodies against a JSON schema.
package capture
