// Package headers implements the header list used on both sides of a
// raw HTTP exchange.
//
// Headers are kept as written:
//   - Names keep the casing they were first seen with
//   - Lookups are case-insensitive
//   - Repeated names are merged into one comma separated value
//   - Header blocks with folded (continuation) lines are parsed as one value
package headers
