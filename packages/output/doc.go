// Package output renders finished exchanges for people and for tooling.
//
// New picks a Formatter by name: "console" writes colored lines as each
// exchange finishes, while "json" and "tap" buffer exchanges and write a
// single document on Flush. An exchange passes when its response loaded,
// its body matched the configured schema and every expectation held.
package output
