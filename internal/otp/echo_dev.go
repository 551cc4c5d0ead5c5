//go:build devotp

package otp

// echoCompiledIn allows issued codes to be returned to the caller. Only
// binaries built with -tags devotp carry this.
const echoCompiledIn = true
