//go:build !devotp

package otp

const echoCompiledIn = false
