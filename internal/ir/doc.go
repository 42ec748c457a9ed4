// Package ir provides the canonical serialization shared by every package
// that persists or compares store data: RFC 8785 canonical JSON and
// domain-separated content digests.
//
// ir imports nothing internal. Golden traces, recorded payloads and state
// digests all go through MarshalCanonical, so two equal states always
// produce identical bytes.
package ir
