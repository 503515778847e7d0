// Package license implements the license validation and activation engine:
// structured key generation and parsing with per-segment checksums, multi-check
// key validation, risk and confidence scoring, hardware/domain binding
// enforcement, and the verification pipeline that composes them.
//
// The package is pure domain logic. Persistence is supplied by callers through
// the Repository interface in internal/store; HTTP concerns live in
// internal/transport/http.
package license
