// Package errors defines the domain error kinds of the licensing engine and
// their RFC 7807 HTTP representations.
package errors

import "errors"

// Sentinel errors for license operations. Services wrap these with %w and the
// HTTP layer maps them through MapLicenseError.
var (
	ErrMalformedKey           = errors.New("malformed license key")
	ErrChecksumMismatch       = errors.New("license key checksum mismatch")
	ErrLicenseNotFound        = errors.New("license not found")
	ErrLicenseInactive        = errors.New("license inactive")
	ErrLicenseExpired         = errors.New("license expired")
	ErrActivationLimitReached = errors.New("activation limit reached")
	ErrHardwareBindingFailed  = errors.New("hardware binding check failed")
	ErrDuplicateKeyGeneration = errors.New("could not generate unique license key")
	ErrActivationNotFound     = errors.New("activation not found")
)

// Machine-checkable error codes carried in problem responses.
const (
	CodeMalformedKey           = "MALFORMED_KEY"
	CodeChecksumMismatch       = "CHECKSUM_MISMATCH"
	CodeLicenseNotFound        = "LICENSE_NOT_FOUND"
	CodeLicenseInactive        = "LICENSE_INACTIVE"
	CodeLicenseExpired         = "LICENSE_EXPIRED"
	CodeActivationLimitReached = "ACTIVATION_LIMIT_REACHED"
	CodeHardwareBindingFailed  = "HARDWARE_BINDING_FAILED"
	CodeDuplicateKeyGeneration = "DUPLICATE_KEY_GENERATION"
	CodeActivationNotFound     = "ACTIVATION_NOT_FOUND"
	CodePersistenceError       = "PERSISTENCE_ERROR"
	CodeValidationFailed       = "VALIDATION_FAILED"
)
