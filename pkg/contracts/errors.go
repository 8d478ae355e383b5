package contracts

import "errors"

// Error taxonomy for the request → decision → token → execution path.
// Validation, policy, and token failures are returned as structured
// results for callers to branch on; invariant violations are raised by
// pkg/invariant and are not part of this set.
var (
	// ErrValidation marks a malformed record. Recoverable: the caller
	// fixes the record and resubmits.
	ErrValidation = errors.New("validation failed")

	// ErrPolicyDenied marks an expected policy denial.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrSanitizeRequired signals the caller must run the payload
	// through a sanitizer and resubmit the intent.
	ErrSanitizeRequired = errors.New("sanitize required")

	// ErrTokenInvalid is the literal-matchable authorization failure.
	// Expired, already used, signature mismatch, scope mismatch, and
	// unknown-token lookups all surface as this exact string.
	ErrTokenInvalid = errors.New("Invalid capability token")

	// ErrIntegrity marks an evidence content hash mismatch. Treated as
	// tampering and never auto-corrected.
	ErrIntegrity = errors.New("evidence integrity check failed")
)
