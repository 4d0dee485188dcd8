package engine

import "errors"

// Error taxonomy for governance operations. Callers distinguish
// caller-fixable failures (schema, auth, rate limit) from systemic ones
// (integrity) with errors.Is.
var (
	ErrSchemaInvalid         = errors.New("schema invalid")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrRateLimited           = errors.New("rate limited")
	ErrDuplicateValidator    = errors.New("validator has already voted on this artifact")
	ErrSelfValidation        = errors.New("self-validation not permitted")
	ErrUnknownArtifact       = errors.New("unknown artifact")
	ErrPoolNotFound          = errors.New("pool not found")
	ErrSelfReferentialParent = errors.New("artifact cannot be its own parent")
	ErrInvalidQuery          = errors.New("invalid query")
	ErrQuarantineBlocked     = errors.New("artifact is quarantined")

	// ErrIntegrityViolation is fatal for the affected pool: writes are
	// halted until an administrator intervenes.
	ErrIntegrityViolation = errors.New("audit chain integrity violation")
)

// maxRetries bounds optimistic-concurrency retry loops. Version conflicts
// are recovered locally; only an exhausted loop surfaces to the caller.
const maxRetries = 3
