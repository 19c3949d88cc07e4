// Package classify implements the engine's closed error taxonomy. Errors are
// classified at the boundary where they are raised (connection pool,
// executor, playlist fetch) rather than by pattern-matching exception text.
package classify

import (
	"errors"
	"fmt"
)

// Category is the top-level error family.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryFilesystem    Category = "filesystem"
	CategoryAuthentication Category = "authentication"
	CategoryValidation    Category = "validation"
	CategoryResource      Category = "resource"
	CategoryEncryption    Category = "encryption"
	CategoryParsing       Category = "parsing"
	CategorySystem        Category = "system"
)

// Variant names the specific sub-case driving recovery behavior.
type Variant string

const (
	VariantConnectionTimeout Variant = "connection_timeout"
	VariantDNSResolution     Variant = "dns_resolution"
	VariantTLSCertificate    Variant = "tls_certificate"
	VariantProxy             Variant = "proxy"
	VariantRateLimit         Variant = "rate_limit"
	VariantHTTP4xx           Variant = "http_4xx"
	VariantHTTP5xx           Variant = "http_5xx"

	VariantPermission        Variant = "permission"
	VariantInsufficientSpace Variant = "insufficient_space"
	VariantNotFound          Variant = "not_found"

	VariantKeyFetch          Variant = "key_fetch"
	VariantKeyInvalid        Variant = "key_invalid"
	VariantDecryptionFailure Variant = "decryption_failure"
	VariantIntegrityMismatch Variant = "integrity_mismatch"

	VariantInvalidURL     Variant = "invalid_url"
	VariantPlaylistParse  Variant = "playlist_parse"
	VariantInvalidSegment Variant = "invalid_segment"

	VariantMemory      Variant = "memory"
	VariantConcurrency Variant = "concurrency"
	VariantExhaustion  Variant = "exhaustion"

	VariantConfiguration Variant = "configuration"
	VariantCircuitOpen   Variant = "circuit_open"

	VariantGeneric Variant = "generic"
)

// Severity ranks how urgently an error should be surfaced.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is one suggested remediation step.
type Action struct {
	Description string
	IsAutomatic bool
	Priority    int // 1..3, 1 = most urgent to attempt
}

// Context carries the task/operation metadata surrounding an error.
type Context struct {
	TaskID     string
	TaskName   string
	URL        string
	FilePath   string
	SegmentIdx int
	RetryCount int
	Extra      map[string]string
}

// Error is the classified error type carried through the engine.
type Error struct {
	Category    Category
	Variant     Variant
	Severity    Severity
	Retryable   bool
	MaxRetries  int // hint; RetryEngine enforces the stricter of this and policy
	Message     string
	Actions     []Action
	Ctx         Context
	RetryAfter  int // seconds, set for VariantRateLimit
	Required    int64
	Available   int64
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Category, e.Variant, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Variant, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a classified error.
func New(cat Category, variant Variant, severity Severity, retryable bool, message string, cause error) *Error {
	return &Error{
		Category:  cat,
		Variant:   variant,
		Severity:  severity,
		Retryable: retryable,
		Message:   message,
		Cause:     cause,
	}
}

// WithContext attaches a context record and returns e for chaining.
func (e *Error) WithContext(ctx Context) *Error {
	e.Ctx = ctx
	return e
}

// WithActions attaches suggested actions and returns e for chaining.
func (e *Error) WithActions(actions ...Action) *Error {
	e.Actions = actions
	return e
}

// As retrieves a *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Network constructs a Network-category error.
func Network(variant Variant, message string, cause error) *Error {
	e := New(CategoryNetwork, variant, SeverityMedium, true, message, cause)
	switch variant {
	case VariantHTTP4xx:
		e.Retryable = false
		e.Severity = SeverityHigh
	case VariantRateLimit:
		e.Severity = SeverityLow
	case VariantTLSCertificate:
		e.Retryable = false
		e.Severity = SeverityHigh
	}
	return e
}

// Filesystem constructs a Filesystem-category error.
func Filesystem(variant Variant, message string, cause error) *Error {
	retryable := variant != VariantPermission && variant != VariantNotFound
	sev := SeverityMedium
	if variant == VariantInsufficientSpace {
		sev = SeverityHigh
	}
	return New(CategoryFilesystem, variant, sev, retryable, message, cause)
}

// Encryption constructs an Encryption-category error. None are retryable
// except a transient KeyFetch failure.
func Encryption(variant Variant, message string, cause error) *Error {
	retryable := variant == VariantKeyFetch
	sev := SeverityHigh
	if variant == VariantIntegrityMismatch {
		sev = SeverityCritical
	}
	return New(CategoryEncryption, variant, sev, retryable, message, cause)
}

// Validation constructs a non-retryable Validation-category error.
func Validation(variant Variant, message string, cause error) *Error {
	return New(CategoryValidation, variant, SeverityHigh, false, message, cause)
}

// Resource constructs a Resource-category error.
func Resource(variant Variant, message string, cause error) *Error {
	return New(CategoryResource, variant, SeverityMedium, true, message, cause)
}

// System constructs a System-category error. CircuitOpen and Configuration
// are not retryable by the engine's own retry policy (the breaker itself
// governs recovery).
func System(variant Variant, message string, cause error) *Error {
	return New(CategorySystem, variant, SeverityMedium, false, message, cause)
}

// Authentication constructs a non-retryable Authentication-category error.
func Authentication(variant Variant, message string, cause error) *Error {
	return New(CategoryAuthentication, variant, SeverityHigh, false, message, cause)
}

// Parsing constructs a Parsing-category error.
func Parsing(variant Variant, message string, cause error) *Error {
	return New(CategoryParsing, variant, SeverityMedium, true, message, cause)
}
