package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the turn engine's failure taxonomy.
var (
	// ErrStorage - a query or transaction operation failed; fatal to the
	// current cycle, nothing is committed.
	ErrStorage = errors.New("storage error")

	// ErrUnauthorized - the tenant security context could not be
	// established; fatal, distinct from storage failures.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound - a referenced chat/conversation/prompt/model row does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrModerationRejected - the guard classified the conversation as
	// unsafe. The rejection is committed (replacement chat + flag) before
	// this is returned.
	ErrModerationRejected = errors.New("moderation rejected")

	// ErrModerationTransport - the guard call failed or returned an
	// unparseable verdict. Fail closed: never treated as safe.
	ErrModerationTransport = errors.New("moderation transport failure")

	// ErrSerialization - tool call or tool result JSON could not be
	// encoded; aborts the sink cycle without committing.
	ErrSerialization = errors.New("serialization error")

	// ErrTransient - a provider or network failure the caller may retry.
	ErrTransient = errors.New("transient error")
)

func Storage(msg string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%s: %v: %w", msg, cause, ErrStorage)
	}
	return fmt.Errorf("%s: %w", msg, ErrStorage)
}

func Unauthorized(msg string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%s: %v: %w", msg, cause, ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", msg, ErrUnauthorized)
}

func NotFound(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrNotFound)
}

func Serialization(msg string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%s: %v: %w", msg, cause, ErrSerialization)
	}
	return fmt.Errorf("%s: %w", msg, ErrSerialization)
}
