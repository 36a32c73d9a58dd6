// ABOUTME: Error taxonomy for conversation directory and message pipeline operations
// ABOUTME: Store errors are translated into these so transports can map them to statuses

package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the conversation or user does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidKind means the operation does not apply to this conversation kind
	ErrInvalidKind = errors.New("invalid conversation kind")

	// ErrAlreadyMember means the user already participates in the conversation
	ErrAlreadyMember = errors.New("already a member")

	// ErrNotMember means the sender does not participate in the conversation
	ErrNotMember = errors.New("not a member of this conversation")

	// ErrValidation means required fields were missing or inconsistent
	ErrValidation = errors.New("validation failed")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
