package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyDocument    = errors.New("empty document")
	ErrConfiguration    = errors.New("configuration error")
	ErrParseFailure     = errors.New("annotation parse failure")
	ErrAnnotatorFailure = errors.New("annotator failure")
	ErrTemporary        = errors.New("temporary failure")
	ErrRunNotFound      = errors.New("run not found")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
