package facematch

import (
	"errors"
	"fmt"

	"github.com/facegate/facematch/extractor"
	"github.com/facegate/facematch/identity"
	"github.com/facegate/facematch/index"
)

var (
	// ErrInvalidInput is returned for malformed requests: empty names,
	// wrong-dimension or zero embeddings, undecodable images, non-positive k.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateIdentity is returned when the name is already registered.
	ErrDuplicateIdentity = errors.New("identity already registered")

	// ErrNotFound is returned when the referenced identity does not exist.
	ErrNotFound = errors.New("identity not found")

	// ErrIndexUnavailable is returned when the similarity index cannot serve
	// the request, e.g. under the fail-fast rebuild policy while a rebuild
	// is in flight.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// ErrDimensionMismatch indicates an embedding whose length does not match the
// engine's configured dimension. It unwraps to ErrInvalidInput.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return ErrInvalidInput }

// Cause returns the layer error this was translated from, if any.
func (e *ErrDimensionMismatch) Cause() error { return e.cause }

// translateError maps layer-specific errors onto the engine's error taxonomy
// so callers only ever match against the facematch sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, identity.ErrDuplicateName) {
		return fmt.Errorf("%w: %w", ErrDuplicateIdentity, err)
	}

	var idm *identity.ErrDimensionMismatch
	if errors.As(err, &idm) {
		return &ErrDimensionMismatch{Expected: idm.Expected, Actual: idm.Actual, cause: err}
	}
	var xdm *index.ErrDimensionMismatch
	if errors.As(err, &xdm) {
		return &ErrDimensionMismatch{Expected: xdm.Expected, Actual: xdm.Actual, cause: err}
	}

	switch {
	case errors.Is(err, identity.ErrEmptyName),
		errors.Is(err, index.ErrEmptyVector),
		errors.Is(err, index.ErrZeroVector),
		errors.Is(err, index.ErrInvalidK),
		errors.Is(err, extractor.ErrInvalidImage),
		errors.Is(err, extractor.ErrNoFaceDetected),
		errors.Is(err, extractor.ErrMultipleFacesDetected):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case errors.Is(err, index.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}

	return err
}
