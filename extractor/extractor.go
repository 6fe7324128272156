// Package extractor defines the face embedding extraction boundary.
//
// The matching engine itself never touches image data: an Extractor turns an
// image into a fixed-dimension embedding vector, and everything downstream
// works on vectors only. Production deployments plug in a detection/embedding
// model (ArcFace, FaceNet, a remote inference service); tests plug in a Func.
package extractor

import (
	"context"
	"errors"
)

var (
	// ErrNoFaceDetected is returned when the image contains no detectable face.
	ErrNoFaceDetected = errors.New("extractor: no face detected")

	// ErrMultipleFacesDetected is returned when the image contains more than
	// one face. Registration and recognition both require exactly one.
	ErrMultipleFacesDetected = errors.New("extractor: multiple faces detected")

	// ErrInvalidImage is returned when the payload is not a decodable image.
	ErrInvalidImage = errors.New("extractor: invalid image data")
)

// Extractor produces a face embedding from raw image bytes.
//
// Implementations must return exactly one embedding of a fixed dimension, or
// one of the sentinel errors above when the image does not contain exactly
// one usable face.
type Extractor interface {
	// Extract returns the embedding of the single face in the image.
	Extract(ctx context.Context, image []byte) ([]float32, error)

	// Dimension returns the embedding dimension this extractor produces.
	Dimension() int
}

// Func adapts a plain function to the Extractor interface.
type Func struct {
	Dim int
	Fn  func(ctx context.Context, image []byte) ([]float32, error)
}

// Extract calls the wrapped function.
func (f Func) Extract(ctx context.Context, image []byte) ([]float32, error) {
	return f.Fn(ctx, image)
}

// Dimension returns the configured embedding dimension.
func (f Func) Dimension() int {
	return f.Dim
}
