package qa

import (
	"errors"

	"doc-qa/internal/answer"
)

var (
	// ErrModelLoad means the named model could not be reached or is not ready.
	ErrModelLoad = errors.New("model unavailable")
	// ErrInference means the model was reachable but the forward pass failed.
	ErrInference = errors.New("inference failed")
)

// Failure kinds reported by Classify.
const (
	KindInput     = "input"
	KindModelLoad = "model_load"
	KindInference = "inference"
	KindUnknown   = "unknown"
)

// Classify maps an error returned by this package to one of the Kind* labels.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, answer.ErrInput):
		return KindInput
	case errors.Is(err, ErrModelLoad):
		return KindModelLoad
	case errors.Is(err, ErrInference):
		return KindInference
	default:
		return KindUnknown
	}
}
