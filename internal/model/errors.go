package model

import "github.com/rotisserie/eris"

// Pipeline failures. Each aborts the current invocation and is surfaced to the
// caller unchanged; callers test for them with errors.Is.
var (
	ErrEmptyInput         = eris.New("empty input")
	ErrSchema             = eris.New("schema error")
	ErrNoPositiveLabels   = eris.New("no positive labels")
	ErrInsufficientData   = eris.New("insufficient data")
	ErrEmptyGroup         = eris.New("empty group")
	ErrInvalidTopK        = eris.New("invalid top_k")
	ErrInvalidSeason      = eris.New("invalid season")
	ErrInvalidRequest     = eris.New("invalid request")
	ErrArtifactNotFound   = eris.New("artifact not found")
	ErrMetadataMissing    = eris.New("metadata missing")
	ErrFeatureListMissing = eris.New("feature list missing")
)
