package retrieval

import (
	dErrors "accord/pkg/domain-errors"
)

// NewRetrievalError marks a corpus-level failure that aborts a run.
func NewRetrievalError(msg string, cause error) error {
	if cause == nil {
		return dErrors.New(dErrors.CodeRetrieval, msg)
	}
	return dErrors.Wrap(cause, dErrors.CodeRetrieval, msg)
}

// NewCalibrationError marks a malformed score; only the current document is aborted.
func NewCalibrationError(msg string, cause error) error {
	if cause == nil {
		return dErrors.New(dErrors.CodeCalibration, msg)
	}
	return dErrors.Wrap(cause, dErrors.CodeCalibration, msg)
}

// IsRetrievalError reports whether err is fatal for a run.
func IsRetrievalError(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeRetrieval)
}

// IsCalibrationError reports whether err is a per-document scoring failure.
func IsCalibrationError(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeCalibration)
}
