package sync

import (
	"errors"
)

var (
	ErrOutlier             = errors.New("sample rejected by delay filter")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrBelowThreshold      = errors.New("correction below threshold")
	ErrClockBackward       = errors.New("reference clock moved backward")
	ErrReferenceClock      = errors.New("reference clock fault")
	ErrPollInProgress      = errors.New("poll already in progress")
)
