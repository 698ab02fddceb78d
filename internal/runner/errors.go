package runner

import (
	"errors"
)

var (
	ErrInvalidConfig     = errors.New("invalid config")
	ErrTargetUnreachable = errors.New("target unreachable")
	ErrResponseTooLarge  = errors.New("response too large")
)
