package config

import (
	"fmt"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

// Both sentinels wrap errors.ErrConfig, so errors.KindOf classifies config failures as KindConfig.
var (
	ErrInvalidValue     = fmt.Errorf("%w: invalid value", errors.ErrConfig)
	ErrConfigLoadFailed = fmt.Errorf("%w: load failed", errors.ErrConfig)
)

// NewErrInvalidValue reports the dotted key of a setting and the value it was given.
func NewErrInvalidValue(key string, value any) error {
	return fmt.Errorf("%w: '%s' (value: '%v')", ErrInvalidValue, key, value)
}
