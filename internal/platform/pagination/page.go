// Package pagination normalizes page sizes for list operations.
package pagination

import (
	"strconv"

	apperrors "github.com/louisbranch/courier.space/internal/platform/errors"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// NormalizePageSize applies the default for an omitted size and rejects
// sizes that are negative or above the configured maximum.
func NormalizePageSize(value int, cfg PageSizeConfig) (int, error) {
	if value == 0 {
		value = cfg.Default
	}
	if value <= 0 || (cfg.Max > 0 && value > cfg.Max) {
		return 0, apperrors.WithMetadata(
			apperrors.CodeInvalidPageSize,
			"page size out of range",
			map[string]string{"max": strconv.Itoa(cfg.Max)},
		)
	}
	return value, nil
}
