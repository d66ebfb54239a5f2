package pagination

import (
	"errors"
	"testing"

	apperrors "github.com/louisbranch/courier.space/internal/platform/errors"
)

func TestNormalizePageSizeDefaultsZero(t *testing.T) {
	t.Parallel()

	size, err := NormalizePageSize(0, PageSizeConfig{Default: 50, Max: 200})
	if err != nil {
		t.Fatalf("normalize page size: %v", err)
	}
	if size != 50 {
		t.Fatalf("expected default 50, got %d", size)
	}
}

func TestNormalizePageSizeAcceptsInRange(t *testing.T) {
	t.Parallel()

	size, err := NormalizePageSize(200, PageSizeConfig{Default: 50, Max: 200})
	if err != nil {
		t.Fatalf("normalize page size: %v", err)
	}
	if size != 200 {
		t.Fatalf("expected 200, got %d", size)
	}
}

func TestNormalizePageSizeRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	for _, value := range []int{-1, 201} {
		_, err := NormalizePageSize(value, PageSizeConfig{Default: 50, Max: 200})
		if err == nil {
			t.Fatalf("expected error for %d", value)
		}
		var domainErr *apperrors.Error
		if !errors.As(err, &domainErr) || domainErr.Code != apperrors.CodeInvalidPageSize {
			t.Fatalf("expected invalid page size code, got %v", err)
		}
	}
}
