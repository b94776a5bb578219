package game

import (
	"errors"
	"testing"
	"time"

	"bricks/internal/ledger"
	"bricks/internal/odds"
)

func TestValidateBatch(t *testing.T) {
	tests := []struct {
		count int
		admin bool
		ok    bool
	}{
		{count: 1, ok: true},
		{count: 10, ok: true},
		{count: 5, ok: false},
		{count: 0, ok: false},
		{count: 5, admin: true, ok: true},
		{count: 100, admin: true, ok: true},
		{count: 101, admin: true, ok: false},
	}
	for _, tc := range tests {
		err := validateBatch(tc.count, tc.admin, DefaultAdminBatchCap)
		if tc.ok && err != nil {
			t.Fatalf("count=%d admin=%v: unexpected error %v", tc.count, tc.admin, err)
		}
		if !tc.ok && !errors.Is(err, ErrValidation) {
			t.Fatalf("count=%d admin=%v: expected validation error, got %v", tc.count, tc.admin, err)
		}
	}
}

func TestValidatePrice(t *testing.T) {
	s := DefaultSettings()
	if err := s.validatePrice(39); !errors.Is(err, ErrPriceBelowFloor) {
		t.Fatalf("expected floor error, got %v", err)
	}
	if err := s.validatePrice(40); err != nil {
		t.Fatalf("floor price rejected: %v", err)
	}
	if err := s.validatePrice(MaxListPrice + 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestErrorKindsWrap(t *testing.T) {
	err := errorf(ErrInsufficientCrates, "season %d", 3)
	if !errors.Is(err, ErrInsufficientCrates) || !errors.Is(err, ErrInsufficientResource) {
		t.Fatalf("kind lost: %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("wrong kind matched")
	}
}

func TestTouchPityMigratesLegacyOnce(t *testing.T) {
	a := NewAccount("a", "", false, time.Unix(0, 0))
	a.LegacyPity = &odds.Pity{Top: 30, Second: 4}

	if got := a.PityFor(2); got != (odds.Pity{Top: 30, Second: 4}) {
		t.Fatalf("read view should expose legacy counters, got %+v", got)
	}
	if got := a.touchPity(2); got != (odds.Pity{Top: 30, Second: 4}) {
		t.Fatalf("first row should inherit legacy counters, got %+v", got)
	}
	if a.LegacyPity != nil {
		t.Fatalf("legacy counters not cleared")
	}
	if got := a.touchPity(ledger.SeasonID(3)); got != (odds.Pity{}) {
		t.Fatalf("second season should start fresh, got %+v", got)
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	if s.MinListPrice != DefaultMinListPrice || s.AdminBatchCap != DefaultAdminBatchCap || s.BucketSize != DefaultBucketSize {
		t.Fatalf("defaults not applied: %+v", s)
	}
}
