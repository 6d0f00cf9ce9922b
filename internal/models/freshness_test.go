package models

import "testing"

// TestStatusAndDiscountBoundaries verifies the mapping at and around every
// score boundary. Callers depend on exact boundary behavior.
func TestStatusAndDiscountBoundaries(t *testing.T) {
	cases := []struct {
		score    float64
		status   FreshnessStatus
		discount int
	}{
		{100, StatusFresh, 0},
		{80, StatusFresh, 0},
		{79.9, StatusFresh, 10},
		{70, StatusFresh, 10},
		{69.9, StatusWarning, 25},
		{40, StatusWarning, 25},
		{39.9, StatusCritical, 50},
		{10, StatusCritical, 50},
		{9.9, StatusExpired, 75},
		{0, StatusExpired, 75},
		{-5, StatusExpired, 75},
	}

	for _, tc := range cases {
		status, discount := StatusAndDiscount(tc.score)
		if status != tc.status {
			t.Errorf("score %.1f: expected status %s, got %s", tc.score, tc.status, status)
		}
		if discount != tc.discount {
			t.Errorf("score %.1f: expected discount %d, got %d", tc.score, tc.discount, discount)
		}
	}
}

// TestNewFreshnessResult verifies derived fields always match the score.
func TestNewFreshnessResult(t *testing.T) {
	r := NewFreshnessResult(45)

	if r.Score != 45 {
		t.Errorf("Expected score 45, got %.1f", r.Score)
	}
	if r.Status != StatusWarning {
		t.Errorf("Expected status warning, got %s", r.Status)
	}
	if r.Discount != 25 {
		t.Errorf("Expected discount 25, got %d", r.Discount)
	}
}

func TestSameBucket(t *testing.T) {
	// Different scores, same bucket
	if !NewFreshnessResult(72).SameBucket(NewFreshnessResult(74)) {
		t.Error("72 and 74 should share the fresh 10% discount bucket")
	}

	// Same status, different discount
	if NewFreshnessResult(85).SameBucket(NewFreshnessResult(72)) {
		t.Error("85 and 72 are both fresh but in different discount buckets")
	}

	// Different status
	if NewFreshnessResult(45).SameBucket(NewFreshnessResult(15)) {
		t.Error("45 and 15 should not share a bucket")
	}
}
