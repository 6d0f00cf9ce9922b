package models

// FreshnessStatus is the condition bucket derived from a freshness score.
type FreshnessStatus string

const (
	StatusFresh    FreshnessStatus = "fresh"
	StatusWarning  FreshnessStatus = "warning"
	StatusCritical FreshnessStatus = "critical"
	StatusExpired  FreshnessStatus = "expired"
)

// String returns the string representation of FreshnessStatus
func (s FreshnessStatus) String() string {
	return string(s)
}

// FreshnessResult holds a freshness score together with its derived status
// and discount bucket. Status and discount are always the output of
// StatusAndDiscount for the score; construct via NewFreshnessResult.
type FreshnessResult struct {
	Score    float64         `json:"score"`
	Status   FreshnessStatus `json:"status"`
	Discount int             `json:"discount"`
}

// StatusAndDiscount maps a freshness score to its status and discount
// percentage. Total over all inputs; no side effects. Callers rely on exact
// behavior at the 80, 70, 40 and 10 boundaries.
func StatusAndDiscount(score float64) (FreshnessStatus, int) {
	switch {
	case score >= 80:
		return StatusFresh, 0
	case score >= 70:
		return StatusFresh, 10
	case score >= 40:
		return StatusWarning, 25
	case score >= 10:
		return StatusCritical, 50
	default:
		return StatusExpired, 75
	}
}

// NewFreshnessResult builds a FreshnessResult with derived fields filled in.
func NewFreshnessResult(score float64) FreshnessResult {
	status, discount := StatusAndDiscount(score)
	return FreshnessResult{
		Score:    score,
		Status:   status,
		Discount: discount,
	}
}

// SameBucket reports whether two results share status and discount.
func (r FreshnessResult) SameBucket(other FreshnessResult) bool {
	return r.Status == other.Status && r.Discount == other.Discount
}
