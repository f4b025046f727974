package domain

import "time"

// Subscription carries the admission-control signals the pipeline consumes.
// Billing bookkeeping beyond these fields lives outside the core.
type Subscription struct {
	UserID             string     `json:"user_id"               db:"user_id"`
	Plan               string     `json:"plan"                  db:"plan"`
	Status             string     `json:"status"                db:"status"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"    db:"current_period_end"`
	ReviewCountMonth   int        `json:"review_count_month"    db:"review_count_month"`
	ReviewCountResetAt time.Time  `json:"review_count_reset_at" db:"review_count_reset_at"`
}

// Plans.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// FreePlanMonthlyReviews is the free-plan review cap per 30-day window.
const FreePlanMonthlyReviews = 50

// NeedsCounterReset reports whether the monthly counter window has elapsed.
func (s *Subscription) NeedsCounterReset(now time.Time) bool {
	return now.Sub(s.ReviewCountResetAt) > 30*24*time.Hour
}
