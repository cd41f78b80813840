package quota

import (
	"fmt"
	"time"

	"github.com/conclave-ai/conclave/pkg/models"
)

// OverQuotaError reports that a reservation failed because the counter's
// remaining allowance is exhausted for the current billing period.
type OverQuotaError struct {
	UserID  string
	Counter models.CounterKind
	ResetAt time.Time
}

func (e *OverQuotaError) Error() string {
	return fmt.Sprintf("over quota: counter %q resets at %s", e.Counter, e.ResetAt.Format(time.RFC3339))
}

// IsRetryable is always false: the caller must wait for ResetAt, retrying
// immediately cannot succeed.
func (e *OverQuotaError) IsRetryable() bool { return false }

// TierForbiddenError reports that the user's tier excludes a model, tool, or
// feature outright, independent of remaining quota.
type TierForbiddenError struct {
	UserID   string
	Tier     models.Tier
	Resource string // e.g. "model:claude-opus-4", "tool:execute_code", "feature:council"
}

func (e *TierForbiddenError) Error() string {
	return fmt.Sprintf("tier %q forbids %s", e.Tier, e.Resource)
}

// IsRetryable is always false: the tier must change, not the request.
func (e *TierForbiddenError) IsRetryable() bool { return false }

// IsOverQuota reports whether err is (or wraps) an OverQuotaError.
func IsOverQuota(err error) (*OverQuotaError, bool) {
	oq, ok := err.(*OverQuotaError)
	return oq, ok
}

// IsTierForbidden reports whether err is (or wraps) a TierForbiddenError.
func IsTierForbidden(err error) (*TierForbiddenError, bool) {
	tf, ok := err.(*TierForbiddenError)
	return tf, ok
}
