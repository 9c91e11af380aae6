package models

import (
	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// VarianceThresholds are percentages of the theoretical quantity.
// Below FlagPercent an item is not flagged; at/above FlagPercent it is flagged
// variance_from_theoretical; at/above CriticalPercent critical_variance.
type VarianceThresholds struct {
	FlagPercent     decimal.Decimal
	CriticalPercent decimal.Decimal
}

// DefaultVarianceThresholds reads COUNT_VARIANCE_* from the environment.
func DefaultVarianceThresholds() VarianceThresholds {
	return VarianceThresholds{
		FlagPercent:     config.VarianceFlagPercent(),
		CriticalPercent: config.VarianceCriticalPercent(),
	}
}

func (t VarianceThresholds) validate() error {
	if t.FlagPercent.IsNegative() || t.CriticalPercent.IsNegative() {
		return validationFailed("variance thresholds cannot be negative")
	}
	if t.CriticalPercent.LessThan(t.FlagPercent) {
		return validationFailed("critical variance threshold must be >= flag threshold")
	}
	return nil
}

type Variance struct {
	Qty decimal.Decimal `json:"qty"`
	// Percent is null when the theoretical quantity is zero.
	Percent decimal.NullDecimal `json:"percent"`
	Reason  FlagReason          `json:"reason"`
}

// ClassifyVariance compares counted against theoretical.
// A non-zero count against a theoretical zero is always critical.
func ClassifyVariance(theoretical, counted decimal.Decimal, t VarianceThresholds) Variance {
	v := Variance{Qty: counted.Sub(theoretical), Reason: FlagReasonNone}
	if theoretical.IsZero() {
		if !counted.IsZero() {
			v.Reason = FlagReasonCriticalVariance
		} else {
			v.Percent = decimal.NewNullDecimal(decimal.Zero)
		}
		return v
	}
	pct := v.Qty.Abs().Div(theoretical.Abs()).Mul(hundred)
	v.Percent = decimal.NewNullDecimal(pct.Round(4))
	switch {
	case pct.GreaterThanOrEqual(t.CriticalPercent):
		v.Reason = FlagReasonCriticalVariance
	case pct.GreaterThanOrEqual(t.FlagPercent) && !pct.IsZero():
		v.Reason = FlagReasonVarianceFromTheoretical
	}
	return v
}

// CountInput is everything the engine needs about one ledger item.
type CountInput struct {
	Theoretical    decimal.Decimal
	Count1         decimal.NullDecimal
	Count2         decimal.NullDecimal
	Count3         decimal.NullDecimal
	RequiresCount2 bool
}

type Resolution struct {
	FinalQty   decimal.NullDecimal
	Method     ResolutionMethod
	IsFlagged  bool
	FlagReason FlagReason
	// ThirdCountCandidate: counters disagree and no third count exists yet.
	ThirdCountCandidate bool
}

func (r Resolution) IsResolved() bool { return r.Method != ResolutionMethodPending }

// ResolveCounts decides an item's outcome from the counts submitted so far.
// It is deterministic and independent of submission order.
func ResolveCounts(in CountInput, t VarianceThresholds) Resolution {
	pending := Resolution{Method: ResolutionMethodPending, FlagReason: FlagReasonNone}

	if !in.Count1.Valid {
		return pending
	}
	c1 := in.Count1.Decimal

	if !in.RequiresCount2 {
		method := ResolutionMethodAutoCountersAgree
		if c1.Equal(in.Theoretical) {
			method = ResolutionMethodAutoAllMatch
		}
		return resolvedWith(c1, method, in.Theoretical, t)
	}

	if !in.Count2.Valid {
		return pending
	}
	c2 := in.Count2.Decimal
	if c1.Equal(c2) {
		return resolvedWith(c1, ResolutionMethodAutoCountersAgree, in.Theoretical, t)
	}

	if in.Count3.Valid {
		c3 := in.Count3.Decimal
		if c3.Equal(c1) || c3.Equal(c2) {
			return resolvedWith(c3, ResolutionMethodThirdCountDecisive, in.Theoretical, t)
		}
	}

	// No pair agrees; with three distinct counts only a manual override resolves it.
	return Resolution{
		Method:              ResolutionMethodPending,
		IsFlagged:           true,
		FlagReason:          FlagReasonCounterDisagreement,
		ThirdCountCandidate: !in.Count3.Valid,
	}
}

func resolvedWith(final decimal.Decimal, method ResolutionMethod, theoretical decimal.Decimal, t VarianceThresholds) Resolution {
	v := ClassifyVariance(theoretical, final, t)
	return Resolution{
		FinalQty:   decimal.NewNullDecimal(final),
		Method:     method,
		IsFlagged:  v.Reason != FlagReasonNone,
		FlagReason: v.Reason,
	}
}
