package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Enumerations are closed: every type rejects unknown values on decode, and
// persisted values are only ever written from the constants below.

type CountingSessionStatus string

const (
	CountingSessionStatusCount1InProgress CountingSessionStatus = "Count1InProgress"
	CountingSessionStatusCount2InProgress CountingSessionStatus = "Count2InProgress"
	CountingSessionStatusCount3InProgress CountingSessionStatus = "Count3InProgress"
	CountingSessionStatusPendingReview    CountingSessionStatus = "PendingReview"
	CountingSessionStatusFinalized        CountingSessionStatus = "Finalized"
)

func (s CountingSessionStatus) IsValid() bool {
	switch s {
	case CountingSessionStatusCount1InProgress, CountingSessionStatusCount2InProgress,
		CountingSessionStatusCount3InProgress, CountingSessionStatusPendingReview,
		CountingSessionStatusFinalized:
		return true
	}
	return false
}

func (s *CountingSessionStatus) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, s, "counting session status")
}

type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "Sequential"
	ExecutionModeParallel   ExecutionMode = "Parallel"
)

func (m ExecutionMode) IsValid() bool {
	return m == ExecutionModeSequential || m == ExecutionModeParallel
}

func (m *ExecutionMode) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, m, "execution mode")
}

type ResolutionMethod string

const (
	ResolutionMethodPending            ResolutionMethod = "Pending"
	ResolutionMethodAutoAllMatch       ResolutionMethod = "AutoAllMatch"
	ResolutionMethodAutoCountersAgree  ResolutionMethod = "AutoCountersAgree"
	ResolutionMethodThirdCountDecisive ResolutionMethod = "ThirdCountDecisive"
	ResolutionMethodManualOverride     ResolutionMethod = "ManualOverride"
)

func (m ResolutionMethod) IsValid() bool {
	switch m {
	case ResolutionMethodPending, ResolutionMethodAutoAllMatch, ResolutionMethodAutoCountersAgree,
		ResolutionMethodThirdCountDecisive, ResolutionMethodManualOverride:
		return true
	}
	return false
}

// IsAutomatic reports whether the method was decided without an administrator.
func (m ResolutionMethod) IsAutomatic() bool {
	return m == ResolutionMethodAutoAllMatch || m == ResolutionMethodAutoCountersAgree || m == ResolutionMethodThirdCountDecisive
}

func (m *ResolutionMethod) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, m, "resolution method")
}

type FlagReason string

const (
	FlagReasonNone                    FlagReason = "none"
	FlagReasonVarianceFromTheoretical FlagReason = "variance_from_theoretical"
	FlagReasonCriticalVariance        FlagReason = "critical_variance"
	FlagReasonCounterDisagreement     FlagReason = "counter_disagreement"
)

func (r FlagReason) IsValid() bool {
	switch r {
	case FlagReasonNone, FlagReasonVarianceFromTheoretical, FlagReasonCriticalVariance, FlagReasonCounterDisagreement:
		return true
	}
	return false
}

func (r *FlagReason) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, r, "flag reason")
}

type CountAssignmentStatus string

const (
	CountAssignmentStatusPending    CountAssignmentStatus = "Pending"
	CountAssignmentStatusInProgress CountAssignmentStatus = "InProgress"
	CountAssignmentStatusCompleted  CountAssignmentStatus = "Completed"
)

func (s CountAssignmentStatus) IsValid() bool {
	return s == CountAssignmentStatusPending || s == CountAssignmentStatusInProgress || s == CountAssignmentStatusCompleted
}

// IsOpen: the holder may still read and submit.
func (s CountAssignmentStatus) IsOpen() bool {
	return s == CountAssignmentStatusPending || s == CountAssignmentStatusInProgress
}

func (s *CountAssignmentStatus) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, s, "count assignment status")
}

type UserRole string

const (
	UserRoleAdmin   UserRole = "Admin"
	UserRoleCounter UserRole = "Counter"
)

func (r UserRole) IsValid() bool {
	return r == UserRoleAdmin || r == UserRoleCounter
}

func (r *UserRole) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, r, "user role")
}

// CountNumber is the count slot, 1..3.
type CountNumber int

const (
	CountNumberFirst  CountNumber = 1
	CountNumberSecond CountNumber = 2
	CountNumberThird  CountNumber = 3
)

func (n CountNumber) IsValid() bool {
	return n >= CountNumberFirst && n <= CountNumberThird
}

func (n *CountNumber) UnmarshalJSON(b []byte) error {
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return errors.New("count number must be an integer")
	}
	if !CountNumber(v).IsValid() {
		return fmt.Errorf("invalid count number %d", v)
	}
	*n = CountNumber(v)
	return nil
}

type validatable interface {
	~string
	IsValid() bool
}

func unmarshalEnum[T validatable](b []byte, dst *T, name string) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("%s must be string", name)
	}
	v := T(str)
	if !v.IsValid() {
		return fmt.Errorf("invalid %s %q", name, str)
	}
	*dst = v
	return nil
}
