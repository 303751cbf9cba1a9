package service

import (
	"time"

	"github.com/stemsi/exstem-attempts/internal/model"
)

// Clock returns the server's current time. The server clock is the only authority on expiry.
type Clock func() time.Time

// TimeKeeper answers window and deadline questions for attempts.
type TimeKeeper struct {
	now Clock
}

// NewTimeKeeper creates a TimeKeeper. A nil clock uses time.Now.
func NewTimeKeeper(now Clock) *TimeKeeper {
	if now == nil {
		now = time.Now
	}
	return &TimeKeeper{now: now}
}

// Now returns the current server time.
func (t *TimeKeeper) Now() time.Time {
	return t.now()
}

// Remaining is max(0, duration - elapsed since start). An attempt that never started has
// its full duration left.
func (t *TimeKeeper) Remaining(a *model.Attempt, exam *model.Exam) time.Duration {
	if a.StartedAt == nil {
		return exam.Duration()
	}
	left := exam.Duration() - t.now().Sub(*a.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// IsExpired is true once the exam window has ended or the attempt's time is used up.
func (t *TimeKeeper) IsExpired(a *model.Attempt, exam *model.Exam) bool {
	if t.now().After(exam.EndAt) {
		return true
	}
	return a.StartedAt != nil && t.Remaining(a, exam) == 0
}

// CheckWindow refuses entry before the exam opens or after it closes.
func (t *TimeKeeper) CheckWindow(exam *model.Exam) error {
	now := t.now()
	if now.Before(exam.StartAt) {
		return ErrWindowClosed
	}
	if now.After(exam.EndAt) {
		return ErrWindowClosed
	}
	return nil
}
