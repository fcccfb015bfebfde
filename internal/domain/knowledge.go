package domain

import (
	"context"
	"fmt"
	"time"
)

// QuotaPeriod is the calendar window token usage is capped over
type QuotaPeriod string

const (
	QuotaDaily   QuotaPeriod = "daily"
	QuotaMonthly QuotaPeriod = "monthly"
)

// ParseQuotaPeriod validates a configured period name
func ParseQuotaPeriod(s string) (QuotaPeriod, error) {
	switch p := QuotaPeriod(s); p {
	case QuotaDaily, QuotaMonthly:
		return p, nil
	}
	return "", fmt.Errorf("unknown quota period %q", s)
}

// Start returns the beginning of the window containing now, in UTC
func (p QuotaPeriod) Start(now time.Time) time.Time {
	now = now.UTC()
	if p == QuotaMonthly {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// QuotaStatus is a user's token consumption within one period
type QuotaStatus struct {
	Period    QuotaPeriod `json:"period"`
	Limit     int64       `json:"limit"`
	Used      int64       `json:"used"`
	Remaining int64       `json:"remaining"`
	OverQuota bool        `json:"over_quota"`
}

// NewQuotaStatus derives remaining budget and the over-quota flag.
// A non-positive limit means unlimited.
func NewQuotaStatus(period QuotaPeriod, limit, used int64) *QuotaStatus {
	s := &QuotaStatus{Period: period, Limit: limit, Used: used}
	if limit <= 0 {
		s.Remaining = -1
		return s
	}
	s.Remaining = max(limit-used, 0)
	s.OverQuota = used >= limit
	return s
}

// QuotaLimits holds the token cap of each period; non-positive means unlimited
type QuotaLimits struct {
	Daily   int64
	Monthly int64
}

// For returns the cap of period
func (l QuotaLimits) For(period QuotaPeriod) int64 {
	if period == QuotaMonthly {
		return l.Monthly
	}
	return l.Daily
}

// KnowledgeBase persists conversation history and token usage
type KnowledgeBase interface {
	// GetMessages returns up to limit most recent messages, oldest first
	GetMessages(ctx context.Context, sessionID string, limit int) ([]RawMessage, error)
	AppendMessage(ctx context.Context, msg NewMessage) error
	CheckQuota(ctx context.Context, userID string, period QuotaPeriod) (*QuotaStatus, error)
	RecordUsage(ctx context.Context, userID string, tokens int, metadata map[string]any) error
}
