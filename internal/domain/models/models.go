package models

import "time"

// Message is one outbound SMS submitted by a client.
type Message struct {
	ID            string `json:"id,omitempty"`
	AccountNumber int    `json:"account_number" validate:"gt=0"`
	PhoneNumber   int    `json:"phone_number" validate:"gt=0"`
	Body          string `json:"message"`
}

// AdmissionSummary counts the outcome of one submitted batch. Rejected
// includes the Invalid messages that failed validation.
type AdmissionSummary struct {
	Admitted   int      `json:"admitted"`
	Rejected   int      `json:"rejected"`
	Invalid    int      `json:"invalid"`
	MessageIDs []string `json:"message_ids"`
}

type PhoneStats struct {
	PhoneNumber  int       `json:"phone_number"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// AccountStats aggregates delivery outcomes for one account. LastUpdated is
// never older than any of its PhoneStats.
type AccountStats struct {
	AccountNumber int                 `json:"account_number"`
	SuccessCount  int                 `json:"success_count"`
	FailureCount  int                 `json:"failure_count"`
	LastUpdated   time.Time           `json:"last_updated"`
	PhoneStats    map[int]*PhoneStats `json:"phone_stats"`
}

// Clone returns a deep copy.
func (a *AccountStats) Clone() AccountStats {
	c := *a
	c.PhoneStats = make(map[int]*PhoneStats, len(a.PhoneStats))
	for phone, ps := range a.PhoneStats {
		cp := *ps
		c.PhoneStats[phone] = &cp
	}

	return c
}

// StatsFilter narrows a stats query. Nil fields are not applied.
type StatsFilter struct {
	Phone   *int
	Account *int
	After   *time.Time
	Before  *time.Time
}

func (f StatsFilter) Match(a *AccountStats) bool {
	if f.Phone != nil {
		if _, ok := a.PhoneStats[*f.Phone]; !ok {
			return false
		}
	}
	if f.Account != nil && a.AccountNumber != *f.Account {
		return false
	}
	if f.After != nil && a.LastUpdated.Before(*f.After) {
		return false
	}
	if f.Before != nil && a.LastUpdated.After(*f.Before) {
		return false
	}

	return true
}
