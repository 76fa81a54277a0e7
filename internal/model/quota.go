package model

import "time"

// QuotaDayFormat is the calendar-day key a quota counter applies to.
const QuotaDayFormat = "2006-01-02"

// QuotaRecord is the per-identity daily usage counter. A ceiling of zero
// means unlimited. Records are created lazily on first use and roll over in
// place at the day boundary; they are never deleted by normal operation.
type QuotaRecord struct {
	Identity    string    `json:"identity" db:"identity"`
	Label       string    `json:"label" db:"label"`
	DailyLimit  int       `json:"daily_limit" db:"daily_limit"`
	Day         string    `json:"day" db:"day"` // QuotaDayFormat
	Used        int       `json:"used" db:"used"`
	LastResetAt time.Time `json:"last_reset_at" db:"last_reset_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// QuotaStatus is the result of a limit check.
type QuotaStatus struct {
	Allowed   bool `json:"allowed"`
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"` // -1 when the limit is unlimited
}
