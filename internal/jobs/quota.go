package jobs

import "time"

const dayLayout = "2006-01-02"

// ApplyQuota is a per-user daily counter of automated apply attempts.
type ApplyQuota struct {
	UserID      string `json:"userId"`
	Count       int    `json:"count"`
	LimitPerDay int    `json:"limitPerDay"`
	ResetDate   string `json:"resetDate"`
}

// Day formats t as the quota day key.
func Day(t time.Time) string {
	return t.Format(dayLayout)
}

// Exhausted reports whether no attempts are left.
func (q ApplyQuota) Exhausted() bool {
	return q.Count >= q.LimitPerDay
}

func (q ApplyQuota) Remaining() int {
	if q.Count >= q.LimitPerDay {
		return 0
	}
	return q.LimitPerDay - q.Count
}

// Rollover resets the counter when now falls on a different day.
func (q ApplyQuota) Rollover(now time.Time) ApplyQuota {
	day := Day(now)
	if q.ResetDate != day {
		q.Count = 0
		q.ResetDate = day
	}
	return q
}
