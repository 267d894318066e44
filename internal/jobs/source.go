package jobs

import "time"

// SourceConfig describes one external source. It is owned by the source layer.
type SourceConfig struct {
	ID                 string        `json:"id"`
	Kind               SourceKind    `json:"kind"`
	RateLimitPerWindow int           `json:"rateLimitPerWindow"`
	Window             time.Duration `json:"window"`
	Burst              int           `json:"burst"`
	IsActive           bool          `json:"isActive"`
	LastCrawledAt      time.Time     `json:"lastCrawledAt"`
	JobsFound          int           `json:"jobsFound"`
}
