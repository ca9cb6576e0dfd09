package model

import "time"

// RateLimitInfo is the best-effort view of the remote API quota. Bitbucket
// only reports the ceiling and a near-limit flag, so Remaining is an estimate.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetTime time.Time
	Resource  string
	NearLimit bool
}
