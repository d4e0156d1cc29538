package apns

import "time"

// DefaultExpiration is used when a message carries no TTL.
const DefaultExpiration = 24 * time.Hour

// ResolveExpiration turns a relative TTL in seconds into the absolute
// apns-expiration of a notification. A negative TTL selects DefaultExpiration.
func ResolveExpiration(ttlSeconds int, now time.Time) time.Time {
	if ttlSeconds < 0 {
		return now.Add(DefaultExpiration)
	}
	return now.Add(time.Duration(ttlSeconds) * time.Second)
}
