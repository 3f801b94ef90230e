package checkin

import (
	"fmt"
	"regexp"
	"time"
)

// ObjectPath derives the storage key for one check-in photo:
//
//	{user_id}/{YYYY-MM-DD}/{HHMMSSffffff}.jpg
//
// ts must already be in the display timezone. Lexicographic order within a
// day equals chronological order, and the microsecond suffix keeps two
// submissions by the same user from colliding. The key encodes owner and
// day on its own, so it doubles as a display fallback when a user lookup
// fails.
func ObjectPath(userID string, ts time.Time) string {
	return fmt.Sprintf("%s/%s/%s%06d.jpg",
		userID,
		ts.Format("2006-01-02"),
		ts.Format("150405"),
		ts.Nanosecond()/1000,
	)
}

var pathPattern = regexp.MustCompile(`^[^/]+/\d{4}-\d{2}-\d{2}/\d{12}\.jpg$`)

// IsObjectPath reports whether key follows the current path scheme. Keys
// that predate it are candidates for the maintenance migration.
func IsObjectPath(key string) bool {
	return pathPattern.MatchString(key)
}

// ownerFromPath recovers the user segment of an object key.
func ownerFromPath(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return path
}
