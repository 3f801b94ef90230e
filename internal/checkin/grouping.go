package checkin

import (
	"log"
	"time"

	"checkin/internal/metrics"
)

// JoinedRecord is one row of the admin query: a check-in joined with its
// owner's name and role. The slice handed to Group is most-recent-first.
type JoinedRecord struct {
	CheckinID string
	UserID    string
	UserName  string
	UserRole  string
	PhotoPath string
	CreatedAt time.Time
}

// Entry is one check-in inside a day group.
type Entry struct {
	CheckinID string `json:"checkin_id"`
	PhotoPath string `json:"photo_path"`
	PhotoURL  string `json:"photo_url,omitempty"`
	CreatedAt string `json:"created_at"`
}

// DayGroup holds one local calendar day of a user's check-ins, newest first.
type DayGroup struct {
	Day     string  `json:"day"`
	Entries []Entry `json:"entries"`
}

// UserGroup holds one user's check-ins, days descending.
type UserGroup struct {
	UserID string     `json:"user_id"`
	Name   string     `json:"name"`
	Role   string     `json:"role,omitempty"`
	Days   []DayGroup `json:"days"`
}

// Group restructures a flat most-recent-first record list into per-user,
// per-day groups for the admin view. Users appear in first-appearance order
// of the input, which keeps the most recently active user on top; days are
// descending and entries within a day stay most-recent-first. The view is
// derived per render and never cached.
//
// A record with no usable created_at does not abort the pass: the current
// time stands in for that one record and the substitution is logged as a
// data-quality signal.
func Group(records []JoinedRecord, loc *time.Location, now func() time.Time) []UserGroup {
	groups := make([]UserGroup, 0, 8)
	index := make(map[string]int)

	for _, r := range records {
		created := r.CreatedAt
		if created.IsZero() {
			created = now()
			metrics.GroupingFallbacks.Inc()
			log.Printf("check-in %s has no created_at, substituting current time", r.CheckinID)
		}

		key := r.UserID
		if key == "" {
			// Should not happen while the user_id column is NOT NULL, but a
			// record must never vanish from the view; the object key encodes
			// its owner.
			key = ownerFromPath(r.PhotoPath)
		}

		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, UserGroup{UserID: key, Name: r.UserName, Role: r.UserRole})
		}

		day := created.In(loc).Format("2006-01-02")
		entry := Entry{
			CheckinID: r.CheckinID,
			PhotoPath: r.PhotoPath,
			CreatedAt: created.In(loc).Format(time.RFC3339Nano),
		}

		g := &groups[gi]
		if n := len(g.Days); n > 0 && g.Days[n-1].Day == day {
			g.Days[n-1].Entries = append(g.Days[n-1].Entries, entry)
		} else if di := dayIndex(g.Days, day); di >= 0 {
			g.Days[di].Entries = append(g.Days[di].Entries, entry)
		} else {
			g.Days = append(g.Days, DayGroup{Day: day, Entries: []Entry{entry}})
		}
	}

	return groups
}

func dayIndex(days []DayGroup, day string) int {
	for i := range days {
		if days[i].Day == day {
			return i
		}
	}
	return -1
}
