package checkin

import (
	"context"
	"fmt"
	"time"
)

// Policy decides whether a prior check-in blocks a new one. Exactly one
// policy is active per deployment, selected by configuration.
type Policy interface {
	Name() string
	// Since returns the earliest instant of prior check-ins worth fetching
	// for a decision at now.
	Since(now time.Time) time.Time
	// Blocks reports whether a prior check-in at prev blocks a new one at
	// now, and if so when the next attempt becomes admissible. prev and now
	// are in the display timezone.
	Blocks(prev, now time.Time) (bool, time.Time)
}

// CooldownPolicy rejects a check-in while the user's last one is strictly
// younger than the configured window. A check-in exactly one window old is
// admissible again.
type CooldownPolicy struct {
	Cooldown time.Duration
}

func (p CooldownPolicy) Name() string { return "cooldown" }

func (p CooldownPolicy) Since(now time.Time) time.Time {
	return now.Add(-p.Cooldown)
}

func (p CooldownPolicy) Blocks(prev, now time.Time) (bool, time.Time) {
	if now.Sub(prev) < p.Cooldown {
		return true, prev.Add(p.Cooldown)
	}
	return false, time.Time{}
}

// DailyPolicy rejects more than one check-in per local calendar day.
type DailyPolicy struct {
	Loc *time.Location
}

func (p DailyPolicy) Name() string { return "daily" }

func (p DailyPolicy) Since(now time.Time) time.Time {
	local := now.In(p.Loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Loc)
}

func (p DailyPolicy) Blocks(prev, now time.Time) (bool, time.Time) {
	pl, nl := prev.In(p.Loc), now.In(p.Loc)
	py, pm, pd := pl.Date()
	ny, nm, nd := nl.Date()
	if py == ny && pm == nm && pd == nd {
		midnight := time.Date(ny, nm, nd, 0, 0, 0, 0, p.Loc).AddDate(0, 0, 1)
		return true, midnight
	}
	return false, time.Time{}
}

// PolicyFromConfig maps the configured policy name to a Policy value.
func PolicyFromConfig(name string, cooldown time.Duration, loc *time.Location) Policy {
	if name == "daily" {
		return DailyPolicy{Loc: loc}
	}
	return CooldownPolicy{Cooldown: cooldown}
}

// DuplicateError is a check-in rejected by the active policy.
type DuplicateError struct {
	Policy  string
	RetryAt time.Time
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate check-in rejected by %s policy, next allowed at %s", e.Policy, e.RetryAt.Format(time.RFC3339))
}

// RecentReader fetches prior check-in times for one user.
type RecentReader interface {
	CheckinsSince(ctx context.Context, userID string, since time.Time) ([]time.Time, error)
}

// Guard gates new check-ins against the active policy. It only reads; the
// insert happens after the caller's own confirmation, so two devices racing
// for the same user can both pass. That window is accepted, not locked away.
type Guard struct {
	policy Policy
	repo   RecentReader
	loc    *time.Location
}

// NewGuard creates a guard over prior check-ins.
func NewGuard(policy Policy, repo RecentReader, loc *time.Location) *Guard {
	return &Guard{policy: policy, repo: repo, loc: loc}
}

// Check returns nil when a check-in for userID at now is admissible, or a
// *DuplicateError when a prior check-in blocks it.
func (g *Guard) Check(ctx context.Context, userID string, now time.Time) error {
	local := now.In(g.loc)
	prior, err := g.repo.CheckinsSince(ctx, userID, g.policy.Since(local))
	if err != nil {
		return fmt.Errorf("guard: query prior check-ins: %w", err)
	}
	for _, prev := range prior {
		if blocked, retryAt := g.policy.Blocks(prev.In(g.loc), local); blocked {
			return &DuplicateError{Policy: g.policy.Name(), RetryAt: retryAt}
		}
	}
	return nil
}
