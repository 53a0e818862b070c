// Package schedule holds the pure rules of the action queue: business-hours
// windows, execution gating, drain ordering and the action state machine.
// Nothing here reads the wall clock; callers pass now explicitly.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Location returns the agent's configured time zone, falling back to UTC.
func Location(cfg *models.AgentConfig) *time.Location {
	if cfg == nil || cfg.Settings.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(cfg.Settings.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsWithinWindow reports whether now, in the agent's local time, falls inside
// that weekday's business-hours window. Bounds are inclusive. A missing,
// disabled or malformed window rejects.
func IsWithinWindow(cfg *models.AgentConfig, now time.Time) bool {
	if cfg == nil {
		return false
	}
	local := now.In(Location(cfg))
	window, ok := cfg.Settings.BusinessHours[models.Weekdays[local.Weekday()]]
	if !ok || !window.Enabled {
		return false
	}
	start, err := ParseClock(window.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(window.End)
	if err != nil {
		return false
	}
	current := local.Hour()*60 + local.Minute()
	return current >= start && current <= end
}

// ValidateBusinessHours checks every configured window parses and is ordered.
func ValidateBusinessHours(hours map[string]models.BusinessWindow) error {
	known := make(map[string]bool, len(models.Weekdays))
	for _, d := range models.Weekdays {
		known[d] = true
	}
	var issues []string
	for day, w := range hours {
		if !known[day] {
			issues = append(issues, fmt.Sprintf("unknown weekday %q", day))
			continue
		}
		start, err := ParseClock(w.Start)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", day, err))
			continue
		}
		end, err := ParseClock(w.End)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", day, err))
			continue
		}
		if end < start {
			issues = append(issues, fmt.Sprintf("%s: end %s before start %s", day, w.End, w.Start))
		}
	}
	if len(issues) > 0 {
		sort.Strings(issues)
		return &models.ValidationError{Issues: issues}
	}
	return nil
}

// Gate decides whether a pending action may start now. It returns a
// *models.SchedulingError when the action must stay pending.
func Gate(cfg *models.AgentConfig, action *models.AgentAction, now time.Time) error {
	if action.ScheduledFor != nil && action.ScheduledFor.After(now) {
		return &models.SchedulingError{Reason: models.ReasonScheduledForLater}
	}
	if !IsWithinWindow(cfg, now) {
		return &models.SchedulingError{Reason: models.ReasonOutsideBusinessHours}
	}
	return nil
}

// Less orders actions for draining: priority, then creation time, then id.
func Less(a, b *models.AgentAction) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortByPriority sorts actions in place into drain order.
func SortByPriority(actions []models.AgentAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		return Less(&actions[i], &actions[j])
	})
}

// transitions is the action state machine.
var transitions = map[models.ActionStatus][]models.ActionStatus{
	models.ActionPending:    {models.ActionInProgress, models.ActionCancelled},
	models.ActionInProgress: {models.ActionCompleted, models.ActionFailed, models.ActionPending},
}

// CanTransition reports whether from → to is a legal move.
// in_progress → pending is the release path for attempts abandoned before dispatch.
func CanTransition(from, to models.ActionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Expired reports whether a pending action has been eligible for longer than
// maxAge. Eligibility starts at scheduledFor when set, else at creation.
// A zero maxAge never expires.
func Expired(action *models.AgentAction, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 || action.Status != models.ActionPending {
		return false
	}
	since := action.CreatedAt
	if action.ScheduledFor != nil && action.ScheduledFor.After(since) {
		since = *action.ScheduledFor
	}
	return now.Sub(since) > maxAge
}
