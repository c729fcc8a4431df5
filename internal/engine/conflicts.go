package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"stayops/internal/domain"
)

// ConflictThreshold is the minimum gap between two missions of one assignee.
const ConflictThreshold = 2 * time.Hour

var ErrInvalidWindow = errors.New("end date is before start date")

// DetectConflicts reports every pair of missions assigned to the same member
// less than ConflictThreshold apart, scheduled between startDate 00:00:00 and
// endDate 23:59:59 in the operating time zone. It never writes.
func (e Engine) DetectConflicts(ctx context.Context, orgID string, startDate, endDate time.Time) ([]domain.Conflict, error) {
	loc := e.loc()
	from := dateOf(startDate, loc)
	end := dateOf(endDate, loc)
	to := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, loc)
	if end.Before(from) {
		return nil, ErrInvalidWindow
	}
	missions, err := e.Repo.AssignedMissionsBetween(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]domain.Mission)
	var assignees []string
	for _, m := range missions {
		if m.AssignedTo == nil {
			continue
		}
		id := *m.AssignedTo
		if _, ok := groups[id]; !ok {
			assignees = append(assignees, id)
		}
		groups[id] = append(groups[id], m)
	}
	if len(assignees) == 0 {
		return []domain.Conflict{}, nil
	}
	members, err := e.Repo.MembersByIDs(ctx, orgID, assignees)
	if err != nil {
		return nil, err
	}

	conflicts := FindConflicts(groups, func(id string) string {
		if m, ok := members[id]; ok {
			return m.Name()
		}
		return id
	}, loc)
	return conflicts, nil
}

// FindConflicts pairs missions within each assignee group. name resolves an
// assignee id to a display name.
func FindConflicts(groups map[string][]domain.Mission, name func(string) string, loc *time.Location) []domain.Conflict {
	seen := make(map[string]struct{})
	out := []domain.Conflict{}
	for assignee, ms := range groups {
		if len(ms) < 2 {
			continue
		}
		for i := 0; i < len(ms); i++ {
			for j := i + 1; j < len(ms); j++ {
				a, b := ms[i], ms[j]
				if a.ID == b.ID {
					continue
				}
				gap := a.ScheduledAt.Sub(b.ScheduledAt)
				if gap < 0 {
					gap = -gap
				}
				if gap >= ConflictThreshold {
					continue
				}
				if b.ScheduledAt.Before(a.ScheduledAt) || (b.ScheduledAt.Equal(a.ScheduledAt) && b.ID < a.ID) {
					a, b = b, a
				}
				key := pairKey(a.ID, b.ID)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, domain.Conflict{
					MissionAID:   a.ID,
					MissionBID:   b.ID,
					MissionAType: a.Type,
					MissionBType: b.Type,
					MissionAAt:   a.ScheduledAt,
					MissionBAt:   b.ScheduledAt,
					AssigneeID:   assignee,
					AssigneeName: name(assignee),
					DateLabel:    dateLabel(a.ScheduledAt, b.ScheduledAt, loc),
					GapMinutes:   int(gap / time.Minute),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MissionAAt.Equal(out[j].MissionAAt) {
			return out[i].MissionAAt.Before(out[j].MissionAAt)
		}
		if out[i].MissionAID != out[j].MissionAID {
			return out[i].MissionAID < out[j].MissionAID
		}
		return out[i].MissionBID < out[j].MissionBID
	})
	return out
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// dateLabel renders e.g. "Mon 10 Mar 2025, 09:00 and 10:30".
func dateLabel(a, b time.Time, loc *time.Location) string {
	a, b = a.In(loc), b.In(loc)
	if sameDate(a, b, loc) {
		return a.Format("Mon 02 Jan 2006, 15:04") + " and " + b.Format("15:04")
	}
	return a.Format("Mon 02 Jan 2006 15:04") + " and " + b.Format("Mon 02 Jan 2006 15:04")
}
