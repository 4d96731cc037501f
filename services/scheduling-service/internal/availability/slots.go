package availability

import (
	"sort"
	"time"

	"github.com/clinika/clinicsched/services/scheduling-service/internal/model"
)

// ExpandWindows tiles a provider's recurring windows for one day into
// fixed-length candidate slots.
//
// Only windows whose weekday matches the date are used. Within a window,
// slots start at the window start and step by slotDuration; a trailing
// remainder shorter than slotDuration is discarded. Results from all
// windows are deduplicated by interval and returned in chronological order,
// so overlapping windows cannot yield duplicate slots.
func ExpandWindows(date time.Time, windows []model.AvailabilityWindow, slotDuration time.Duration) []model.Slot {
	if slotDuration <= 0 {
		return nil
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	weekday := model.WeekdayIndex(day)

	var slots []model.Slot
	seen := map[time.Time]struct{}{}
	for _, w := range windows {
		if w.Weekday != weekday {
			continue
		}
		windowStart := day.Add(time.Duration(w.StartMinute) * time.Minute)
		windowEnd := day.Add(time.Duration(w.EndMinute) * time.Minute)
		for t := windowStart; !t.Add(slotDuration).After(windowEnd); t = t.Add(slotDuration) {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			slots = append(slots, model.Slot{
				Date:      day,
				StartTime: t,
				EndTime:   t.Add(slotDuration),
			})
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
	return slots
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Intervals that only touch at an endpoint do not
// overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Blocks reports whether an appointment still occupies its interval.
// Cancelled and completed appointments free their time for rebooking.
func Blocks(a model.Appointment) bool {
	return !a.Status.Terminal()
}

// IsFree reports whether no blocking appointment overlaps the candidate slot.
func IsFree(slot model.Slot, existing []model.Appointment) bool {
	for _, a := range existing {
		if !Blocks(a) {
			continue
		}
		if Overlaps(slot.StartTime, slot.EndTime, a.StartTime, a.EndTime) {
			return false
		}
	}
	return true
}
