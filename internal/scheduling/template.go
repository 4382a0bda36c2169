package scheduling

import (
	"sort"
	"time"
)

// DefaultBuckets is the template used to auto-materialize slots the first
// time a (hospital, date) is queried with no existing records.
var DefaultBuckets = []string{
	"09:00 AM", "09:30 AM", "10:00 AM", "10:30 AM", "11:00 AM", "11:30 AM",
	"02:00 PM", "02:30 PM", "03:00 PM", "03:30 PM", "04:00 PM", "04:30 PM", "05:00 PM",
}

const bucketLayout = "03:04 PM"

// ParseBucket validates a time-slot label like "09:00 AM".
func ParseBucket(label string) (time.Time, bool) {
	t, err := time.Parse(bucketLayout, label)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SortBuckets orders time-slot labels chronologically. Labels that fail to
// parse sort last, alphabetically.
func SortBuckets(labels []string) {
	sort.Slice(labels, func(i, j int) bool {
		ti, okI := ParseBucket(labels[i])
		tj, okJ := ParseBucket(labels[j])
		if okI != okJ {
			return okI
		}
		if !okI {
			return labels[i] < labels[j]
		}
		return ti.Before(tj)
	})
}
