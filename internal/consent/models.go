package consent

import (
	"maps"
	"time"
)

// DefaultRetention applies when a record is first saved without an explicit
// retention period.
const DefaultRetention = 365 * 24 * time.Hour

// Record is the persisted consent triple: category flags, absolute expiry and
// the configuration version the flags were given under.
type Record struct {
	Flags     map[string]bool
	ExpiresAt time.Time
	Version   string
}

// IsValid returns true when the record has not expired and was saved under
// the given configuration version.
func (r Record) IsValid(now time.Time, version string) bool {
	return now.Before(r.ExpiresAt) && r.Version == version
}

// IsExpired returns true once now reaches the record's expiry.
func (r Record) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Clone returns a deep copy so callers never share the flag map with a backend.
func (r Record) Clone() Record {
	out := r
	out.Flags = cloneFlags(r.Flags)
	return out
}

func cloneFlags(flags map[string]bool) map[string]bool {
	if flags == nil {
		return map[string]bool{}
	}
	return maps.Clone(flags)
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
