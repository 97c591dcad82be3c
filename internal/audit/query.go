package audit

import "time"

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Filter selects audit entries for compliance queries. Zero-valued fields
// are ignored.
type Filter struct {
	UserID        string
	Since         time.Time
	Until         time.Time
	Action        string
	Decision      string
	PHIOnly       bool
	EmergencyOnly bool
	Limit         int
	Offset        int
}

// Normalize applies default and maximum limits in place.
func (f *Filter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
