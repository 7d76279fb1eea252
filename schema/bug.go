package schema

import "strings"

// BugStatus is a bug tracker status.
type BugStatus int

const (
	BugStatusUnknown BugStatus = iota
	BugStatusUnconfirmed
	BugStatusConfirmed
	BugStatusAssigned
	BugStatusReopened
	BugStatusResolved
	BugStatusNeedsInfo
	BugStatusVerified
	BugStatusClosed
)

var bugStatusNames = []string{
	"UNKNOWN", "UNCONFIRMED", "CONFIRMED", "ASSIGNED", "REOPENED",
	"RESOLVED", "NEEDSINFO", "VERIFIED", "CLOSED",
}

func (s BugStatus) String() string {
	if s < 0 || int(s) >= len(bugStatusNames) {
		return bugStatusNames[BugStatusUnknown]
	}
	return bugStatusNames[s]
}

// ParseBugStatus maps a tracker status name; unrecognized names are Unknown.
func ParseBugStatus(value string) BugStatus {
	return BugStatus(lookupName(bugStatusNames, value))
}

// MarshalText encodes the status name.
func (s BugStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name.
func (s *BugStatus) UnmarshalText(text []byte) error {
	*s = ParseBugStatus(string(text))
	return nil
}

// BugResolution is a bug tracker resolution. NONE is a known value meaning
// the bug is still open.
type BugResolution int

const (
	BugResolutionUnknown BugResolution = iota
	BugResolutionNone
	BugResolutionFixed
	BugResolutionInvalid
	BugResolutionWontFix
	BugResolutionLater
	BugResolutionRemind
	BugResolutionDuplicate
	BugResolutionWorksForMe
	BugResolutionMoved
	BugResolutionUpstream
	BugResolutionDownstream
	BugResolutionWaitingForInfo
	BugResolutionBacktrace
	BugResolutionUnmaintained
)

var bugResolutionNames = []string{
	"UNKNOWN", "NONE", "FIXED", "INVALID", "WONTFIX", "LATER", "REMIND",
	"DUPLICATE", "WORKSFORME", "MOVED", "UPSTREAM", "DOWNSTREAM",
	"WAITINGFORINFO", "BACKTRACE", "UNMAINTAINED",
}

func (r BugResolution) String() string {
	if r < 0 || int(r) >= len(bugResolutionNames) {
		return bugResolutionNames[BugResolutionUnknown]
	}
	return bugResolutionNames[r]
}

// ParseBugResolution maps a tracker resolution name. Bugzilla reports open
// bugs with an empty resolution, which is NONE.
func ParseBugResolution(value string) BugResolution {
	if strings.TrimSpace(value) == "" || strings.TrimSpace(value) == "---" {
		return BugResolutionNone
	}
	return BugResolution(lookupName(bugResolutionNames, value))
}

// MarshalText encodes the resolution name.
func (r BugResolution) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText decodes a resolution name.
func (r *BugResolution) UnmarshalText(text []byte) error {
	*r = ParseBugResolution(string(text))
	return nil
}

func lookupName(names []string, value string) int {
	value = strings.ToUpper(strings.TrimSpace(value))
	for i, name := range names {
		if name == value {
			return i
		}
	}
	return 0
}

// Bug is the part of a tracker bug the duplicate finder needs.
type Bug struct {
	ID         int           `json:"id" yaml:"id"`
	Status     BugStatus     `json:"status" yaml:"status"`
	Resolution BugResolution `json:"resolution" yaml:"resolution"`
	// DupeOf is the bug this one duplicates, zero when not a duplicate.
	DupeOf int `json:"dupe_of,omitempty" yaml:"dupe_of,omitempty"`
}
