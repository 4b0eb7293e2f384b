package opid

import "fmt"

// UnknownTerm is the sentinel returned by queries for which no term applies,
// e.g. the leader term of a node that is not a ready leader.
const UnknownTerm int64 = -1

// OpId identifies a position in the replicated log as a (term, index) pair.
// Within a term the index grows strictly; across terms only entries from the
// currently recognized term may be appended at the tail.
type OpId struct {
	Term  int64 `json:"term"`
	Index int64 `json:"index"`
}

// Minimum is the well-known lower bound. It compares less than or equal to
// every real OpId and marks "nothing received/committed yet".
var Minimum = OpId{Term: 0, Index: 0}

// Compare orders OpIds by term first, then index. It returns a negative
// value when o < other, zero when equal, positive when o > other.
func (o OpId) Compare(other OpId) int {
	if o.Term != other.Term {
		if o.Term < other.Term {
			return -1
		}
		return 1
	}
	switch {
	case o.Index < other.Index:
		return -1
	case o.Index > other.Index:
		return 1
	}
	return 0
}

// Less reports whether o orders strictly before other.
func (o OpId) Less(other OpId) bool { return o.Compare(other) < 0 }

// EqualTo reports whether both positions are identical.
func (o OpId) EqualTo(other OpId) bool { return o == other }

// Empty reports whether o is the Minimum sentinel.
func (o OpId) Empty() bool { return o == Minimum }

func (o OpId) String() string { return fmt.Sprintf("%d.%d", o.Term, o.Index) }
