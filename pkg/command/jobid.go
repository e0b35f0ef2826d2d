package command

import "github.com/rs/xid"

// JobID is the opaque handle (spec §3's pseq) a Command carries back to the
// spool layer. It is a sortable, collision-resistant id minted by rs/xid
// rather than a legacy spool-file-derived counter (spec.md Non-goals
// exclude reproducing legacy spool byte layout).
type JobID struct {
	id xid.ID
}

// NilJobID is the zero value, used for commands that do not (yet) map back
// to a queued spool job — e.g. a transfer created from an inbound peer
// command before the local spool layer has been consulted.
var NilJobID JobID

// NewJobID mints a fresh id.
func NewJobID() JobID {
	return JobID{id: xid.New()}
}

func (j JobID) String() string {
	if j.id.IsZero() {
		return ""
	}
	return j.id.String()
}

func (j JobID) IsZero() bool {
	return j.id.IsZero()
}

func (j JobID) Equal(other JobID) bool {
	return j.id.Compare(other.id) == 0
}
