// Package statusfile persists, per remote system, the one place retry
// counts and next-retry times live (spec §5's "shared resources" note):
// an INI-backed Record keyed by system name, written once per session-
// state transition.
package statusfile

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Status is the session outcome enum, 0..7, matching Taylor UUCP's
// STATUS_COMPLETE..STATUS_WRONG_TIME ordering (spec §6).
type Status int

const (
	StatusComplete Status = iota
	StatusPortFailed
	StatusDialFailed
	StatusLoginFailed
	StatusHandshakeFailed
	StatusFailed
	StatusTalking
	StatusWrongTime
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "COMPLETE"
	case StatusPortFailed:
		return "PORT_FAILED"
	case StatusDialFailed:
		return "DIAL_FAILED"
	case StatusLoginFailed:
		return "LOGIN_FAILED"
	case StatusHandshakeFailed:
		return "HANDSHAKE_FAILED"
	case StatusFailed:
		return "FAILED"
	case StatusTalking:
		return "TALKING"
	case StatusWrongTime:
		return "WRONG_TIME"
	default:
		return "UNKNOWN"
	}
}

// DefaultMaxRetries is the lockout threshold spec §6 names: "after max
// retries (default 26) the system is locked out until an operator removes
// the status file."
const DefaultMaxRetries = 26

// baseRetryInterval is the spec §7 "n x 600s" schedule's unit.
const baseRetryInterval = 600 * time.Second

// Record is one remote system's persisted state.
type Record struct {
	Status      Status
	Retries     int
	LastAttempt time.Time
	WaitUntil   time.Time
	// Sequence is the supplemented -Q replay counter (SPEC_FULL.md §10):
	// the next sequence number this system's caller must present, and
	// the next one we hand out when called.
	Sequence int
}

// LockedOut reports whether Retries has reached maxRetries, requiring an
// operator to clear the record before this system may be tried again.
func (r Record) LockedOut(maxRetries int) bool {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return r.Retries >= maxRetries
}

// RetryWait implements spec §7's default retry schedule: n attempts wait
// n*600s, uncapped. A grade timetable's ";retry-minutes" suffix overrides
// this (see pkg/grade.Entry.Retry) and should be preferred by the caller
// when present.
func RetryWait(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	return time.Duration(attempts) * baseRetryInterval
}

// Store reads and writes Records as sections of one INI file, one section
// per remote system name, following the teacher's EDS-file convention of
// one ini.File keyed by named sections.
type Store struct {
	path string
	file *ini.File
}

// Open loads path if it exists, or starts an empty store if it does not
// (ini.LooseLoad tolerates a missing file, matching "no status file yet"
// for a system never before contacted).
func Open(path string) (*Store, error) {
	f, err := ini.LooseLoad(path)
	if err != nil {
		return nil, fmt.Errorf("statusfile: load %s: %w", path, err)
	}
	return &Store{path: path, file: f}, nil
}

// Get returns system's Record, or the zero Record (StatusComplete, no
// retries) if no section exists yet.
func (s *Store) Get(system string) Record {
	if !s.file.HasSection(system) {
		return Record{}
	}
	sec := s.file.Section(system)
	var r Record
	if v, err := sec.GetKey("status"); err == nil {
		n, _ := v.Int()
		r.Status = Status(n)
	}
	if v, err := sec.GetKey("retries"); err == nil {
		r.Retries, _ = v.Int()
	}
	if v, err := sec.GetKey("last_attempt"); err == nil {
		r.LastAttempt, _ = time.Parse(time.RFC3339, v.String())
	}
	if v, err := sec.GetKey("wait_until"); err == nil {
		r.WaitUntil, _ = time.Parse(time.RFC3339, v.String())
	}
	if v, err := sec.GetKey("sequence"); err == nil {
		r.Sequence, _ = v.Int()
	}
	return r
}

// Put writes system's Record into the in-memory ini.File; call Save to
// persist it.
func (s *Store) Put(system string, r Record) error {
	sec, err := s.file.NewSection(system)
	if err != nil {
		sec = s.file.Section(system)
	}
	sec.Key("status").SetValue(fmt.Sprintf("%d", int(r.Status)))
	sec.Key("retries").SetValue(fmt.Sprintf("%d", r.Retries))
	sec.Key("last_attempt").SetValue(r.LastAttempt.Format(time.RFC3339))
	sec.Key("wait_until").SetValue(r.WaitUntil.Format(time.RFC3339))
	sec.Key("sequence").SetValue(fmt.Sprintf("%d", r.Sequence))
	return nil
}

// NextSequence returns system's current Sequence and advances it by one,
// persisting the bump immediately so a crash between dialogues cannot
// replay the same number.
func (s *Store) NextSequence(system string) (int, error) {
	r := s.Get(system)
	n := r.Sequence
	r.Sequence++
	if err := s.Put(system, r); err != nil {
		return 0, err
	}
	return n, s.Save()
}

// Save writes the accumulated state to disk.
func (s *Store) Save() error {
	return s.file.SaveTo(s.path)
}

// RecordAttempt updates system's Record after one session attempt,
// advancing Retries and WaitUntil per RetryWait (or override if nonzero),
// and resetting Retries to zero on StatusComplete.
func (s *Store) RecordAttempt(system string, status Status, override time.Duration) Record {
	r := s.Get(system)
	r.Status = status
	r.LastAttempt = time.Now()
	if status == StatusComplete {
		r.Retries = 0
		r.WaitUntil = time.Time{}
	} else {
		r.Retries++
		wait := override
		if wait == 0 {
			wait = RetryWait(r.Retries)
		}
		r.WaitUntil = r.LastAttempt.Add(wait)
	}
	s.Put(system, r)
	return r
}
