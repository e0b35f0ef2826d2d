package statusfile

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRetryWaitSchedule(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 600 * time.Second},
		{3, 1800 * time.Second},
	}
	for _, c := range cases {
		if got := RetryWait(c.attempts); got != c.want {
			t.Errorf("RetryWait(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestLockedOutAtDefaultMax(t *testing.T) {
	r := Record{Retries: DefaultMaxRetries}
	if !r.LockedOut(0) {
		t.Fatal("expected lockout at the default max retry count")
	}
	r.Retries = DefaultMaxRetries - 1
	if r.LockedOut(0) {
		t.Fatal("should not be locked out one attempt below the max")
	}
}

func TestStoreRoundTripsThroughDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.ini")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got := s.Get("venus")
	if got.Status != StatusComplete || got.Retries != 0 {
		t.Fatalf("Get on an unknown system should return the zero record, got %+v", got)
	}

	rec := s.RecordAttempt("venus", StatusDialFailed, 0)
	if rec.Retries != 1 {
		t.Fatalf("Retries = %d, want 1", rec.Retries)
	}
	if rec.WaitUntil.Sub(rec.LastAttempt) != RetryWait(1) {
		t.Fatalf("WaitUntil - LastAttempt = %v, want %v", rec.WaitUntil.Sub(rec.LastAttempt), RetryWait(1))
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got = reopened.Get("venus")
	if got.Status != StatusDialFailed || got.Retries != 1 {
		t.Fatalf("reopened record = %+v", got)
	}
}

func TestRecordAttemptResetsRetriesOnComplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.ini")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.RecordAttempt("mars", StatusFailed, 0)
	s.RecordAttempt("mars", StatusFailed, 0)
	rec := s.RecordAttempt("mars", StatusComplete, 0)
	if rec.Retries != 0 {
		t.Fatalf("Retries = %d, want 0 after a completed session", rec.Retries)
	}
}

func TestNextSequenceAdvancesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.ini")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.NextSequence("venus")
	if err != nil {
		t.Fatal(err)
	}
	if first != 0 {
		t.Fatalf("first sequence = %d, want 0", first)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := reopened.NextSequence("venus")
	if err != nil {
		t.Fatal(err)
	}
	if second != 1 {
		t.Fatalf("second sequence = %d, want 1", second)
	}
}

func TestRetryOverrideFromGradeTimetable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.ini")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	rec := s.RecordAttempt("venus", StatusFailed, 30*time.Minute)
	if rec.WaitUntil.Sub(rec.LastAttempt) != 30*time.Minute {
		t.Fatalf("override retry not honored: %v", rec.WaitUntil.Sub(rec.LastAttempt))
	}
}
