package grade

import (
	"testing"
	"time"
)

func TestOrderingBoundaries(t *testing.T) {
	if !Permits(Highest, Lowest) {
		t.Fatal("grade '0' should permit everything down to 'z'")
	}
	if !Permits(Lowest, Lowest) {
		t.Fatal("grade 'z' should permit itself")
	}
	if Permits(Lowest, Highest) {
		t.Fatal("grade 'z' should not permit '0'")
	}
}

func TestRankOrderMatchesSpec(t *testing.T) {
	// 0..9 then A..Z then a..z, highest to lowest.
	if rank('0') != 0 {
		t.Fatalf("rank('0') = %d", rank('0'))
	}
	if rank('9') >= rank('A') {
		t.Fatal("'9' should outrank 'A'")
	}
	if rank('Z') >= rank('a') {
		t.Fatal("'Z' should outrank 'a'")
	}
}

func TestParseAndEvaluateTimetable(t *testing.T) {
	tt, err := Parse(`Wk1705-0755,Sa,SuC;30`)
	if err != nil {
		t.Fatal(err)
	}
	// A Tuesday at 20:00 falls in the weekday evening window.
	now := time.Date(2026, time.August, 4, 20, 0, 0, 0, time.UTC) // Tuesday
	g, retry, matched := tt.LowGrade(now)
	if !matched {
		t.Fatal("expected a match for a Tuesday evening")
	}
	if g != 'C' {
		t.Fatalf("grade = %c, want C", g)
	}
	if retry != 30*time.Minute {
		t.Fatalf("retry = %v, want 30m", retry)
	}

	// Noon on a Tuesday is outside the window and there is no catch-all
	// entry, so nothing matches.
	noon := time.Date(2026, time.August, 4, 12, 0, 0, 0, time.UTC)
	_, _, matched = tt.LowGrade(noon)
	if matched {
		t.Fatal("midday should not match an evening/weekend-only window")
	}
}

func TestMalformedEntry(t *testing.T) {
	if _, err := Parse("garbage"); err == nil {
		t.Fatal("expected a parse error")
	}
}
