package pool

import (
	"context"
	"testing"
	"time"

	"github.com/adlib/coffee-chat/internal/matching"
)

// The same behaviour is required of every Pool implementation; each backend
// test file calls runPoolContract with its own constructor.

func testParticipant(username string, joined time.Time, d time.Duration) matching.Participant {
	return matching.Participant{
		Username:       username,
		Duration:       d,
		AvailableUntil: joined.Add(2 * time.Hour),
		Role:           "Engineer",
		ProductArea:    "Ads",
		Interests:      []string{"hiking", "go"},
		Preference:     matching.PreferenceAny,
		Status:         matching.StatusUnmatched,
		JoinedAt:       joined,
	}
}

func usernames(ps []matching.Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Username
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func runPoolContract(t *testing.T, newPool func(t *testing.T) Pool) {
	base := time.Now().Truncate(time.Millisecond)

	t.Run("CandidatesInArrivalOrder", func(t *testing.T) {
		p := newPool(t)
		ctx := context.Background()
		for i, name := range []string{"carol", "alice", "bob"} {
			if err := p.Add(ctx, testParticipant(name, base.Add(time.Duration(i)*time.Second), 30*time.Minute)); err != nil {
				t.Fatalf("Add %s: %v", name, err)
			}
		}
		got, err := p.Candidates(ctx, 30*time.Minute, 0)
		if err != nil {
			t.Fatalf("Candidates: %v", err)
		}
		if want := []string{"carol", "alice", "bob"}; !equalStrings(usernames(got), want) {
			t.Errorf("candidates = %v, want %v", usernames(got), want)
		}
	})

	t.Run("CandidatesFilterByDuration", func(t *testing.T) {
		p := newPool(t)
		ctx := context.Background()
		_ = p.Add(ctx, testParticipant("short", base, 15*time.Minute))
		_ = p.Add(ctx, testParticipant("exact", base.Add(time.Second), 30*time.Minute))
		_ = p.Add(ctx, testParticipant("long", base.Add(2*time.Second), 60*time.Minute))

		got, err := p.Candidates(ctx, 30*time.Minute, 0)
		if err != nil {
			t.Fatalf("Candidates: %v", err)
		}
		if want := []string{"exact"}; !equalStrings(usernames(got), want) {
			t.Errorf("exact candidates = %v, want %v", usernames(got), want)
		}

		got, err = p.Candidates(ctx, 30*time.Minute, 15*time.Minute)
		if err != nil {
			t.Fatalf("Candidates: %v", err)
		}
		if want := []string{"short", "exact"}; !equalStrings(usernames(got), want) {
			t.Errorf("tolerant candidates = %v, want %v", usernames(got), want)
		}
	})

	t.Run("GetRoundTrip", func(t *testing.T) {
		p := newPool(t)
		ctx := context.Background()
		in := testParticipant("dana", base, 30*time.Minute)
		if err := p.Add(ctx, in); err != nil {
			t.Fatalf("Add: %v", err)
		}
		got, err := p.Get(ctx, "dana")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got == nil {
			t.Fatal("expected participant, got nil")
		}
		if got.Duration != in.Duration || !got.AvailableUntil.Equal(in.AvailableUntil) || !got.JoinedAt.Equal(in.JoinedAt) {
			t.Errorf("times differ: got %+v", got)
		}
		if got.Role != in.Role || got.ProductArea != in.ProductArea || got.Preference != in.Preference {
			t.Errorf("fields differ: got %+v", got)
		}
		if !equalStrings(got.Interests, in.Interests) {
			t.Errorf("interests = %v, want %v", got.Interests, in.Interests)
		}

		missing, err := p.Get(ctx, "nobody")
		if err != nil {
			t.Fatalf("Get missing: %v", err)
		}
		if missing != nil {
			t.Errorf("expected nil for unknown user, got %+v", missing)
		}
	})

	t.Run("ClaimIsExclusive", func(t *testing.T) {
		p := newPool(t)
		ctx := context.Background()
		_ = p.Add(ctx, testParticipant("erin", base, 30*time.Minute))

		ok, err := p.Claim(ctx, "erin", "m1")
		if err != nil || !ok {
			t.Fatalf("first claim: ok=%v err=%v", ok, err)
		}
		ok, err = p.Claim(ctx, "erin", "m2")
		if err != nil {
			t.Fatalf("second claim: %v", err)
		}
		if ok {
			t.Error("second claim should fail")
		}

		got, _ := p.Get(ctx, "erin")
		if got == nil || got.Status != matching.StatusMatched || got.MatchID != "m1" {
			t.Errorf("claimed record = %+v", got)
		}
		cands, _ := p.Candidates(ctx, 30*time.Minute, 0)
		if len(cands) != 0 {
			t.Errorf("claimed participant still a candidate: %v", usernames(cands))
		}
		if n, _ := p.Size(ctx); n != 0 {
			t.Errorf("size = %d, want 0", n)
		}

		ok, err = p.Claim(ctx, "ghost", "m3")
		if err != nil || ok {
			t.Errorf("claim on unknown user: ok=%v err=%v", ok, err)
		}
	})

	t.Run("ReleaseRestoresCandidate", func(t *testing.T) {
		p := newPool(t)
		ctx := context.Background()
		_ = p.Add(ctx, testParticipant("fay", base, 30*time.Minute))
		_, _ = p.Claim(ctx, "fay", "m1")

		// A release under another match ID must not undo the claim.
		if err := p.Release(ctx, "fay", "other"); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if got, _ := p.Get(ctx, "fay"); got.Status != matching.StatusMatched {
			t.Fatalf("foreign release changed status to %s", got.Status)
		}

		if err := p.Release(ctx, "fay", "m1"); err != nil {
			t.Fatalf("Release: %v", err)
		}
		got, _ := p.Get(ctx, "fay")
		if got.Status != matching.StatusUnmatched || got.MatchID != "" {
			t.Errorf("released record = %+v", got)
		}
		cands, _ := p.Candidates(ctx, 30*time.Minute, 0)
		if !equalStrings(usernames(cands), []string{"fay"}) {
			t.Errorf("candidates after release = %v", usernames(cands))
		}
	})

	t.Run("AddMatchedIsNotCandidate", func(t *testing.T) {
		p := newPool(t)
		ctx := context.Background()
		in := testParticipant("gus", base, 30*time.Minute)
		in.Status = matching.StatusMatched
		in.MatchID = "m9"
		_ = p.Add(ctx, in)

		cands, _ := p.Candidates(ctx, 30*time.Minute, 0)
		if len(cands) != 0 {
			t.Errorf("matched participant offered as candidate")
		}
		got, _ := p.Get(ctx, "gus")
		if got == nil || got.MatchID != "m9" {
			t.Errorf("matched record = %+v", got)
		}
	})

	t.Run("RemoveWithdraws", func(t *testing.T) {
		p := newPool(t)
		ctx := context.Background()
		_ = p.Add(ctx, testParticipant("hal", base, 30*time.Minute))
		if err := p.Remove(ctx, "hal"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := p.Remove(ctx, "hal"); err != nil {
			t.Fatalf("second Remove: %v", err)
		}
		if got, _ := p.Get(ctx, "hal"); got != nil {
			t.Errorf("removed participant still stored: %+v", got)
		}
		if n, _ := p.Size(ctx); n != 0 {
			t.Errorf("size = %d, want 0", n)
		}
	})

	t.Run("WithdrawKeepsClaimed", func(t *testing.T) {
		p := newPool(t)
		ctx := context.Background()
		_ = p.Add(ctx, testParticipant("kim", base, 30*time.Minute))
		_ = p.Add(ctx, testParticipant("lou", base.Add(time.Second), 30*time.Minute))
		if ok, _ := p.Claim(ctx, "kim", "m-7"); !ok {
			t.Fatal("claim on kim should succeed")
		}

		ok, err := p.Withdraw(ctx, "kim")
		if err != nil {
			t.Fatalf("Withdraw kim: %v", err)
		}
		if ok {
			t.Error("withdraw of a claimed participant should report false")
		}
		got, _ := p.Get(ctx, "kim")
		if got == nil || got.Status != matching.StatusMatched || got.MatchID != "m-7" {
			t.Errorf("claimed entry changed: %+v", got)
		}

		ok, err = p.Withdraw(ctx, "lou")
		if err != nil || !ok {
			t.Fatalf("Withdraw lou = %v, %v; want true", ok, err)
		}
		if got, _ := p.Get(ctx, "lou"); got != nil {
			t.Errorf("withdrawn participant still stored: %+v", got)
		}
		if ok, _ := p.Withdraw(ctx, "nobody"); !ok {
			t.Error("withdraw of an unknown username should report true")
		}
		if n, _ := p.Size(ctx); n != 0 {
			t.Errorf("size = %d, want 0", n)
		}
	})

	t.Run("ExpireDropsLapsed", func(t *testing.T) {
		p := newPool(t)
		ctx := context.Background()
		early := testParticipant("ivy", base, 30*time.Minute)
		early.AvailableUntil = base.Add(10 * time.Minute)
		late := testParticipant("jon", base.Add(time.Second), 30*time.Minute)
		_ = p.Add(ctx, early)
		_ = p.Add(ctx, late)

		removed, err := p.Expire(ctx, base.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("Expire: %v", err)
		}
		if !equalStrings(removed, []string{"ivy"}) {
			t.Errorf("removed = %v, want [ivy]", removed)
		}
		if n, _ := p.Size(ctx); n != 1 {
			t.Errorf("size = %d, want 1", n)
		}
	})
}
