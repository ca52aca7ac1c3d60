package enums

import "testing"

func TestTierCreditLimits(t *testing.T) {
	cases := map[Tier]int{
		TierFree:       60,
		TierBasic:      300,
		TierPro:        1200,
		TierEnterprise: 6000,
		Tier("gold"):   60,
	}
	for tier, want := range cases {
		if got := tier.CreditLimit(); got != want {
			t.Fatalf("tier %q expected limit %d got %d", tier, want, got)
		}
	}
	if TierFree.Paid() {
		t.Fatal("free tier is not paid")
	}
	if !TierPro.Paid() {
		t.Fatal("pro tier is paid")
	}
	if _, err := ParseTier("gold"); err == nil {
		t.Fatal("expected unknown tier to fail")
	}
}

func TestJobStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to JobStatus }{
		{JobStatusQueued, JobStatusTranscribing},
		{JobStatusTranscribing, JobStatusSummarizing},
		{JobStatusSummarizing, JobStatusCompleted},
		{JobStatusQueued, JobStatusFailed},
		{JobStatusTranscribing, JobStatusFailed},
		{JobStatusSummarizing, JobStatusFailed},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to JobStatus }{
		{JobStatusQueued, JobStatusSummarizing},
		{JobStatusQueued, JobStatusCompleted},
		{JobStatusCompleted, JobStatusFailed},
		{JobStatusFailed, JobStatusQueued},
		{JobStatusSummarizing, JobStatusTranscribing},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestAccountStatusParse(t *testing.T) {
	status, err := ParseAccountStatus("past_due")
	if err != nil || status != AccountStatusPastDue {
		t.Fatalf("unexpected parse result %q err=%v", status, err)
	}
	if AccountStatus("frozen").IsValid() {
		t.Fatal("unknown status should be invalid")
	}
}

func TestReservationSettled(t *testing.T) {
	if ReservationHeld.Settled() {
		t.Fatal("held reservation is not settled")
	}
	if !ReservationConsumed.Settled() || !ReservationReleased.Settled() {
		t.Fatal("consumed and released reservations are settled")
	}
}
