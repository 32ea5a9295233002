package rules_test

import (
	"testing"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/circulation/internal/rules"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestRules_OverdueFine(t *testing.T) {
	t.Parallel()
	r := rules.New(rules.Config{FinePerDay: 1.0, GracePeriod: day, MaxFineAmount: 200.0})

	tests := []struct {
		name     string
		returned time.Time
		want     float64
	}{
		{name: "before due", returned: t0.Add(-day), want: 0},
		{name: "on due", returned: t0, want: 0},
		{name: "inside grace", returned: t0.Add(day), want: 0},
		{name: "partial day after grace", returned: t0.Add(day + time.Hour), want: 0},
		{name: "three days late", returned: t0.Add(3 * day), want: 2.0},
		{name: "capped", returned: t0.Add(250 * day), want: 200.0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tt.want, r.OverdueFine(t0, tt.returned), 1e-9)
		})
	}
}

func TestRules_DueAndRenewal(t *testing.T) {
	t.Parallel()
	r := rules.New(rules.DefaultConfig())

	require.Equal(t, t0.Add(14*day), r.DueTime(t0))
	require.Equal(t, t0.Add(28*day), r.RenewedDueTime(r.DueTime(t0)))

	require.True(t, r.RenewalEligible(model.Loan{Status: model.LoanBorrowed, RenewalCount: 1}))
	require.False(t, r.RenewalEligible(model.Loan{Status: model.LoanBorrowed, RenewalCount: 2}))
	require.False(t, r.RenewalEligible(model.Loan{Status: model.LoanOverdue}))
}

func TestRules_PenaltyAndBlock(t *testing.T) {
	t.Parallel()
	r := rules.New(rules.DefaultConfig())

	require.Equal(t, 50.0, r.Penalty(model.ReturnLost))
	require.Equal(t, 20.0, r.Penalty(model.ReturnDamaged))
	require.Equal(t, 0.0, r.Penalty(model.ReturnNormal))

	require.False(t, r.ShouldBlock(99.99))
	require.True(t, r.ShouldBlock(100))
	require.True(t, r.ShouldBlock(150))
}

func TestRules_HoldExpired(t *testing.T) {
	t.Parallel()
	r := rules.New(rules.DefaultConfig())

	require.Equal(t, t0.Add(3*day), r.HoldExpiry(t0))
	require.False(t, r.HoldExpired(t0, t0.Add(3*day)))
	require.True(t, r.HoldExpired(t0, t0.Add(3*day+time.Second)))
}
