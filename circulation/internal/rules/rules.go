// Package rules holds the configuration-driven circulation policy: due dates,
// renewals, fines, blocking and hold expiry. Every function is pure.
package rules

import (
	"math"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/model"
)

const day = 24 * time.Hour

type Config struct {
	MaxLoanPeriod      time.Duration `yaml:"maxLoanPeriod" envconfig:"RULES_MAX_LOAN_PERIOD" default:"336h"`
	MaxRenewalCount    int           `yaml:"maxRenewalCount" envconfig:"RULES_MAX_RENEWAL_COUNT" default:"2"`
	RenewalPeriod      time.Duration `yaml:"renewalPeriod" envconfig:"RULES_RENEWAL_PERIOD" default:"336h"`
	MaxLoansPerMember  int           `yaml:"maxLoansPerMember" envconfig:"RULES_MAX_LOANS_PER_MEMBER" default:"5"`
	MaxHoldsPerMember  int           `yaml:"maxHoldsPerMember" envconfig:"RULES_MAX_HOLDS_PER_MEMBER" default:"5"`
	MaxReservationHold time.Duration `yaml:"maxReservationHold" envconfig:"RULES_MAX_RESERVATION_HOLD" default:"72h"`
	FinePerDay         float64       `yaml:"finePerDay" envconfig:"RULES_FINE_PER_DAY" default:"1.0"`
	GracePeriod        time.Duration `yaml:"gracePeriod" envconfig:"RULES_GRACE_PERIOD" default:"24h"`
	MaxFineAmount      float64       `yaml:"maxFineAmount" envconfig:"RULES_MAX_FINE_AMOUNT" default:"200.0"`
	LostBookPenalty    float64       `yaml:"lostBookPenalty" envconfig:"RULES_LOST_BOOK_PENALTY" default:"50.0"`
	DamagedBookPenalty float64       `yaml:"damagedBookPenalty" envconfig:"RULES_DAMAGED_BOOK_PENALTY" default:"20.0"`
	BlockThreshold     float64       `yaml:"blockThreshold" envconfig:"RULES_BLOCK_THRESHOLD" default:"100.0"`
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		MaxLoanPeriod:      14 * day,
		MaxRenewalCount:    2,
		RenewalPeriod:      14 * day,
		MaxLoansPerMember:  5,
		MaxHoldsPerMember:  5,
		MaxReservationHold: 3 * day,
		FinePerDay:         1.0,
		GracePeriod:        day,
		MaxFineAmount:      200.0,
		LostBookPenalty:    50.0,
		DamagedBookPenalty: 20.0,
		BlockThreshold:     100.0,
	}
}

type Rules struct {
	cfg Config
}

func New(cfg Config) Rules {
	return Rules{cfg: cfg}
}

func (r Rules) Config() Config { return r.cfg }

func (r Rules) MaxLoansPerMember() int { return r.cfg.MaxLoansPerMember }

func (r Rules) MaxHoldsPerMember() int { return r.cfg.MaxHoldsPerMember }

func (r Rules) DueTime(borrowedAt time.Time) time.Time {
	return borrowedAt.Add(r.cfg.MaxLoanPeriod)
}

func (r Rules) RenewedDueTime(due time.Time) time.Time {
	return due.Add(r.cfg.RenewalPeriod)
}

func (r Rules) RenewalEligible(loan model.Loan) bool {
	return loan.RenewalCount < r.cfg.MaxRenewalCount && loan.Status != model.LoanOverdue
}

// OverdueFine charges whole days past due beyond the grace days, capped at MaxFineAmount.
func (r Rules) OverdueFine(due, returned time.Time) float64 {
	if !returned.After(due.Add(r.cfg.GracePeriod)) {
		return 0
	}
	days := wholeDays(returned.Sub(due)) - wholeDays(r.cfg.GracePeriod)
	if days <= 0 {
		return 0
	}
	return math.Min(float64(days)*r.cfg.FinePerDay, r.cfg.MaxFineAmount)
}

func (r Rules) Penalty(kind model.ReturnKind) float64 {
	switch kind {
	case model.ReturnLost:
		return r.cfg.LostBookPenalty
	case model.ReturnDamaged:
		return r.cfg.DamagedBookPenalty
	default:
		return 0
	}
}

func (r Rules) ShouldBlock(totalOutstanding float64) bool {
	return totalOutstanding >= r.cfg.BlockThreshold
}

func (r Rules) HoldExpiry(readyAt time.Time) time.Time {
	return readyAt.Add(r.cfg.MaxReservationHold)
}

func (r Rules) HoldExpired(readyAt, now time.Time) bool {
	return now.After(r.HoldExpiry(readyAt))
}

func wholeDays(d time.Duration) int {
	return int(d / day)
}
