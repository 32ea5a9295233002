package sweeper

import (
	"context"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	overdueKey = "overdue"
	expiryKey  = "expiry"
)

// Scheduler runs both passes once a day at a fixed UTC time of day. A pass
// already in flight is joined rather than started twice.
type Scheduler struct {
	deps  Deps
	at    time.Duration
	group singleflight.Group
	now   func() time.Time
	log   *zap.Logger
}

// NewScheduler parses at as "15:04" in UTC.
func NewScheduler(d Deps, at string) (*Scheduler, error) {
	tod, err := time.Parse("15:04", at)
	if err != nil {
		return nil, errors.Wrapf(err, "parse sweep time %q", at)
	}
	return &Scheduler{
		deps: d,
		at:   time.Duration(tod.Hour())*time.Hour + time.Duration(tod.Minute())*time.Minute,
		now:  func() time.Time { return time.Now().UTC() },
		log:  d.Log.Named("sweeper"),
	}, nil
}

// NextRun returns the first scheduled time strictly after from.
func (s *Scheduler) NextRun(from time.Time) time.Time {
	from = from.UTC()
	next := from.Truncate(24 * time.Hour).Add(s.at)
	if !next.After(from) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// Run sweeps at every scheduled time until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.NextRun(s.now())
		s.log.Info("next sweep", zap.Time("at", next))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweep", zap.Error(err))
		}
	}
}

// Sweep runs the overdue and expiry passes concurrently. A failing pass does
// not cut the other one short.
func (s *Scheduler) Sweep(ctx context.Context) (model.SweepReport, error) {
	rep := model.SweepReport{StartedAt: s.now()}
	var g errgroup.Group
	g.Go(func() error {
		v, err, _ := s.group.Do(overdueKey, func() (any, error) {
			return OverduePass(ctx, s.deps, rep.StartedAt)
		})
		if v != nil {
			rep.Overdue = v.(model.PassReport)
		}
		return err
	})
	g.Go(func() error {
		v, err, _ := s.group.Do(expiryKey, func() (any, error) {
			return ExpiryPass(ctx, s.deps, rep.StartedAt)
		})
		if v != nil {
			rep.Expiry = v.(model.PassReport)
		}
		return err
	})
	err := g.Wait()
	return rep, err
}
