package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StaleJobLister finds job ids of a kind still processing past a cutoff.
type StaleJobLister interface {
	ListStaleJobs(ctx context.Context, kind string, cutoff time.Time) ([]string, error)
	FailJob(ctx context.Context, kind, id, reason string) error
}

// Sweeper periodically fails jobs stuck in processing past the stale
// deadline. A worker crash or lost pod otherwise leaves the job record
// processing forever, and clients polling it would never see an end.
type Sweeper struct {
	Store    StaleJobLister
	Kinds    []string
	Interval time.Duration
	MaxAge   time.Duration
	Log      *logrus.Logger
}

const staleReason = "job exceeded processing deadline"

// Run sweeps until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.MaxAge)
	for _, kind := range s.Kinds {
		ids, err := s.Store.ListStaleJobs(ctx, kind, cutoff)
		if err != nil {
			s.Log.WithError(err).WithField("kind", kind).Warn("stale job listing failed")
			continue
		}
		for _, id := range ids {
			if err := s.Store.FailJob(ctx, kind, id, staleReason); err != nil {
				s.Log.WithError(err).WithFields(logrus.Fields{"kind": kind, "jobId": id}).Warn("could not fail stale job")
				continue
			}
			s.Log.WithFields(logrus.Fields{"kind": kind, "jobId": id}).Info("stale job failed")
		}
	}
}
