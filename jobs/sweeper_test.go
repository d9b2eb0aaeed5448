package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLister struct {
	stale  map[string][]string
	failed []string
	err    error
}

func (f *fakeLister) ListStaleJobs(_ context.Context, kind string, _ time.Time) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stale[kind], nil
}

func (f *fakeLister) FailJob(_ context.Context, kind, id, reason string) error {
	f.failed = append(f.failed, kind+"/"+id+"/"+reason)
	return nil
}

func TestSweeperFailsStaleJobs(t *testing.T) {
	lister := &fakeLister{stale: map[string][]string{
		"frame-analysis": {"a1"},
		"transcriptions": {"t1", "t2"},
	}}
	s := &Sweeper{
		Store:    lister,
		Kinds:    []string{"frame-analysis", "transcriptions", "summarizations"},
		Interval: time.Minute,
		MaxAge:   time.Hour,
		Log:      testLogger(),
	}

	s.sweep(context.Background())

	assert.ElementsMatch(t, []string{
		"frame-analysis/a1/" + staleReason,
		"transcriptions/t1/" + staleReason,
		"transcriptions/t2/" + staleReason,
	}, lister.failed)
}

func TestSweeperToleratesListErrors(t *testing.T) {
	lister := &fakeLister{err: errors.New("api down")}
	s := &Sweeper{
		Store:    lister,
		Kinds:    []string{"frame-analysis"},
		Interval: time.Minute,
		MaxAge:   time.Hour,
		Log:      testLogger(),
	}

	s.sweep(context.Background())
	assert.Empty(t, lister.failed)
}
