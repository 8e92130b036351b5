package audio

import (
	"context"
	"sync"
	"time"
)

// DefaultPacerLead is how far ahead of real time a [Pacer] lets queued audio run.
const DefaultPacerLead = 200 * time.Millisecond

// Pacer throttles frame submission to real-time playout. Each scheduled frame
// extends the expected playout end; Schedule blocks while more than the lead
// is already queued, and Wait blocks until the playout end has passed.
//
// Pacer is safe for concurrent use.
type Pacer struct {
	lead  time.Duration
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	end time.Time
}

// PacerOption configures a [Pacer].
type PacerOption func(*Pacer)

// WithLead sets how much audio may be queued ahead of playout.
func WithLead(d time.Duration) PacerOption {
	return func(p *Pacer) {
		if d >= 0 {
			p.lead = d
		}
	}
}

// WithClock replaces the wall clock and sleep function. Intended for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PacerOption {
	return func(p *Pacer) {
		p.now = now
		p.sleep = sleep
	}
}

// NewPacer returns a Pacer using the wall clock.
func NewPacer(opts ...PacerOption) *Pacer {
	p := &Pacer{
		lead:  DefaultPacerLead,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Schedule reserves d of playout time, first blocking until no more than the
// lead is queued ahead of now.
func (p *Pacer) Schedule(ctx context.Context, d time.Duration) error {
	if ahead := p.ahead(); ahead > p.lead {
		if err := p.sleep(ctx, ahead-p.lead); err != nil {
			return err
		}
	}
	p.mu.Lock()
	now := p.now()
	if p.end.Before(now) {
		p.end = now
	}
	p.end = p.end.Add(d)
	p.mu.Unlock()
	return nil
}

// Wait blocks until all scheduled audio has played out.
func (p *Pacer) Wait(ctx context.Context) error {
	if ahead := p.ahead(); ahead > 0 {
		return p.sleep(ctx, ahead)
	}
	return ctx.Err()
}

// Reset discards any scheduled playout, e.g. after the track was closed.
func (p *Pacer) Reset() {
	p.mu.Lock()
	p.end = time.Time{}
	p.mu.Unlock()
}

// ahead returns how much scheduled audio lies in the future.
func (p *Pacer) ahead() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.end.Sub(p.now())
	if d < 0 {
		return 0
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
