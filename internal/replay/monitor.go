package replay

import (
	"context"
	"time"
)

// Notifier delivers binary online/offline transitions. Tests synthesize
// transitions by feeding a plain channel; production uses a Prober.
type Notifier interface {
	Transitions() <-chan bool
}

// Prober derives connectivity transitions from a reachability probe, polled
// on an interval. Only state changes are emitted, so flapping between polls
// cannot queue up a backlog of duplicate signals.
type Prober struct {
	probe    func(context.Context) error
	interval time.Duration
	ch       chan bool
}

// NewProber constructs a Prober around a reachability check such as
// remote.Client.Ping.
func NewProber(probe func(context.Context) error, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		probe:    probe,
		interval: interval,
		ch:       make(chan bool, 1),
	}
}

// Transitions returns the channel state changes are delivered on.
func (p *Prober) Transitions() <-chan bool {
	return p.ch
}

// Run polls until the context is cancelled. It should be called in a
// goroutine alongside Engine.Watch.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer close(p.ch)

	online := false
	first := true
	for {
		probeCtx, cancel := context.WithTimeout(ctx, p.interval)
		err := p.probe(probeCtx)
		cancel()

		now := err == nil
		if first || now != online {
			select {
			case p.ch <- now:
			case <-ctx.Done():
				return
			}
			online = now
			first = false
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
