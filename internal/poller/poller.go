package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"epp-monitor/internal/domain/epp"
	"epp-monitor/internal/feed"
)

var (
	// ErrStaleResponse marks a completion older than the last applied cycle. It never reaches consumers.
	ErrStaleResponse = errors.New("stale poll response")
	ErrStopped       = errors.New("poller stopped")
	ErrInvalidConfig = errors.New("invalid poller config")
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxInFlight = 2
	maxBackoffShift    = 16
)

type Fetcher interface {
	FetchFeed(ctx context.Context) ([]byte, error)
}

type NormalizeFunc func(body []byte) (epp.Snapshot, error)

// Recorder receives cycle measurements. metrics.PollMetrics implements it.
type Recorder interface {
	CycleIssued()
	CycleCompleted(kind string, duration time.Duration)
	StaleDropped()
	TickSkipped()
}

type Options struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxInFlight int
	BackoffMax  time.Duration
	OnUpdate    func(epp.Snapshot)
	OnError     func(error)
	Logger      zerolog.Logger
	Recorder    Recorder
}

type Counters struct {
	Issued   uint64 `json:"issued"`
	Applied  uint64 `json:"applied"`
	Failed   uint64 `json:"failed"`
	Stale    uint64 `json:"stale"`
	Skipped  uint64 `json:"skipped"`
	InFlight int    `json:"in_flight"`
}

// Poller fetches the feed on a fixed-delay schedule measured from each request's start.
// Every request is tagged with a sequence number; a completion is applied only when it is
// newer than the last applied one, so overlapping requests resolve in issue order.
type Poller struct {
	fetcher   Fetcher
	normalize NormalizeFunc
	opts      Options
	log       zerolog.Logger

	mu          sync.Mutex
	running     bool
	cancelled   bool
	gen         uint64
	issued      uint64
	applied     uint64
	stoppedAt   uint64
	failures    int
	counters    Counters
	timer       *time.Timer
	releaseCtx  func() bool
	last        epp.Snapshot
	hasSnapshot bool

	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

type Handle struct {
	p *Poller
}

// Stop cancels future ticks. Results of requests still in flight are dropped.
func (h *Handle) Stop() {
	if h != nil && h.p != nil {
		h.p.Stop()
	}
}

func New(fetcher Fetcher, normalize NormalizeFunc, opts Options) (*Poller, error) {
	if fetcher == nil || normalize == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("fetcher and normalize are required"))
	}
	if opts.Interval <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("interval must be positive"))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxInFlight == 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	return &Poller{
		fetcher:   fetcher,
		normalize: normalize,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "poller").Logger(),
	}, nil
}

// Start issues one fetch immediately and then one every Interval until Stop or ctx is done.
func (p *Poller) Start(ctx context.Context) *Handle {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return &Handle{p: p}
	}
	p.running = true
	p.cancelled = false
	p.gen++
	gen := p.gen
	p.releaseCtx = context.AfterFunc(ctx, p.Stop)
	p.mu.Unlock()

	p.log.Info().
		Dur("interval", p.opts.Interval).
		Dur("timeout", p.opts.Timeout).
		Int("max_in_flight", p.opts.MaxInFlight).
		Msg("polling started")

	p.issue(ctx, gen)
	p.schedule(ctx, gen)
	return &Handle{p: p}
}

// Stop cancels the schedule. It waits for a callback already running, so no callback
// runs after Stop returns. It must not be called from OnUpdate or OnError.
func (p *Poller) Stop() {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancelled = true
	p.stoppedAt = p.issued
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.releaseCtx != nil {
		p.releaseCtx()
		p.releaseCtx = nil
	}
	p.log.Info().Uint64("last_issued", p.issued).Msg("polling stopped")
}

// Wait blocks until requests already in flight have completed.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// Snapshot returns a copy of the last applied snapshot.
func (p *Poller) Snapshot() (epp.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasSnapshot {
		return epp.Snapshot{}, false
	}
	return p.last.Clone(), true
}

func (p *Poller) Counters() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

// schedule arms the next tick of run generation gen. A timer left over from an
// earlier Start sees a different generation and ends its chain.
func (p *Poller) schedule(ctx context.Context, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled || gen != p.gen {
		return
	}
	p.timer = time.AfterFunc(p.nextDelayLocked(), func() {
		p.issue(ctx, gen)
		p.schedule(ctx, gen)
	})
}

func (p *Poller) nextDelayLocked() time.Duration {
	interval := p.opts.Interval
	if p.opts.BackoffMax <= 0 || p.failures == 0 {
		return interval
	}
	shift := p.failures
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := interval << shift
	if delay > p.opts.BackoffMax || delay <= 0 {
		delay = p.opts.BackoffMax
	}
	if delay < interval {
		delay = interval
	}
	return delay
}

// issue starts one cycle and returns its sequence number, or 0 when the tick was skipped.
func (p *Poller) issue(ctx context.Context, gen uint64) uint64 {
	p.mu.Lock()
	if p.cancelled || gen != p.gen {
		p.mu.Unlock()
		return 0
	}
	if p.opts.MaxInFlight > 0 && p.counters.InFlight >= p.opts.MaxInFlight {
		p.counters.Skipped++
		inFlight := p.counters.InFlight
		p.mu.Unlock()
		p.opts.Recorder.TickSkipped()
		p.log.Warn().Int("in_flight", inFlight).Msg("previous requests still running, tick skipped")
		return 0
	}
	p.issued++
	seq := p.issued
	p.counters.Issued++
	p.counters.InFlight++
	p.wg.Add(1)
	p.mu.Unlock()

	p.opts.Recorder.CycleIssued()
	go p.run(ctx, seq)
	return seq
}

func (p *Poller) run(ctx context.Context, seq uint64) {
	defer p.wg.Done()

	started := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	var snap epp.Snapshot
	body, err := p.fetcher.FetchFeed(reqCtx)
	if err == nil {
		snap, err = p.normalize(body)
	}

	duration := time.Since(started)
	p.opts.Recorder.CycleCompleted(feed.Kind(err), duration)
	if cerr := p.complete(seq, snap, err); cerr != nil {
		p.log.Debug().Uint64("seq", seq).Err(cerr).Msg("poll result dropped")
	}
}

// complete applies the result of cycle seq. Completions are serialized so that
// consumers observe updates strictly in issue order.
func (p *Poller) complete(seq uint64, snap epp.Snapshot, err error) error {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	p.counters.InFlight--
	if p.cancelled || seq <= p.stoppedAt {
		p.mu.Unlock()
		return ErrStopped
	}
	if seq <= p.applied {
		p.counters.Stale++
		p.mu.Unlock()
		p.opts.Recorder.StaleDropped()
		return ErrStaleResponse
	}
	p.applied = seq

	if err != nil {
		p.failures++
		p.counters.Failed++
		failures := p.failures
		onError := p.opts.OnError
		p.mu.Unlock()

		p.log.Warn().
			Err(err).
			Uint64("seq", seq).
			Str("kind", feed.Kind(err)).
			Int("consecutive_failures", failures).
			Msg("poll cycle failed, keeping previous snapshot")
		if onError != nil {
			onError(err)
		}
		return nil
	}

	p.failures = 0
	p.counters.Applied++
	snap.Sequence = seq
	p.last = snap
	p.hasSnapshot = true
	onUpdate := p.opts.OnUpdate
	out := snap.Clone()
	p.mu.Unlock()

	p.log.Debug().
		Uint64("seq", seq).
		Str("reference_day", snap.Stats.ReferenceDay).
		Int("processed", snap.Stats.ProcessedCount).
		Int("violations", snap.Stats.ViolationCount).
		Msg("snapshot applied")
	if onUpdate != nil {
		onUpdate(out)
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) CycleIssued()                           {}
func (nopRecorder) CycleCompleted(_ string, _ time.Duration) {}
func (nopRecorder) StaleDropped()                          {}
func (nopRecorder) TickSkipped()                           {}
