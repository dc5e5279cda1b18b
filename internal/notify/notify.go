package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"epp-monitor/internal/domain/epp"
)

const (
	defaultQueueSize   = 8
	defaultSinkTimeout = 3 * time.Second
)

// Sink receives applied snapshots and the violations that are new in them.
type Sink interface {
	Name() string
	PublishSnapshot(ctx context.Context, snap epp.Snapshot) error
	PublishAlerts(ctx context.Context, alerts []epp.DetectionEvent) error
	Close() error
}

// Recorder counts publish outcomes per sink.
type Recorder interface {
	Published(sink string, err error)
}

type update struct {
	snap   epp.Snapshot
	alerts []epp.DetectionEvent
}

// Fanout delivers updates to every sink on its own goroutine so slow brokers never hold up polling.
type Fanout struct {
	sinks    []Sink
	log      zerolog.Logger
	recorder Recorder
	timeout  time.Duration
	queue    chan update
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

func NewFanout(log zerolog.Logger, recorder Recorder, sinks ...Sink) *Fanout {
	f := &Fanout{
		sinks:    sinks,
		log:      log.With().Str("component", "notify").Logger(),
		recorder: recorder,
		timeout:  defaultSinkTimeout,
		queue:    make(chan update, defaultQueueSize),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Dispatch queues an update. When the queue is full the update is dropped and logged.
func (f *Fanout) Dispatch(snap epp.Snapshot, alerts []epp.DetectionEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || len(f.sinks) == 0 {
		return false
	}
	select {
	case f.queue <- update{snap: snap, alerts: alerts}:
		return true
	default:
		f.log.Warn().Uint64("seq", snap.Sequence).Msg("notify queue full, update dropped")
		return false
	}
}

func (f *Fanout) run() {
	defer f.wg.Done()
	for u := range f.queue {
		for _, sink := range f.sinks {
			f.deliver(sink, u)
		}
	}
}

func (f *Fanout) deliver(sink Sink, u update) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	err := sink.PublishSnapshot(ctx, u.snap)
	f.record(sink.Name(), err)
	if err != nil {
		f.log.Warn().Err(err).Str("sink", sink.Name()).Msg("snapshot publish failed")
	}

	if len(u.alerts) == 0 {
		return
	}
	err = sink.PublishAlerts(ctx, u.alerts)
	f.record(sink.Name(), err)
	if err != nil {
		f.log.Warn().Err(err).Str("sink", sink.Name()).Int("alerts", len(u.alerts)).Msg("alert publish failed")
	}
}

func (f *Fanout) record(sink string, err error) {
	if f.recorder != nil {
		f.recorder.Published(sink, err)
	}
}

// Close drains queued updates and closes every sink.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			f.log.Warn().Err(err).Str("sink", sink.Name()).Msg("sink close failed")
		}
	}
}
