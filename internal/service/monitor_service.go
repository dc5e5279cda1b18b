package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"epp-monitor/internal/domain/epp"
	"epp-monitor/internal/model"
	"epp-monitor/internal/poller"
	"epp-monitor/internal/report"
	"epp-monitor/internal/repository"
	"epp-monitor/internal/snapshot"
	"epp-monitor/internal/stream"
	"epp-monitor/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrNoSnapshot   = errors.New("no snapshot available yet")
)

const (
	dayLayout      = "2006-01-02"
	historyTimeout = 5 * time.Second
)

// FeedSource is the backend collaborator. *feed.Client implements it.
type FeedSource interface {
	FetchFeed(ctx context.Context) ([]byte, error)
	FetchDays(ctx context.Context, canal string) ([]string, error)
	FetchFrames(ctx context.Context, dia, canal string) ([]string, error)
}

type Publisher interface {
	Publish(topic string, v any) error
}

type Dispatcher interface {
	Dispatch(snap epp.Snapshot, alerts []epp.DetectionEvent) bool
}

type HistoryStore interface {
	UpsertSnapshot(ctx context.Context, snap epp.Snapshot) (int, error)
	List(ctx context.Context, from, to *time.Time) ([]repository.HistoryEntry, error)
}

type ReportUploader interface {
	UploadReport(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

type SnapshotRecorder interface {
	SnapshotApplied(processed, violations, compliancePct int)
}

// Deps holds collaborators. Everything except Feed is optional.
type Deps struct {
	Feed       FeedSource
	Publisher  Publisher
	Dispatcher Dispatcher
	History    HistoryStore
	Uploader   ReportUploader
	Metrics    SnapshotRecorder
	Recorder   poller.Recorder
}

type Options struct {
	APIBase       string
	StripPrefixes []string
	Snapshot      snapshot.Options
	Interval      time.Duration
	Timeout       time.Duration
	MaxInFlight   int
	BackoffMax    time.Duration
}

// MonitorService owns the poller and is the single source of the current snapshot.
type MonitorService struct {
	deps   Deps
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
	poller *poller.Poller

	mu         sync.RWMutex
	current    epp.Snapshot
	hasCurrent bool
	lastErr    error
	lastErrAt  *time.Time
	lastUpdate *time.Time
	background sync.WaitGroup
}

func NewMonitorService(deps Deps, opts Options, log zerolog.Logger) (*MonitorService, error) {
	if deps.Feed == nil {
		return nil, fmt.Errorf("%w: feed source is required", ErrInvalidInput)
	}
	if opts.StripPrefixes == nil {
		opts.StripPrefixes = utils.DefaultStripPrefixes
	}
	now := opts.Snapshot.Now
	if now == nil {
		now = time.Now
	}

	s := &MonitorService{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "monitor").Logger(),
		now:  now,
	}

	p, err := poller.New(deps.Feed, s.normalize, poller.Options{
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		MaxInFlight: opts.MaxInFlight,
		BackoffMax:  opts.BackoffMax,
		OnUpdate:    s.applySnapshot,
		OnError:     s.recordError,
		Logger:      log,
		Recorder:    deps.Recorder,
	})
	if err != nil {
		return nil, err
	}
	s.poller = p
	return s, nil
}

func (s *MonitorService) normalize(body []byte) (epp.Snapshot, error) {
	return snapshot.NormalizePayload(body, s.opts.Snapshot)
}

func (s *MonitorService) Start(ctx context.Context) {
	s.poller.Start(ctx)
}

// Stop halts polling and waits for in-flight requests and history writes.
func (s *MonitorService) Stop() {
	s.poller.Stop()
	s.poller.Wait()
	s.background.Wait()
}

func (s *MonitorService) applySnapshot(snap epp.Snapshot) {
	at := s.now()

	s.mu.Lock()
	prev := s.current
	s.current = snap
	s.hasCurrent = true
	s.lastUpdate = &at
	s.lastErr = nil
	s.mu.Unlock()

	alerts := snapshot.NewViolations(prev, snap)

	if s.deps.Metrics != nil {
		s.deps.Metrics.SnapshotApplied(snap.Stats.ProcessedCount, snap.Stats.ViolationCount, snap.Stats.CompliancePct)
	}
	s.publish(stream.TopicSnapshot, s.view(snap))
	if len(alerts) > 0 {
		s.log.Info().
			Int("new_violations", len(alerts)).
			Str("reference_day", snap.Stats.ReferenceDay).
			Msg("new violations detected")
		s.publish(stream.TopicAlert, s.eventViews(alerts))
	}
	if s.deps.Dispatcher != nil {
		s.deps.Dispatcher.Dispatch(snap, alerts)
	}
	if s.deps.History != nil {
		s.background.Add(1)
		go s.storeHistory(snap)
	}
}

func (s *MonitorService) storeHistory(snap epp.Snapshot) {
	defer s.background.Done()
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	n, err := s.deps.History.UpsertSnapshot(ctx, snap)
	if err != nil {
		s.log.Error().Err(err).Uint64("seq", snap.Sequence).Msg("failed to store daily history")
		return
	}
	s.log.Debug().Int("days", n).Uint64("seq", snap.Sequence).Msg("daily history stored")
}

func (s *MonitorService) recordError(err error) {
	at := s.now()
	s.mu.Lock()
	s.lastErr = err
	s.lastErrAt = &at
	s.mu.Unlock()

	s.publish(stream.TopicStatus, s.Status())
}

func (s *MonitorService) publish(topic string, v any) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.Publish(topic, v); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("failed to publish stream message")
	}
}

// Status reports the view state the dashboard should show.
func (s *MonitorService) Status() epp.Status {
	counters := s.poller.Counters()

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := epp.Status{
		State:          viewState(s.hasCurrent, s.current, s.lastErr),
		LastErrorAt:    s.lastErrAt,
		LastUpdateAt:   s.lastUpdate,
		AppliedCycles:  counters.Applied,
		FailedCycles:   counters.Failed,
		StaleResponses: counters.Stale,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func viewState(hasSnapshot bool, snap epp.Snapshot, lastErr error) epp.ViewState {
	switch {
	case hasSnapshot && snap.Stats.ProcessedCount == 0:
		return epp.ViewStateEmpty
	case hasSnapshot:
		return epp.ViewStateReady
	case lastErr != nil:
		return epp.ViewStateError
	default:
		return epp.ViewStateLoading
	}
}

// Ready reports whether a valid snapshot has been obtained.
func (s *MonitorService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasCurrent
}

func (s *MonitorService) Current() (epp.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasCurrent {
		return epp.Snapshot{}, ErrNoSnapshot
	}
	return s.current.Clone(), nil
}

func (s *MonitorService) SnapshotView() (SnapshotView, error) {
	snap, err := s.Current()
	if err != nil {
		return SnapshotView{}, err
	}
	view := s.view(snap)
	view.State = s.Status().State
	return view, nil
}

// Timeline returns the capped reference-day timeline, optionally filtered by channel or to violations only.
func (s *MonitorService) Timeline(canal string, violationsOnly bool) ([]EventView, error) {
	snap, err := s.Current()
	if err != nil {
		return nil, err
	}
	canal = strings.TrimSpace(canal)
	filtered := make([]epp.DetectionEvent, 0, len(snap.Events))
	for _, e := range snap.Events {
		if canal != "" && !strings.EqualFold(e.Canal, canal) {
			continue
		}
		if violationsOnly && !snapshot.IsViolation(e) {
			continue
		}
		filtered = append(filtered, e)
	}
	return s.eventViews(filtered), nil
}

// ResetLocal clears the in-memory snapshot. The next successful poll repopulates it.
func (s *MonitorService) ResetLocal(principal model.Principal) SnapshotView {
	empty := snapshot.Empty(s.now())
	empty.Reset = true

	s.mu.Lock()
	empty.Sequence = s.current.Sequence
	s.current = empty
	s.hasCurrent = true
	s.mu.Unlock()

	s.log.Info().
		Str("user_id", principal.UserID.String()).
		Str("role", string(principal.Role)).
		Msg("metrics reset locally")

	view := s.view(empty)
	view.State = epp.ViewStateEmpty
	s.publish(stream.TopicSnapshot, view)
	return view
}

func (s *MonitorService) ImageURL(raw string) string {
	return utils.ResolveImagePath(s.opts.APIBase, raw, s.opts.StripPrefixes...)
}

type DaysResult struct {
	Canal    string   `json:"canal,omitempty"`
	Days     []string `json:"days"`
	Selected string   `json:"selected,omitempty"`
}

func (s *MonitorService) TimelapseDays(ctx context.Context, canal string) (DaysResult, error) {
	canal = strings.TrimSpace(canal)
	days, err := s.deps.Feed.FetchDays(ctx, canal)
	if err != nil {
		return DaysResult{}, fmt.Errorf("fetch timelapse days: %w", err)
	}
	res := DaysResult{Canal: canal, Days: days}
	if len(days) > 0 {
		res.Selected = days[len(days)-1]
	}
	return res, nil
}

func (s *MonitorService) TimelapseFrames(ctx context.Context, dia, canal string) ([]epp.Frame, error) {
	dia = strings.TrimSpace(dia)
	if _, err := time.Parse(dayLayout, dia); err != nil {
		return nil, fmt.Errorf("%w: dia must be YYYY-MM-DD", ErrInvalidInput)
	}
	paths, err := s.deps.Feed.FetchFrames(ctx, dia, strings.TrimSpace(canal))
	if err != nil {
		return nil, fmt.Errorf("fetch timelapse frames: %w", err)
	}

	frames := make([]epp.Frame, 0, len(paths))
	for _, p := range paths {
		url := s.ImageURL(p)
		if url == "" {
			continue
		}
		frames = append(frames, epp.Frame{Path: p, URL: url, Clock: utils.FrameClock(p)})
	}
	return frames, nil
}

func (s *MonitorService) HistoryEnabled() bool {
	return s.deps.History != nil
}

func (s *MonitorService) History(ctx context.Context, from, to string) ([]repository.HistoryEntry, error) {
	if s.deps.History == nil {
		return nil, fmt.Errorf("%w: history is disabled", ErrNotFound)
	}
	fromDay, err := parseDay("from", from)
	if err != nil {
		return nil, err
	}
	toDay, err := parseDay("to", to)
	if err != nil {
		return nil, err
	}
	if fromDay != nil && toDay != nil && toDay.Before(*fromDay) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidInput)
	}
	return s.deps.History.List(ctx, fromDay, toDay)
}

func parseDay(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dayLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidInput, name)
	}
	return &t, nil
}

// BuildReport renders the current snapshot as an xlsx workbook.
func (s *MonitorService) BuildReport() (string, *bytes.Buffer, error) {
	snap, err := s.Current()
	if err != nil {
		return "", nil, err
	}
	buf, err := report.BuildWorkbook(snap, s.ImageURL)
	if err != nil {
		return "", nil, fmt.Errorf("build report: %w", err)
	}
	return report.FileName(snap), buf, nil
}

func (s *MonitorService) PublishReport(ctx context.Context, principal model.Principal) (string, error) {
	if s.deps.Uploader == nil {
		return "", fmt.Errorf("%w: report storage is disabled", ErrNotFound)
	}
	name, buf, err := s.BuildReport()
	if err != nil {
		return "", err
	}
	url, err := s.deps.Uploader.UploadReport(ctx, name, buf.Bytes(), report.ContentType)
	if err != nil {
		return "", err
	}
	s.log.Info().
		Str("user_id", principal.UserID.String()).
		Str("url", url).
		Msg("report uploaded")
	return url, nil
}
