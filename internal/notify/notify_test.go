package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"epp-monitor/internal/domain/epp"
)

type sentMessage struct {
	target   string
	payload  []byte
	retained bool
}

type fakeRedis struct {
	mu       sync.Mutex
	sent     []sentMessage
	setKeys  []string
	failWith error
	closed   bool
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return redis.NewIntResult(0, f.failWith)
	}
	f.sent = append(f.sent, sentMessage{target: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return redis.NewStatusResult("", f.failWith)
	}
	f.setKeys = append(f.setKeys, key)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   []sentMessage
	closed bool
}

func (f *fakePublisher) Publish(topic string, _ byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{target: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakePublisher) Close() { f.closed = true }

func sampleSnapshot() epp.Snapshot {
	return epp.Snapshot{
		Sequence: 7,
		Stats: epp.AggregateStats{
			ReferenceDay:   "2024-06-01",
			ProcessedCount: 4,
			ViolationCount: 1,
			CompliancePct:  75,
		},
	}
}

func TestRedisSinkPublishesSummary(t *testing.T) {
	conn := &fakeRedis{}
	sink := newRedisSink(conn, "")

	if err := sink.PublishSnapshot(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("PublishSnapshot() error = %v", err)
	}
	if len(conn.setKeys) != 1 || conn.setKeys[0] != "epp:snapshots:latest" {
		t.Errorf("set keys = %v, want [epp:snapshots:latest]", conn.setKeys)
	}
	if len(conn.sent) != 1 || conn.sent[0].target != DefaultRedisChannel {
		t.Fatalf("published = %+v, want one message on %s", conn.sent, DefaultRedisChannel)
	}

	var got Summary
	if err := json.Unmarshal(conn.sent[0].payload, &got); err != nil {
		t.Fatalf("payload is not a summary: %v", err)
	}
	if got.Sequence != 7 || got.CompliancePct != 75 || got.ReferenceDay != "2024-06-01" {
		t.Errorf("summary = %+v", got)
	}

	alerts := []epp.DetectionEvent{{Canal: "Channel1", Missing: []string{"without_helmet"}}}
	if err := sink.PublishAlerts(context.Background(), alerts); err != nil {
		t.Fatalf("PublishAlerts() error = %v", err)
	}
	if conn.sent[1].target != "epp:snapshots:alerts" {
		t.Errorf("alerts channel = %q, want epp:snapshots:alerts", conn.sent[1].target)
	}
}

func TestRedisSinkWrapsErrors(t *testing.T) {
	boom := errors.New("connection refused")
	sink := newRedisSink(&fakeRedis{failWith: boom}, "custom")

	if err := sink.PublishSnapshot(context.Background(), sampleSnapshot()); !errors.Is(err, boom) {
		t.Errorf("PublishSnapshot() error = %v, want wrapped %v", err, boom)
	}
}

func TestMQTTSinkTopics(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTTSink(pub, "plant/epp/")

	tests := []struct {
		canal string
		want  string
	}{
		{canal: "Channel1", want: "plant/epp/Channel1"},
		{canal: "zona norte/#1", want: "plant/epp/zona_norte_1"},
		{canal: "  ", want: "plant/epp/unknown"},
		{canal: "+", want: "plant/epp/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.canal, func(t *testing.T) {
			if got := sink.AlertTopic(tt.canal); got != tt.want {
				t.Errorf("AlertTopic(%q) = %q, want %q", tt.canal, got, tt.want)
			}
		})
	}
}

func TestMQTTSinkPublishes(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTTSink(pub, "")

	if err := sink.PublishSnapshot(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("PublishSnapshot() error = %v", err)
	}
	alerts := []epp.DetectionEvent{
		{Canal: "Channel1", Missing: []string{"without_helmet"}},
		{Canal: "Channel2", Missing: []string{"without_vest"}},
	}
	if err := sink.PublishAlerts(context.Background(), alerts); err != nil {
		t.Fatalf("PublishAlerts() error = %v", err)
	}

	if len(pub.sent) != 3 {
		t.Fatalf("published %d messages, want 3", len(pub.sent))
	}
	if pub.sent[0].target != "epp/alerts/stats" || !pub.sent[0].retained {
		t.Errorf("stats message = %+v, want retained on epp/alerts/stats", pub.sent[0])
	}
	if pub.sent[2].target != "epp/alerts/Channel2" || pub.sent[2].retained {
		t.Errorf("alert message = %+v, want non-retained on epp/alerts/Channel2", pub.sent[2])
	}

	_ = sink.Close()
	if !pub.closed {
		t.Error("Close() did not close the client")
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	ok, fail int
}

func (r *countingRecorder) Published(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.fail++
		return
	}
	r.ok++
}

func TestFanoutDeliversAndDrains(t *testing.T) {
	good := &fakePublisher{}
	bad := &fakeRedis{failWith: errors.New("down")}
	rec := &countingRecorder{}
	f := NewFanout(zerolog.Nop(), rec, newMQTTSink(good, ""), newRedisSink(bad, ""))

	alerts := []epp.DetectionEvent{{Canal: "Channel1", Missing: []string{"without_helmet"}}}
	if !f.Dispatch(sampleSnapshot(), alerts) {
		t.Fatal("Dispatch() = false, want true")
	}
	f.Close()

	if len(good.sent) != 2 {
		t.Errorf("mqtt messages = %d, want 2", len(good.sent))
	}
	if rec.ok != 2 || rec.fail != 2 {
		t.Errorf("recorder ok=%d fail=%d, want 2 and 2", rec.ok, rec.fail)
	}
	if !good.closed || !bad.closed {
		t.Error("sinks not closed")
	}
	if f.Dispatch(sampleSnapshot(), nil) {
		t.Error("Dispatch() after Close = true, want false")
	}
}

func TestFanoutWithoutSinks(t *testing.T) {
	f := NewFanout(zerolog.Nop(), nil)
	defer f.Close()
	if f.Dispatch(sampleSnapshot(), nil) {
		t.Error("Dispatch() with no sinks = true, want false")
	}
}
