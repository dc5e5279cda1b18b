package stream

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

const (
	TopicSnapshot = "snapshot"
	TopicAlert    = "alert"
	TopicStatus   = "status"
)

const (
	broadcastBuffer = 64
	// peerQueue is how many messages a subscriber may fall behind before it is evicted.
	peerQueue = 16
)

// ErrBacklog is returned by Publish when the hub cannot accept more messages. The message is dropped.
var ErrBacklog = errors.New("stream hub backlog full")

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Message is the envelope written to every subscriber.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans messages out to subscribers by topic. Each subscriber is written by its own
// goroutine from a bounded queue, so a stalled client never holds up the hub or Publish.
type Hub struct {
	log       zerolog.Logger
	peers     map[Subscriber]*peer
	topics    map[string]map[*peer]struct{}
	register  chan subscription
	unreg     chan subscription
	evict     chan *peer
	broadcast chan message
	count     chan chan int
	done      chan struct{}
	closeOnce sync.Once
}

type peer struct {
	client Subscriber
	send   chan []byte
}

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	topics []string
	client Subscriber
}

func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		log:       log.With().Str("component", "stream_hub").Logger(),
		peers:     make(map[Subscriber]*peer),
		topics:    make(map[string]map[*peer]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		evict:     make(chan *peer),
		broadcast: make(chan message, broadcastBuffer),
		count:     make(chan chan int),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, p := range h.peers {
				h.drop(p)
			}
			return
		case sub := <-h.register:
			p, ok := h.peers[sub.client]
			if !ok {
				p = &peer{client: sub.client, send: make(chan []byte, peerQueue)}
				h.peers[sub.client] = p
				go h.write(p)
			}
			for _, topic := range sub.topics {
				if _, ok := h.topics[topic]; !ok {
					h.topics[topic] = make(map[*peer]struct{})
				}
				h.topics[topic][p] = struct{}{}
			}
		case sub := <-h.unreg:
			p, ok := h.peers[sub.client]
			if !ok {
				continue
			}
			for _, topic := range sub.topics {
				h.leave(p, topic)
			}
			if !h.subscribed(p) {
				h.drop(p)
			}
		case p := <-h.evict:
			if h.peers[p.client] == p {
				h.drop(p)
			}
		case msg := <-h.broadcast:
			for p := range h.topics[msg.topic] {
				select {
				case p.send <- msg.payload:
				default:
					h.log.Warn().Str("topic", msg.topic).Msg("subscriber too slow, evicting")
					h.drop(p)
				}
			}
		case reply := <-h.count:
			reply <- len(h.peers)
		}
	}
}

// write drains one subscriber's queue. The client is closed when the queue is closed or a send fails.
func (h *Hub) write(p *peer) {
	defer p.client.Close()
	for payload := range p.send {
		if err := p.client.Send(payload); err != nil {
			h.log.Debug().Err(err).Msg("dropping subscriber after failed send")
			select {
			case h.evict <- p:
			case <-h.done:
			}
			for range p.send {
			}
			return
		}
	}
}

func (h *Hub) leave(p *peer, topic string) {
	if peers, ok := h.topics[topic]; ok {
		delete(peers, p)
		if len(peers) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) subscribed(p *peer) bool {
	for _, peers := range h.topics {
		if _, ok := peers[p]; ok {
			return true
		}
	}
	return false
}

func (h *Hub) drop(p *peer) {
	for topic := range h.topics {
		h.leave(p, topic)
	}
	delete(h.peers, p.client)
	close(p.send)
}

// Register adds a client to the given topics. It is a no-op after Close.
func (h *Hub) Register(client Subscriber, topics ...string) {
	select {
	case h.register <- subscription{topics: topics, client: client}:
	case <-h.done:
	}
}

// Unregister removes a client from the given topics. A client left without topics is detached and closed.
func (h *Hub) Unregister(client Subscriber, topics ...string) {
	select {
	case h.unreg <- subscription{topics: topics, client: client}:
	case <-h.done:
	}
}

// Publish encodes v in a Message envelope and queues it for the topic's subscribers.
// It never blocks: when the hub is backed up the message is dropped and ErrBacklog returned.
func (h *Hub) Publish(topic string, v any) error {
	payload, err := json.Marshal(Message{Type: topic, Data: v})
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return nil
	default:
	}
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
		return nil
	default:
		return ErrBacklog
	}
}

func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close disconnects all subscribers and stops the hub goroutine.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
