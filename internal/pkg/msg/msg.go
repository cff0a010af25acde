package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic partitions the message stream by payload class.
type Topic int

const (
	// Status carries pipeline stage progress payloads.
	Status Topic = iota
	// Audit carries entity resolution records.
	Audit
	// Config carries component configuration payloads.
	Config
)

// Publisher is an interface for objects that allow subscription to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is the envelope passed between pipeline components and datastream handlers.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (m Msg) PID() uuid.UUID {
	return m.sender
}

// Topic returns the message topic
func (m Msg) Topic() Topic {
	return m.topic
}

// Payload returns the message data
func (m Msg) Payload() interface{} {
	return m.payload
}

// PubSub fans messages out to topic subscribers. Sends never block: a
// subscriber that falls behind drops messages rather than stalling the
// publishing component.
type PubSub struct {
	mux       *sync.Mutex
	pid       uuid.UUID
	broadcast map[Topic]map[uuid.UUID]chan<- Msg
}

// NewPubSub returns an empty PubSub.
func NewPubSub() (*PubSub, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	broadcast := make(map[Topic]map[uuid.UUID]chan<- Msg)
	return &PubSub{&sync.Mutex{}, pid, broadcast}, nil
}

// PID is a getter for the PubSub PID
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns a read only channel for the requested topic.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	if pid == (uuid.UUID{}) {
		return nil, errors.New("subscribe requires a non-zero pid")
	}
	ch := make(chan Msg, 50)
	p.mux.Lock()
	defer p.mux.Unlock()
	if _, ok := p.broadcast[topic]; !ok {
		p.broadcast[topic] = make(map[uuid.UUID]chan<- Msg)
	}
	p.broadcast[topic][pid] = ch
	return ch, nil
}

// Unsubscribe closes all channels associated with the pid parameter.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.broadcast {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			close(ch)
		}
	}
}

// Publish broadcasts a message to all subscribers of its topic.
func (p *PubSub) Publish(m Msg) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, ch := range p.broadcast[m.Topic()] {
		select {
		case ch <- m:
		default:
		}
	}
}

// Close releases all subscriber channels.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()
	for topic, subs := range p.broadcast {
		for pid, ch := range subs {
			delete(subs, pid)
			close(ch)
		}
		delete(p.broadcast, topic)
	}
}
