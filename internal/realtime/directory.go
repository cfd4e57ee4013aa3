package realtime

import (
	"hash/maphash"
	"sync"

	"textonly/internal/topic"
)

const shardCount = 32

type topicShard struct {
	mu   sync.RWMutex
	subs map[topic.Topic]map[string]struct{}
}

type connShard struct {
	mu     sync.Mutex
	topics map[string]map[topic.Topic]struct{}
}

// Directory maps topics to subscribed connection ids and back. Both sides
// are sharded so that unrelated topics and connections do not contend.
// Operations for a single connection must not race each other; Session
// guarantees that.
type Directory struct {
	seed   maphash.Seed
	byTop  [shardCount]topicShard
	byConn [shardCount]connShard
}

func NewDirectory() *Directory {
	d := &Directory{seed: maphash.MakeSeed()}
	for i := range d.byTop {
		d.byTop[i].subs = make(map[topic.Topic]map[string]struct{})
	}
	for i := range d.byConn {
		d.byConn[i].topics = make(map[string]map[topic.Topic]struct{})
	}
	return d
}

func (d *Directory) topicShard(t topic.Topic) *topicShard {
	h := uint64(t.Kind)*0x9e3779b97f4a7c15 ^ uint64(t.A)*0xbf58476d1ce4e5b9 ^ uint64(t.B)*0x94d049bb133111eb
	h ^= h >> 31
	return &d.byTop[h%shardCount]
}

func (d *Directory) connShard(connID string) *connShard {
	return &d.byConn[maphash.String(d.seed, connID)%shardCount]
}

// Subscribe adds (connID, t). It reports whether the pair was new.
func (d *Directory) Subscribe(connID string, t topic.Topic) bool {
	cs := d.connShard(connID)
	cs.mu.Lock()
	set, ok := cs.topics[connID]
	if !ok {
		set = make(map[topic.Topic]struct{})
		cs.topics[connID] = set
	}
	if _, dup := set[t]; dup {
		cs.mu.Unlock()
		return false
	}
	set[t] = struct{}{}
	cs.mu.Unlock()

	ts := d.topicShard(t)
	ts.mu.Lock()
	conns, ok := ts.subs[t]
	if !ok {
		conns = make(map[string]struct{})
		ts.subs[t] = conns
	}
	conns[connID] = struct{}{}
	ts.mu.Unlock()
	return true
}

// Unsubscribe removes (connID, t). It reports whether the pair existed.
func (d *Directory) Unsubscribe(connID string, t topic.Topic) bool {
	cs := d.connShard(connID)
	cs.mu.Lock()
	set, ok := cs.topics[connID]
	if ok {
		_, ok = set[t]
		delete(set, t)
		if len(set) == 0 {
			delete(cs.topics, connID)
		}
	}
	cs.mu.Unlock()
	if !ok {
		return false
	}

	d.removeFromTopic(connID, t)
	return true
}

func (d *Directory) removeFromTopic(connID string, t topic.Topic) {
	ts := d.topicShard(t)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if conns, ok := ts.subs[t]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(ts.subs, t)
		}
	}
}

// SubscribersOf returns a snapshot of the connections subscribed to t.
// The result is never nil.
func (d *Directory) SubscribersOf(t topic.Topic) []string {
	ts := d.topicShard(t)
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	conns := ts.subs[t]
	res := make([]string, 0, len(conns))
	for id := range conns {
		res = append(res, id)
	}
	return res
}

// TopicsOf returns the topics connID is subscribed to.
func (d *Directory) TopicsOf(connID string) []topic.Topic {
	cs := d.connShard(connID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	set := cs.topics[connID]
	res := make([]topic.Topic, 0, len(set))
	for t := range set {
		res = append(res, t)
	}
	return res
}

// DropConnection removes every subscription of connID and returns how many
// were removed. Safe for connections with no subscriptions.
func (d *Directory) DropConnection(connID string) int {
	cs := d.connShard(connID)
	cs.mu.Lock()
	set := cs.topics[connID]
	delete(cs.topics, connID)
	cs.mu.Unlock()

	for t := range set {
		d.removeFromTopic(connID, t)
	}
	return len(set)
}
