package server

import (
	"net"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/jasonrowsell/dualkv/pkg/protocol"
)

// udpStage is the next datagram a UDP session is waiting for. The type
// datagram opens the session, so a session always starts at awaitKey.
type udpStage int

const (
	awaitKey udpStage = iota
	awaitValue
)

// session is one partially received UDP request.
type session struct {
	op       protocol.Operation
	stage    udpStage
	addr     net.Addr
	started  time.Time
	lastSeen time.Time
	done     bool
}

// sessionTable groups datagrams into requests by sender address.
// It is owned by the single UDP read loop and is not safe for concurrent use.
type sessionTable struct {
	lru       *simplelru.LRU
	timeout   time.Duration
	onAbandon func(remote string, sess *session)
}

// newSessionTable creates a table holding at most size sessions. When full,
// the least recently active session is evicted. onAbandon is called for
// every session dropped before completion.
func newSessionTable(size int, timeout time.Duration, onAbandon func(string, *session)) (*sessionTable, error) {
	t := &sessionTable{timeout: timeout, onAbandon: onAbandon}

	lru, err := simplelru.NewLRU(size, func(key, value interface{}) {
		sess := value.(*session)
		if !sess.done && t.onAbandon != nil {
			t.onAbandon(key.(string), sess)
		}
	})
	if err != nil {
		return nil, err
	}
	t.lru = lru
	return t, nil
}

// lookup returns the open session for remote. A session idle past the
// timeout is abandoned and reported as absent.
func (t *sessionTable) lookup(remote string, now time.Time) (*session, bool) {
	v, ok := t.lru.Get(remote)
	if !ok {
		return nil, false
	}
	sess := v.(*session)
	if t.stale(sess, now) {
		t.lru.Remove(remote)
		return nil, false
	}
	return sess, true
}

func (t *sessionTable) open(remote string, sess *session) {
	t.lru.Add(remote, sess)
}

// finish removes a completed session without reporting it abandoned.
func (t *sessionTable) finish(remote string, sess *session) {
	sess.done = true
	t.lru.Remove(remote)
}

// discard drops the session for remote, if any, without reporting it.
// Used when the caller has already accounted for the failure.
func (t *sessionTable) discard(remote string) {
	if v, ok := t.lru.Peek(remote); ok {
		t.finish(remote, v.(*session))
	}
}

// expire abandons every session idle past the timeout and returns how
// many were dropped.
func (t *sessionTable) expire(now time.Time) int {
	if t.timeout <= 0 {
		return 0
	}
	n := 0
	// Keys are ordered oldest first, and lookups refresh both recency
	// and lastSeen, so the first live session ends the scan.
	for _, key := range t.lru.Keys() {
		v, ok := t.lru.Peek(key)
		if !ok {
			continue
		}
		if !t.stale(v.(*session), now) {
			break
		}
		t.lru.Remove(key)
		n++
	}
	return n
}

func (t *sessionTable) stale(sess *session, now time.Time) bool {
	return t.timeout > 0 && now.Sub(sess.lastSeen) > t.timeout
}

func (t *sessionTable) len() int {
	return t.lru.Len()
}
