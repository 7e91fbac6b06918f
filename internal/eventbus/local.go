// Package eventbus provides an in-process domain.SignalBus used when Redis is
// disabled. Pub/sub is best-effort: a slow subscriber drops messages rather
// than blocking publishers.
package eventbus

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
)

const (
	subscriberBuffer = 128
	defaultStreamLen = 10000
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

type stream struct {
	seq     uint64
	entries []domain.StreamMessage
}

// LocalBus is a memory-backed SignalBus.
type LocalBus struct {
	mu        sync.RWMutex
	subs      map[*subscriber]struct{}
	streams   map[string]*stream
	maxStream int
}

// NewLocalBus creates a LocalBus whose streams keep at most maxStreamLen
// entries. Zero selects 10000.
func NewLocalBus(maxStreamLen int) *LocalBus {
	if maxStreamLen <= 0 {
		maxStreamLen = defaultStreamLen
	}
	return &LocalBus{
		subs:      make(map[*subscriber]struct{}),
		streams:   make(map[string]*stream),
		maxStream: maxStreamLen,
	}
}

// Publish delivers payload to every subscriber whose channel or pattern matches.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel, which may be
// a glob pattern. The channel is closed when ctx is cancelled.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if channel == "" {
		return nil, fmt.Errorf("eventbus: subscribe: empty channel: %w", domain.ErrConfiguration)
	}
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("eventbus: subscribe %s: %w", channel, err)
	}
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

func matches(pattern, channel string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == channel
	}
	ok, _ := path.Match(pattern, channel)
	return ok
}

// StreamAppend appends payload to stream, trimming the oldest entries beyond
// the configured length.
func (b *LocalBus) StreamAppend(_ context.Context, name string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[name]
	if !ok {
		st = &stream{}
		b.streams[name] = st
	}
	st.seq++
	st.entries = append(st.entries, domain.StreamMessage{
		ID:      strconv.FormatUint(st.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if over := len(st.entries) - b.maxStream; over > 0 {
		st.entries = append([]domain.StreamMessage(nil), st.entries[over:]...)
	}
	return nil
}

// StreamRead returns up to count entries after lastID. "0" and "0-0" read
// from the beginning; "$" returns nothing.
func (b *LocalBus) StreamRead(_ context.Context, name string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.streams[name]
	if !ok || lastID == "$" {
		return nil, nil
	}
	after, err := parseID(lastID)
	if err != nil {
		return nil, fmt.Errorf("eventbus: stream read %s: %w", name, err)
	}
	var out []domain.StreamMessage
	for _, m := range st.entries {
		id, _ := parseID(m.ID)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

func parseID(id string) (uint64, error) {
	seq, _, _ := strings.Cut(id, "-")
	if seq == "" {
		return 0, nil
	}
	return strconv.ParseUint(seq, 10, 64)
}

var _ domain.SignalBus = (*LocalBus)(nil)
