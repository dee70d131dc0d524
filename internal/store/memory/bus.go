package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const subscriberBuffer = 256

// SignalBus implements domain.SignalBus in process. Slow subscribers drop
// messages rather than block publishers.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][]domain.StreamMessage
}

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string]map[chan []byte]struct{}),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := len(b.streams[stream]) + 1
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", seq),
		Payload: payload,
	})
	return nil
}

// StreamRead returns up to count messages after lastID ("0" or "" reads from
// the start).
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after := 0
	if lastID != "" && lastID != "0" {
		n, err := strconv.Atoi(strings.TrimSuffix(lastID, "-0"))
		if err != nil {
			return nil, fmt.Errorf("memory: bad stream id %q: %w", lastID, err)
		}
		after = n
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.streams[stream]
	if after >= len(msgs) {
		return nil, nil
	}
	out := append([]domain.StreamMessage(nil), msgs[after:]...)
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}
