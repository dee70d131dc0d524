package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/store/memory"
)

const operatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var seller = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

type recordingNotifier struct {
	mu   sync.Mutex
	seen []domain.EventType
}

func (r *recordingNotifier) NotifyEvent(_ context.Context, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, evt.Type)
	return nil
}

type failingBus struct{ domain.SignalBus }

func (failingBus) Publish(context.Context, string, []byte) error      { return errors.New("bus down") }
func (failingBus) StreamAppend(context.Context, string, []byte) error { return errors.New("bus down") }

func logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func listed() domain.Event {
	return domain.Event{
		ID:        "evt-1",
		Type:      domain.EventListed,
		ListingID: func() *uint64 { v := uint64(7); return &v }(),
		Actor:     seller,
		Seller:    &seller,
		Price:     1000,
		At:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPublishFansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewSignalBus()
	audit := memory.NewAuditStore()
	n := &recordingNotifier{}
	signer, err := crypto.NewSigner(operatorKey)
	require.NoError(t, err)

	sub, err := bus.Subscribe(ctx, Channel)
	require.NoError(t, err)

	p := NewPublisher(bus, audit, logger(), WithSigner(signer), WithNotifier(n))
	require.NoError(t, p.Publish(ctx, listed()))
	p.Wait()

	select {
	case raw := <-sub:
		var got domain.Event
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "evt-1", got.ID)
		require.NoError(t, crypto.VerifyEvent(got), "subscriber can verify the operator signature")
	case <-time.After(time.Second):
		t.Fatal("no live event")
	}

	replayed, last, err := Replay(ctx, bus, "0", 10)
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	assert.NotEqual(t, "0", last)
	assert.Equal(t, domain.EventListed, replayed[0].Type)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "market.listed", entries[0].Event)
	assert.Equal(t, "evt-1", entries[0].Detail["id"])

	assert.Equal(t, []domain.EventType{domain.EventListed}, n.seen)
}

func TestPublishKeepsAuditWhenBusFails(t *testing.T) {
	audit := memory.NewAuditStore()
	p := NewPublisher(failingBus{}, audit, logger())

	err := p.Publish(context.Background(), listed())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus down")

	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
