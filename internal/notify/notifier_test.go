package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type captureSender struct {
	titles []string
	err    error
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.titles = append(c.titles, title)
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersByType(t *testing.T) {
	c := &captureSender{}
	n := NewNotifier([]Sender{c}, nil, discardLogger())

	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventBidPlaced}))
	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventSettled, Price: 10}))
	assert.Equal(t, []string{"Sale settled"}, c.titles)

	custom := NewNotifier([]Sender{c}, []string{" bid_placed "}, discardLogger())
	assert.True(t, custom.Wants(domain.EventBidPlaced))
	assert.False(t, custom.Wants(domain.EventSettled))
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &captureSender{}
	bad := &captureSender{err: boom}
	n := NewNotifier([]Sender{bad, ok}, nil, discardLogger())

	err := n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventPaused})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.titles, 1, "later senders still run")
}

func TestFormatAuctionEnded(t *testing.T) {
	winner := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	title, _ := Format(domain.Event{Type: domain.EventAuctionEnded})
	assert.Equal(t, "Auction ended without bids", title)

	title, msg := Format(domain.Event{Type: domain.EventAuctionEnded, Buyer: &winner, Price: 500, Fee: 10})
	assert.Equal(t, "Auction won", title)
	assert.Contains(t, msg, "price: 500 native")
	assert.Contains(t, msg, winner.Hex())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Sale settled", "price: 1"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Sale settled*\nprice: 1", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}

func TestDiscordSenderTruncates(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	long := make([]rune, 3000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Listed", string(long)))
	assert.Equal(t, "marketd", got["username"])
	assert.Len(t, []rune(got["content"]), discordContentLimit)
}
