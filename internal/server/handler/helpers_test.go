package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotSeller, http.StatusForbidden},
		{fmt.Errorf("market: cancel: %w", domain.ErrAlreadySettled), http.StatusConflict},
		{domain.ErrBidTooLow, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", domain.ErrPaymentFailed, domain.ErrInsufficientFunds), http.StatusBadGateway},
		{domain.ErrMarketplacePaused, http.StatusLocked},
		{domain.ErrReentrantCall, http.StatusConflict},
		{fmt.Errorf("market: get listing 9: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("market: lock listing:1: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{errors.New("postgres: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var v struct {
		Amount int64 `json:"amount"`
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"amount":5,"extra":1}`))
	require.Error(t, decodeJSON(httptest.NewRecorder(), req, &v))

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"amount":5} {}`))
	require.Error(t, decodeJSON(httptest.NewRecorder(), req, &v))

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"amount":5}`))
	require.NoError(t, decodeJSON(httptest.NewRecorder(), req, &v))
	assert.Equal(t, int64(5), v.Amount)
}

func TestParseListOpts(t *testing.T) {
	opts := parseListOpts(httptest.NewRequest("GET", "/?limit=900&offset=-3", nil))
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 0, opts.Offset)

	opts = parseListOpts(httptest.NewRequest("GET", "/?limit=10&offset=20", nil))
	assert.Equal(t, 10, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
}
