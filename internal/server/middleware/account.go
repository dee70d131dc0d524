package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Headers carrying the caller identity.
const (
	HeaderAccount   = "X-Account"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 1 << 20

type accountKey struct{}

// WithAccount returns a copy of ctx carrying the authenticated caller.
func WithAccount(ctx context.Context, acct common.Address) context.Context {
	return context.WithValue(ctx, accountKey{}, acct)
}

// AccountFrom returns the authenticated caller bound by Account.
func AccountFrom(ctx context.Context) (common.Address, bool) {
	acct, ok := ctx.Value(accountKey{}).(common.Address)
	return acct, ok
}

// AccountOptions configures caller authentication.
type AccountOptions struct {
	// Dev trusts X-Account without a signature.
	Dev bool

	// MaxSkew bounds the distance between X-Timestamp and now.
	MaxSkew time.Duration

	// Nonces records the digest of every signed mutation for the skew
	// window; a second request with the same digest is rejected.
	Nonces domain.LockManager
	Now    func() time.Time
	Logger *slog.Logger
}

// replayKeyPrefix namespaces claimed request digests in the lock table.
const replayKeyPrefix = "auth:replay:"

// defaultReplayTTL applies when MaxSkew is unset.
const defaultReplayTTL = 24 * time.Hour

// Account binds the caller account to the request context. Requests without
// X-Account pass through anonymously so public reads keep working. In
// signature mode the caller must also send X-Timestamp (unix seconds) and
// X-Signature, an EIP-191 signature over method, path, timestamp and body hash
// that must recover to X-Account.
func Account(opts AccountOptions) func(http.Handler) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderAccount)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			claimed, err := domain.ParseAccount(raw)
			if err != nil {
				writeUnauthorized(w, "invalid X-Account")
				return
			}
			if !opts.Dev {
				if msg := verifyRequest(r, claimed, opts); msg != "" {
					opts.Logger.WarnContext(r.Context(), "auth: signature rejected",
						slog.String("account", claimed.Hex()),
						slog.String("path", r.URL.Path),
						slog.String("reason", msg),
					)
					writeUnauthorized(w, msg)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), claimed)))
		})
	}
}

// verifyRequest checks the signature headers and returns a rejection reason,
// or "" when the request is signed by claimed. The body is restored for the
// next handler.
func verifyRequest(r *http.Request, claimed common.Address, opts AccountOptions) string {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return "missing or invalid X-Timestamp"
	}
	skew := opts.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if opts.MaxSkew > 0 && skew > opts.MaxSkew {
		return "stale X-Timestamp"
	}
	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return "missing X-Signature"
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
		r.Body.Close()
		if err != nil || len(body) > maxSignedBody {
			return "unreadable request body"
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	digest := crypto.RequestDigest(r.Method, r.URL.Path, ts, body)
	got, err := crypto.RecoverAccount(digest, sig)
	if err != nil {
		return "invalid X-Signature"
	}
	if got != claimed {
		return "signature does not match X-Account"
	}
	return claimDigest(r, claimed, digest, opts)
}

// claimDigest rejects a signed mutation whose digest was already used.
// Reads are idempotent and may be repeated.
func claimDigest(r *http.Request, claimed common.Address, digest []byte, opts AccountOptions) string {
	if opts.Nonces == nil {
		return ""
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ""
	}
	ttl := 2 * opts.MaxSkew
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	key := replayKeyPrefix + strings.ToLower(claimed.Hex()) + ":" + hex.EncodeToString(digest)
	if _, err := opts.Nonces.Acquire(r.Context(), key, ttl); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return "replayed request"
		}
		opts.Logger.ErrorContext(r.Context(), "auth: replay check failed", slog.String("error", err.Error()))
		return "replay check unavailable"
	}
	return ""
}
