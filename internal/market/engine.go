// Package market implements the marketplace settlement engine: role-gated
// administration, fixed-price and auction listings, escrowed offers, and the
// settlement coordinator that exchanges custody for a split payment.
//
// Every mutating operation runs under an exclusive per-entity lock, performs
// its external calls (custody, payments) first, and writes the entity row
// once at the end. Events are published only after that write commits.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const (
	defaultLockTTL    = 30 * time.Second
	defaultLockWait   = 10 * time.Second
	lockPollInterval  = 5 * time.Millisecond
	defaultMaxAuction = 30 * 24 * time.Hour
	configLockKey     = "config"
	rolesLockKey      = "roles"
	listingKeyPrefix  = "listing:"
	offerKeyPrefix    = "offer:"
	assetKeyPrefix    = "asset:"
)

// Clock supplies the trusted time used for auction expiry.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Deps are the collaborators the engine drives.
type Deps struct {
	Ledger   domain.Ledger
	Custody  domain.AssetCustody
	Payments domain.PaymentGateway
	Locks    domain.LockManager
	Events   domain.EventPublisher
}

// Options tune engine behaviour. Zero values select defaults.
type Options struct {
	// EscrowAccount holds bid and offer funds between placement and
	// settlement or refund.
	EscrowAccount      common.Address
	LockTTL            time.Duration
	LockWait           time.Duration
	MaxAuctionDuration time.Duration
	Clock              Clock
	Logger             *slog.Logger
}

// Engine is the single entry point for every caller-facing marketplace
// operation.
type Engine struct {
	ledger   domain.Ledger
	custody  domain.AssetCustody
	payments domain.PaymentGateway
	locks    domain.LockManager
	events   domain.EventPublisher

	escrow     common.Address
	lockTTL    time.Duration
	lockWait   time.Duration
	maxAuction time.Duration
	clock      Clock
	guard      *settlementGuard
	logger     *slog.Logger
}

// New builds an Engine. Ledger, Custody, Payments and Locks are required.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Ledger == nil || deps.Custody == nil || deps.Payments == nil || deps.Locks == nil {
		return nil, errors.New("market: ledger, custody, payments and locks are required")
	}
	if domain.IsZero(opts.EscrowAccount) {
		return nil, fmt.Errorf("market: escrow account: %w", domain.ErrInvalidAddress)
	}
	e := &Engine{
		ledger:     deps.Ledger,
		custody:    deps.Custody,
		payments:   deps.Payments,
		locks:      deps.Locks,
		events:     deps.Events,
		escrow:     opts.EscrowAccount,
		lockTTL:    opts.LockTTL,
		lockWait:   opts.LockWait,
		maxAuction: opts.MaxAuctionDuration,
		clock:      opts.Clock,
		guard:      newSettlementGuard(),
		logger:     opts.Logger,
	}
	if e.lockTTL <= 0 {
		e.lockTTL = defaultLockTTL
	}
	if e.lockWait <= 0 {
		e.lockWait = defaultLockWait
	}
	if e.maxAuction <= 0 {
		e.maxAuction = defaultMaxAuction
	}
	if e.clock == nil {
		e.clock = systemClock{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slog.String("component", "market"))
	return e, nil
}

// Bootstrap seeds the platform config and the default admin on first start.
// It is a no-op for whichever of the two already exists.
func (e *Engine) Bootstrap(ctx context.Context, admin common.Address, defaults domain.PlatformConfig) error {
	if domain.IsZero(admin) {
		return fmt.Errorf("market: bootstrap admin: %w", domain.ErrInvalidAddress)
	}
	if defaults.FeeBps > domain.MaxFeeBps {
		return fmt.Errorf("market: bootstrap fee: %w", domain.ErrFeeOutOfRange)
	}
	if defaults.FeeBps > 0 && domain.IsZero(defaults.FeeRecipient) {
		return fmt.Errorf("market: bootstrap fee recipient: %w", domain.ErrInvalidAddress)
	}

	return e.ledger.InTx(ctx, func(tx domain.Ledger) error {
		if _, err := tx.Config().Get(ctx); errors.Is(err, domain.ErrNotFound) {
			defaults.UpdatedAt = e.clock.Now()
			if err := tx.Config().Save(ctx, defaults); err != nil {
				return fmt.Errorf("market: bootstrap config: %w", err)
			}
			e.logger.InfoContext(ctx, "platform config seeded",
				slog.Int("fee_bps", int(defaults.FeeBps)),
				slog.String("fee_recipient", defaults.FeeRecipient.Hex()),
			)
		} else if err != nil {
			return fmt.Errorf("market: bootstrap config: %w", err)
		}

		admins, err := tx.Roles().Members(ctx, domain.RoleAdmin)
		if err != nil {
			return fmt.Errorf("market: bootstrap admins: %w", err)
		}
		if len(admins) > 0 {
			return nil
		}
		if err := tx.Roles().Grant(ctx, domain.RoleAssignment{
			Role:      domain.RoleAdmin,
			Account:   admin,
			GrantedBy: admin,
			GrantedAt: e.clock.Now(),
		}); err != nil {
			return fmt.Errorf("market: bootstrap admin: %w", err)
		}
		e.logger.InfoContext(ctx, "default admin seeded", slog.String("account", admin.Hex()))
		return nil
	})
}

// EscrowAccount returns the account that holds bid and offer funds.
func (e *Engine) EscrowAccount() common.Address { return e.escrow }

// lock acquires every key in order, polling while another holder owns one.
// The returned release func unlocks in reverse order.
func (e *Engine) lock(ctx context.Context, keys ...string) (func(), error) {
	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()

	for _, key := range keys {
		for {
			unlock, err := e.locks.Acquire(waitCtx, key, e.lockTTL)
			if err == nil {
				unlocks = append(unlocks, unlock)
				break
			}
			if !errors.Is(err, domain.ErrLockHeld) {
				release()
				return nil, fmt.Errorf("market: lock %s: %w", key, err)
			}
			timer := time.NewTimer(lockPollInterval)
			select {
			case <-waitCtx.Done():
				timer.Stop()
				release()
				return nil, fmt.Errorf("market: lock %s: %w", key, waitCtx.Err())
			case <-timer.C:
			}
		}
	}
	return release, nil
}

// config loads the platform config.
func (e *Engine) config(ctx context.Context) (domain.PlatformConfig, error) {
	cfg, err := e.ledger.Config().Get(ctx)
	if err != nil {
		return domain.PlatformConfig{}, fmt.Errorf("market: load config: %w", err)
	}
	return cfg, nil
}

// ensureNotPaused short-circuits state-mutating entry points during an
// emergency stop.
func (e *Engine) ensureNotPaused(ctx context.Context) error {
	cfg, err := e.config(ctx)
	if err != nil {
		return err
	}
	if cfg.Paused {
		return domain.ErrMarketplacePaused
	}
	return nil
}

// emit publishes evt. The state change has already committed, so a publish
// failure is logged rather than returned.
func (e *Engine) emit(ctx context.Context, evt domain.Event) {
	if e.events == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = e.clock.Now()
	}
	if err := e.events.Publish(ctx, evt); err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			slog.String("type", string(evt.Type)),
			slog.String("event_id", evt.ID),
			slog.String("error", err.Error()),
		)
	}
}

func listingKey(id uint64) string { return fmt.Sprintf("%s%d", listingKeyPrefix, id) }

func offerKey(id uint64) string { return fmt.Sprintf("%s%d", offerKeyPrefix, id) }

func assetKey(a domain.AssetRef) string { return assetKeyPrefix + a.Key() }

func ptr[T any](v T) *T { return &v }
