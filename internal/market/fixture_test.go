package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/store/memory"
)

var (
	admin       = common.HexToAddress("0xa000000000000000000000000000000000000001")
	team        = common.HexToAddress("0xa000000000000000000000000000000000000002")
	feeAccount  = common.HexToAddress("0xf000000000000000000000000000000000000001")
	escrowAcct  = common.HexToAddress("0xe000000000000000000000000000000000000001")
	creator     = common.HexToAddress("0xc000000000000000000000000000000000000009")
	alice       = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob         = common.HexToAddress("0x2000000000000000000000000000000000000002")
	carol       = common.HexToAddress("0x3000000000000000000000000000000000000003")
	collection  = common.HexToAddress("0xc000000000000000000000000000000000000001")
	errInjected = errors.New("injected failure")
)

func token(id string) domain.AssetRef {
	return domain.AssetRef{Contract: collection, TokenID: id}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) last(typ domain.EventType) (domain.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return domain.Event{}, false
}

// hookCustody wraps the custody book so tests can fail or intercept Release.
type hookCustody struct {
	*memory.CustodyBook
	failRelease bool
	onRelease   func(ctx context.Context)
}

func (h *hookCustody) Release(ctx context.Context, asset domain.AssetRef, to common.Address) error {
	if h.onRelease != nil {
		hook := h.onRelease
		h.onRelease = nil
		hook(ctx)
	}
	if h.failRelease {
		return domain.ErrTransferDenied
	}
	return h.CustodyBook.Release(ctx, asset, to)
}

// faultyLedger fails settlement inserts made inside a transaction.
type faultyLedger struct {
	domain.Ledger
	failInsert bool
}

func (f *faultyLedger) Settlements() domain.SettlementStore {
	if f.failInsert {
		return failingSettlements{f.Ledger.Settlements()}
	}
	return f.Ledger.Settlements()
}

func (f *faultyLedger) InTx(ctx context.Context, fn func(tx domain.Ledger) error) error {
	return f.Ledger.InTx(ctx, func(tx domain.Ledger) error {
		return fn(&faultyLedger{Ledger: tx, failInsert: f.failInsert})
	})
}

type failingSettlements struct{ domain.SettlementStore }

func (failingSettlements) Insert(context.Context, domain.Settlement) error { return errInjected }

type fixture struct {
	t        *testing.T
	ctx      context.Context
	eng      *Engine
	ledger   *faultyLedger
	custody  *hookCustody
	balances *memory.BalanceBook
	clock    *fakeClock
	events   *recorder
}

func newFixture(t *testing.T, feeBps uint16, opts ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		ledger:   &faultyLedger{Ledger: memory.NewLedger()},
		custody:  &hookCustody{CustodyBook: memory.NewCustodyBook()},
		balances: memory.NewBalanceBook(),
		clock:    &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		events:   &recorder{},
	}
	o := Options{EscrowAccount: escrowAcct, Clock: f.clock}
	for _, fn := range opts {
		fn(&o)
	}
	eng, err := New(Deps{
		Ledger:   f.ledger,
		Custody:  f.custody,
		Payments: f.balances,
		Locks:    memory.NewLockManager(),
		Events:   f.events,
	}, o)
	require.NoError(t, err)
	f.eng = eng

	require.NoError(t, eng.Bootstrap(f.ctx, admin, domain.PlatformConfig{FeeBps: feeBps, FeeRecipient: feeAccount}))
	require.NoError(t, eng.GrantRole(f.ctx, domain.RoleTeam, team, admin))
	return f
}

func (f *fixture) balance(acct common.Address) domain.Amount {
	f.t.Helper()
	b, err := f.balances.Balance(f.ctx, acct, domain.NativeCurrency)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) fund(acct common.Address, amount domain.Amount) {
	f.balances.Credit(acct, domain.NativeCurrency, amount)
}

func (f *fixture) royalty(bps uint16) {
	f.t.Helper()
	require.NoError(f.t, f.eng.SetRoyalty(f.ctx, collection, creator, bps, admin))
}

func (f *fixture) listFixed(owner common.Address, asset domain.AssetRef, price domain.Amount) uint64 {
	f.t.Helper()
	f.custody.Mint(asset, owner)
	id, err := f.eng.CreateListing(f.ctx, owner, domain.ListingRequest{Asset: asset, Price: price})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) listAuction(owner common.Address, asset domain.AssetRef, minBid domain.Amount, d time.Duration) uint64 {
	f.t.Helper()
	f.custody.Mint(asset, owner)
	id, err := f.eng.CreateListing(f.ctx, owner, domain.ListingRequest{
		Asset:     asset,
		Price:     minBid + 1,
		IsAuction: true,
		Duration:  d,
		MinBid:    minBid,
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) listing(id uint64) domain.Listing {
	f.t.Helper()
	l, err := f.eng.GetListing(f.ctx, id)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) owner(asset domain.AssetRef) (common.Address, bool) {
	f.t.Helper()
	o, escrowed, err := f.custody.OwnerOf(f.ctx, asset)
	require.NoError(f.t, err)
	return o, escrowed
}
