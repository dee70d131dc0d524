package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// AssetCustody moves token custody in and out of marketplace escrow.
//
// Escrow fails with ErrNotOwner when owner does not hold the asset and with
// ErrAlreadyEscrowed when it is already held. Release fails with
// ErrTransferDenied (or ErrNotEscrowed) when the asset cannot be delivered.
type AssetCustody interface {
	Escrow(ctx context.Context, asset AssetRef, owner common.Address) (Receipt, error)
	Release(ctx context.Context, asset AssetRef, to common.Address) error
	OwnerOf(ctx context.Context, asset AssetRef) (owner common.Address, escrowed bool, err error)
}

// PaymentGateway moves funds between accounts. Transfer is a single atomic
// external call: it either moves the full amount or fails with
// ErrInsufficientFunds / ErrRejected and moves nothing.
type PaymentGateway interface {
	Transfer(ctx context.Context, from, to common.Address, amount Amount, currency Currency) error
	Balance(ctx context.Context, account common.Address, currency Currency) (Amount, error)
}

// EventPublisher fans a committed event out to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}
