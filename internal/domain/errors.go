package domain

import "errors"

// ErrorKind classifies a marketplace failure so transport layers can map it
// without enumerating every sentinel.
type ErrorKind string

const (
	KindAuthorization   ErrorKind = "authorization"
	KindStateConflict   ErrorKind = "state_conflict"
	KindValidation      ErrorKind = "validation"
	KindExternalFailure ErrorKind = "external_failure"
	KindSafety          ErrorKind = "safety"
	KindNotFound        ErrorKind = "not_found"
)

// MarketError is a typed engine failure. Sentinels below are compared with
// errors.Is; the Kind is recovered with KindOf.
type MarketError struct {
	Kind ErrorKind
	Code string
}

func (e *MarketError) Error() string { return e.Code }

func newErr(kind ErrorKind, code string) *MarketError {
	return &MarketError{Kind: kind, Code: code}
}

// KindOf returns the kind of the first MarketError in err's chain, or "" when
// err carries none.
func KindOf(err error) ErrorKind {
	var me *MarketError
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// Authorization
var (
	ErrUnauthorized  = newErr(KindAuthorization, "unauthorized")
	ErrNotSeller     = newErr(KindAuthorization, "not seller")
	ErrNotBidder     = newErr(KindAuthorization, "not bidder")
	ErrNotAssetOwner = newErr(KindAuthorization, "not asset owner")
	ErrNotAuthorized = newErr(KindAuthorization, "not authorized")
)

// State conflict
var (
	ErrAlreadySettled     = newErr(KindStateConflict, "already settled")
	ErrAuctionNotActive   = newErr(KindStateConflict, "auction not active")
	ErrOfferNotOpen       = newErr(KindStateConflict, "offer not open")
	ErrAuctionStillActive = newErr(KindStateConflict, "auction still active")
	ErrAssetAlreadyListed = newErr(KindStateConflict, "asset already listed")
	ErrAuctionHasBids     = newErr(KindStateConflict, "auction has bids")
	ErrLastAdmin          = newErr(KindStateConflict, "cannot revoke the last admin")
	ErrNotFixedPrice      = newErr(KindStateConflict, "listing is not fixed price")
)

// Validation
var (
	ErrInvalidPrice        = newErr(KindValidation, "invalid price")
	ErrInvalidAmount       = newErr(KindValidation, "invalid amount")
	ErrBidTooLow           = newErr(KindValidation, "bid too low")
	ErrFeeOutOfRange       = newErr(KindValidation, "fee out of range")
	ErrInvalidFeeConfig    = newErr(KindValidation, "invalid fee config")
	ErrInvalidAddress      = newErr(KindValidation, "invalid address")
	ErrInvalidDuration     = newErr(KindValidation, "invalid auction duration")
	ErrUnsupportedCurrency = newErr(KindValidation, "unsupported currency")
	ErrRoyaltyOutOfRange   = newErr(KindValidation, "royalty out of range")
	ErrSelfTrade           = newErr(KindValidation, "cannot trade with yourself")
	ErrInvalidRole         = newErr(KindValidation, "invalid role")
	ErrInvalidAsset        = newErr(KindValidation, "invalid asset reference")
)

// External failure
var (
	ErrPaymentFailed       = newErr(KindExternalFailure, "payment failed")
	ErrAssetTransferFailed = newErr(KindExternalFailure, "asset transfer failed")
)

// Safety
var (
	ErrReentrantCall     = newErr(KindSafety, "reentrant call")
	ErrMarketplacePaused = newErr(KindSafety, "marketplace paused")
)

// Not found
var (
	ErrNotFound = newErr(KindNotFound, "not found")
)

// Infrastructure errors returned by stores and adapters. They are wrapped by
// the engine into the taxonomy above.
var (
	ErrConflict          = errors.New("conditional write conflict")
	ErrLockHeld          = errors.New("lock already held")
	ErrNotOwner          = errors.New("custody: not owner")
	ErrAlreadyEscrowed   = errors.New("custody: already escrowed")
	ErrNotEscrowed       = errors.New("custody: not escrowed")
	ErrTransferDenied    = errors.New("custody: transfer denied")
	ErrInsufficientFunds = errors.New("payment: insufficient funds")
	ErrRejected          = errors.New("payment: rejected")
)
