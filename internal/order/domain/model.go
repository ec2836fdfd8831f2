package domain

import (
	"context"
	"errors"
)

// UserResolver resolves a username to the economy user id. Only the legacy
// description decode path needs it; structured metadata already carries the
// resolved identity.
type UserResolver interface {
	ResolveUser(ctx context.Context, username string) (int64, error)
}

// Kind selects which economy action an order maps to.
type Kind string

const (
	KindPayout   Kind = "payout"
	KindPurchase Kind = "purchase"
)

// ItemType classifies the marketplace link behind a purchase order.
type ItemType string

const (
	ItemTypeGamePass ItemType = "gamepass"
	ItemTypeCatalog  ItemType = "catalog"
	ItemTypeLibrary  ItemType = "library"
)

var (
	ErrMissingBuyer      = errors.New("missing_buyer")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrAmountBelowMin    = errors.New("amount_below_minimum")
	ErrUnknownKind       = errors.New("unknown_fulfillment_kind")
	ErrMissingRecipient  = errors.New("missing_recipient")
	ErrMissingItem       = errors.New("missing_item")
	ErrUnclassifiedLink  = errors.New("unclassified_item_link")
	ErrLinkMismatch      = errors.New("item_link_mismatch")
	ErrPriceMismatch     = errors.New("price mismatch")
	ErrMalformedMetadata = errors.New("malformed_metadata")
)

// IsMalformed reports whether err belongs to the decode-failure class: the
// order is recorded failed and the gateway still receives an acknowledgement.
func IsMalformed(err error) bool {
	switch {
	case errors.Is(err, ErrMissingBuyer),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrAmountBelowMin),
		errors.Is(err, ErrUnknownKind),
		errors.Is(err, ErrMissingRecipient),
		errors.Is(err, ErrMissingItem),
		errors.Is(err, ErrUnclassifiedLink),
		errors.Is(err, ErrLinkMismatch),
		errors.Is(err, ErrPriceMismatch),
		errors.Is(err, ErrMalformedMetadata):
		return true
	default:
		return false
	}
}

// Order is the fulfillment intent reconstructed from the payment event
// metadata. The metadata is the sole source of truth: nothing recomputes the
// amount at fulfillment time.
type Order struct {
	Buyer   string
	BuyerID int64
	Amount  int64
	Kind    Kind

	// Payout.
	RecipientID int64

	// Purchase.
	ProductID int64
	ItemID    int64
	ItemType  ItemType
	ItemPrice int64
}
