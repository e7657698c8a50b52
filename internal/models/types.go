package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Address is a 20-byte identity in canonical form: "0x" + 40 lowercase hex digits.
// The all-zero address is reserved: as a party it is the null identity, as an
// asset it denotes the environment's native currency.
type Address string

// ZeroAddress is the reserved null identity.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// NativeAsset denotes the native currency in the asset field of a link.
const NativeAsset = ZeroAddress

// ParseAddress validates and canonicalizes an address string.
func ParseAddress(s string) (Address, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return "", fmt.Errorf("invalid address %q", s)
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return Address(s), nil
}

// IsZero reports whether a is the reserved null identity.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// LinkID is a 32-byte link identifier, hex-encoded without prefix.
type LinkID string

// ParseLinkID validates a link id string.
func ParseLinkID(s string) (LinkID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 64 {
		return "", fmt.Errorf("invalid link id %q", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid link id %q", s)
	}
	return LinkID(s), nil
}

// DeriveLinkID computes the identifier for a new link from its creation inputs
// plus the store's monotonic counter. The counter guarantees uniqueness even
// when the same creator registers identical terms twice.
func DeriveLinkID(creator, recipient, asset Address, amount decimal.Decimal, expiry int64, nonce uint64) LinkID {
	h := sha256.New()
	h.Write([]byte(creator))
	h.Write([]byte(recipient))
	h.Write([]byte(asset))
	h.Write([]byte(amount.String()))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(expiry))
	binary.BigEndian.PutUint64(buf[8:16], nonce)
	h.Write(buf[:])
	return LinkID(hex.EncodeToString(h.Sum(nil)))
}

// PaymentLink is the persistent record of a payment intent.
// Paid and Cancelled are monotonic and mutually exclusive; every other field
// is immutable after creation. Records are never deleted.
type PaymentLink struct {
	ID        LinkID          `json:"id"`
	Creator   Address         `json:"creator"`
	Recipient Address         `json:"recipient"`
	Asset     Address         `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Expiry    int64           `json:"expiry"`
	Memo      string          `json:"memo"`
	Paid      bool            `json:"paid"`
	Cancelled bool            `json:"cancelled"`
	Seq       int64           `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActiveAt reports whether the link can still be settled at the given instant.
func (l *PaymentLink) ActiveAt(now time.Time) bool {
	if l.Paid || l.Cancelled {
		return false
	}
	return l.Expiry == 0 || now.Unix() < l.Expiry
}

// CreateLinkRequest is the payload for registering a new link.
type CreateLinkRequest struct {
	Creator   Address         `json:"creator"`
	Recipient Address         `json:"recipient"`
	Asset     Address         `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Expiry    int64           `json:"expiry"`
	Memo      string          `json:"memo"`
}

// PayRequest is the payload for settling a link. Amount is the tendered
// amount; it only applies to native-asset links, token links debit the link
// amount exactly.
type PayRequest struct {
	LinkID LinkID          `json:"link_id"`
	Payer  Address         `json:"payer"`
	Asset  Address         `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferReceipt is returned by a successful settlement. Refunded is the
// surplus returned to the payer on the native-asset path, zero otherwise.
type TransferReceipt struct {
	LinkID    LinkID          `json:"link_id"`
	Payer     Address         `json:"payer"`
	Recipient Address         `json:"recipient"`
	Asset     Address         `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Refunded  decimal.Decimal `json:"refunded"`
	PaidAt    time.Time       `json:"paid_at"`
}

// Event kinds recorded in the notification log.
const (
	EventLinkCreated      = "link_created"
	EventPaymentCompleted = "payment_completed"
	EventLinkCancelled    = "link_cancelled"
)

// Event is one entry of the append-only notification log. Exactly one
// link_created event exists per link, and at most one of the terminal kinds.
type Event struct {
	ID        uuid.UUID `json:"id"`
	LinkID    LinkID    `json:"link_id"`
	Kind      string    `json:"kind"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// LinkCreatedPayload is the body of a link_created event.
type LinkCreatedPayload struct {
	ID        LinkID          `json:"id"`
	Creator   Address         `json:"creator"`
	Recipient Address         `json:"recipient"`
	Asset     Address         `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Expiry    int64           `json:"expiry"`
	Memo      string          `json:"memo"`
}

// PaymentCompletedPayload is the body of a payment_completed event.
type PaymentCompletedPayload struct {
	ID        LinkID          `json:"id"`
	Payer     Address         `json:"payer"`
	Recipient Address         `json:"recipient"`
	Asset     Address         `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
}

// LinkCancelledPayload is the body of a link_cancelled event.
type LinkCancelledPayload struct {
	ID LinkID `json:"id"`
}
