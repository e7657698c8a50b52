package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Validate checks a creation request before any state is written.
func (r CreateLinkRequest) Validate() error {
	if r.Recipient.IsZero() {
		return ErrInvalidRecipient
	}
	if !r.Amount.IsPositive() || !r.Amount.IsInteger() {
		return ErrInvalidAmount
	}
	return nil
}

// CheckSettlement runs the ordered validation sequence for pay against a
// committed snapshot of the link. The first failing check wins. Callers must
// hold the link's serialization boundary while checking and committing.
func (l *PaymentLink) CheckSettlement(r PayRequest, now time.Time) error {
	if l.Cancelled {
		return ErrLinkCancelled
	}
	if l.Paid {
		return ErrAlreadyPaid
	}
	if l.Expiry != 0 && now.Unix() >= l.Expiry {
		return ErrLinkExpired
	}
	if r.Asset != l.Asset {
		return ErrAssetMismatch
	}
	if l.Asset == NativeAsset {
		// Balances hold integral smallest-unit quantities. Token
		// settlements ignore the tendered amount.
		if !r.Amount.IsInteger() {
			return ErrInvalidAmount
		}
		if r.Amount.LessThan(l.Amount) {
			return ErrInsufficientFunds
		}
	}
	return nil
}

// CheckCancellation validates a cancel call against a committed snapshot.
// A repeat cancel fails with ErrLinkCancelled rather than succeeding silently.
func (l *PaymentLink) CheckCancellation(caller Address) error {
	if caller != l.Creator {
		return ErrNotCreator
	}
	if l.Paid {
		return ErrAlreadyPaid
	}
	if l.Cancelled {
		return ErrLinkCancelled
	}
	return nil
}

// RefundFor returns the surplus owed back to the payer for a settlement that
// passed CheckSettlement. Token settlements debit the exact amount, so a
// surplus exists only on the native path.
func (l *PaymentLink) RefundFor(r PayRequest) decimal.Decimal {
	if l.Asset == NativeAsset {
		return r.Amount.Sub(l.Amount)
	}
	return decimal.Zero
}
