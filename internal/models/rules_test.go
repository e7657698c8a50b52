package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	creator   = Address("0x1111111111111111111111111111111111111111")
	recipient = Address("0x2222222222222222222222222222222222222222")
	payer     = Address("0x3333333333333333333333333333333333333333")
	token     = Address("0x00000000000000000000000000000000000000aa")
)

func TestCreateLinkRequest_Validate(t *testing.T) {
	valid := CreateLinkRequest{
		Creator:   creator,
		Recipient: recipient,
		Asset:     NativeAsset,
		Amount:    decimal.NewFromInt(100),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("zero recipient", func(t *testing.T) {
		req := valid
		req.Recipient = ZeroAddress
		if err := req.Validate(); !errors.Is(err, ErrInvalidRecipient) {
			t.Errorf("got %v, want ErrInvalidRecipient", err)
		}
	})

	t.Run("non-positive amount", func(t *testing.T) {
		for _, amt := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
			req := valid
			req.Amount = amt
			if err := req.Validate(); !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("amount %s: got %v, want ErrInvalidAmount", amt, err)
			}
		}
	})

	t.Run("fractional amount", func(t *testing.T) {
		req := valid
		req.Amount = decimal.RequireFromString("1.5")
		if err := req.Validate(); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("got %v, want ErrInvalidAmount", err)
		}
	})

	t.Run("recipient precedence over amount", func(t *testing.T) {
		req := valid
		req.Recipient = ZeroAddress
		req.Amount = decimal.Zero
		if err := req.Validate(); !errors.Is(err, ErrInvalidRecipient) {
			t.Errorf("got %v, want ErrInvalidRecipient first", err)
		}
	})
}

func nativeLink() PaymentLink {
	return PaymentLink{
		ID:        DeriveLinkID(creator, recipient, NativeAsset, decimal.NewFromInt(100), 0, 1),
		Creator:   creator,
		Recipient: recipient,
		Asset:     NativeAsset,
		Amount:    decimal.NewFromInt(100),
	}
}

func nativePay(amount int64) PayRequest {
	return PayRequest{Payer: payer, Asset: NativeAsset, Amount: decimal.NewFromInt(amount)}
}

func TestCheckSettlement_Order(t *testing.T) {
	now := time.Unix(5000, 0)

	t.Run("cancelled wins over paid", func(t *testing.T) {
		l := nativeLink()
		l.Cancelled = true
		l.Paid = false
		if err := l.CheckSettlement(nativePay(100), now); !errors.Is(err, ErrLinkCancelled) {
			t.Errorf("got %v, want ErrLinkCancelled", err)
		}
	})

	t.Run("paid before expiry", func(t *testing.T) {
		l := nativeLink()
		l.Paid = true
		l.Expiry = 1 // long past
		if err := l.CheckSettlement(nativePay(100), now); !errors.Is(err, ErrAlreadyPaid) {
			t.Errorf("got %v, want ErrAlreadyPaid", err)
		}
	})

	t.Run("expiry before asset", func(t *testing.T) {
		l := nativeLink()
		l.Expiry = 1
		req := nativePay(100)
		req.Asset = token
		if err := l.CheckSettlement(req, now); !errors.Is(err, ErrLinkExpired) {
			t.Errorf("got %v, want ErrLinkExpired", err)
		}
	})

	t.Run("asset mismatch before funds", func(t *testing.T) {
		l := nativeLink()
		req := nativePay(1) // underpaid AND wrong asset
		req.Asset = token
		if err := l.CheckSettlement(req, now); !errors.Is(err, ErrAssetMismatch) {
			t.Errorf("got %v, want ErrAssetMismatch", err)
		}
	})

	t.Run("fractional native tender rejected", func(t *testing.T) {
		l := nativeLink()
		req := PayRequest{Payer: payer, Asset: NativeAsset, Amount: decimal.RequireFromString("100.5")}
		if err := l.CheckSettlement(req, now); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("got %v, want ErrInvalidAmount", err)
		}
	})

	t.Run("fractional tender before funds", func(t *testing.T) {
		l := nativeLink()
		req := PayRequest{Payer: payer, Asset: NativeAsset, Amount: decimal.RequireFromString("99.5")}
		if err := l.CheckSettlement(req, now); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("got %v, want ErrInvalidAmount", err)
		}
	})

	t.Run("asset mismatch before fractional tender", func(t *testing.T) {
		l := nativeLink()
		req := PayRequest{Payer: payer, Asset: token, Amount: decimal.RequireFromString("100.5")}
		if err := l.CheckSettlement(req, now); !errors.Is(err, ErrAssetMismatch) {
			t.Errorf("got %v, want ErrAssetMismatch", err)
		}
	})

	t.Run("native underpayment", func(t *testing.T) {
		l := nativeLink()
		if err := l.CheckSettlement(nativePay(99), now); !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("got %v, want ErrInsufficientFunds", err)
		}
	})

	t.Run("exact and overpayment pass", func(t *testing.T) {
		l := nativeLink()
		for _, amt := range []int64{100, 150} {
			if err := l.CheckSettlement(nativePay(amt), now); err != nil {
				t.Errorf("amount %d: unexpected error %v", amt, err)
			}
		}
	})

	t.Run("token ignores tendered amount", func(t *testing.T) {
		l := nativeLink()
		l.Asset = token
		for _, amt := range []decimal.Decimal{decimal.Zero, decimal.RequireFromString("0.5")} {
			req := PayRequest{Payer: payer, Asset: token, Amount: amt}
			if err := l.CheckSettlement(req, now); err != nil {
				t.Errorf("tendered %s: unexpected error %v", amt, err)
			}
		}
	})

	t.Run("no expiry never expires", func(t *testing.T) {
		l := nativeLink()
		if err := l.CheckSettlement(nativePay(100), time.Unix(1<<40, 0)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestCheckCancellation(t *testing.T) {
	t.Run("creator may cancel", func(t *testing.T) {
		l := nativeLink()
		if err := l.CheckCancellation(creator); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("non-creator rejected", func(t *testing.T) {
		l := nativeLink()
		if err := l.CheckCancellation(payer); !errors.Is(err, ErrNotCreator) {
			t.Errorf("got %v, want ErrNotCreator", err)
		}
	})

	t.Run("paid link cannot be cancelled", func(t *testing.T) {
		l := nativeLink()
		l.Paid = true
		if err := l.CheckCancellation(creator); !errors.Is(err, ErrAlreadyPaid) {
			t.Errorf("got %v, want ErrAlreadyPaid", err)
		}
	})

	t.Run("repeat cancel is a defined error", func(t *testing.T) {
		l := nativeLink()
		l.Cancelled = true
		if err := l.CheckCancellation(creator); !errors.Is(err, ErrLinkCancelled) {
			t.Errorf("got %v, want ErrLinkCancelled", err)
		}
	})
}

func TestRefundFor(t *testing.T) {
	l := nativeLink()
	if got := l.RefundFor(nativePay(150)); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("refund = %s, want 50", got)
	}
	if got := l.RefundFor(nativePay(100)); !got.IsZero() {
		t.Errorf("refund = %s, want 0", got)
	}

	l.Asset = token
	req := PayRequest{Payer: payer, Asset: token, Amount: decimal.NewFromInt(500)}
	if got := l.RefundFor(req); !got.IsZero() {
		t.Errorf("token refund = %s, want 0", got)
	}
}
