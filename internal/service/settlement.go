package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/paylinka/linkledger/internal/models"
)

// SettlementService executes payments and cancellations against the Postgres
// ledger. Each operation is one transaction holding a row lock on the link, so
// mutations on the same id are strictly serialized while different ids proceed
// independently. The loser of a pay/cancel race sees the winner's terminal
// state as a normal rejection.
type SettlementService struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewSettlementService(db *pgxpool.Pool) *SettlementService {
	return &SettlementService{db: db, now: time.Now}
}

// Pay validates and settles a link. The paid flag is committed in the same
// transaction as the balance movement, and is written before the outbound
// credit so a transfer callback can never re-enter an unpaid link.
func (s *SettlementService) Pay(ctx context.Context, req models.PayRequest) (*models.TransferReceipt, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	link, err := lockLink(ctx, tx, req.LinkID)
	if err != nil {
		return nil, err
	}

	if err := link.CheckSettlement(req, s.now()); err != nil {
		return nil, err
	}

	// Flip paid before moving funds.
	if _, err := tx.Exec(ctx, "UPDATE links SET paid = TRUE WHERE id = $1", link.ID); err != nil {
		return nil, fmt.Errorf("paid update failed: %w", err)
	}

	// Native links debit the full tendered amount and credit the surplus
	// back; token links pull the link amount exactly.
	debit := link.Amount
	if link.Asset == models.NativeAsset {
		debit = req.Amount
	}
	tag, err := tx.Exec(ctx,
		"UPDATE balances SET balance = balance - $1 WHERE address = $2 AND asset = $3 AND balance >= $1",
		debit, req.Payer, link.Asset)
	if err != nil {
		return nil, fmt.Errorf("debit failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrTransferFailed
	}

	if err := credit(ctx, tx, link.Recipient, link.Asset, link.Amount); err != nil {
		return nil, err
	}
	refund := link.RefundFor(req)
	if refund.IsPositive() {
		if err := credit(ctx, tx, req.Payer, link.Asset, refund); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(models.PaymentCompletedPayload{
		ID:        link.ID,
		Payer:     req.Payer,
		Recipient: link.Recipient,
		Asset:     link.Asset,
		Amount:    link.Amount,
	})
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO link_events (id, link_id, kind, payload) VALUES ($1, $2, $3, $4)",
		uuid.New(), link.ID, models.EventPaymentCompleted, payload)
	if err != nil {
		return nil, fmt.Errorf("event insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	return &models.TransferReceipt{
		LinkID:    link.ID,
		Payer:     req.Payer,
		Recipient: link.Recipient,
		Asset:     link.Asset,
		Amount:    link.Amount,
		Refunded:  refund,
		PaidAt:    s.now(),
	}, nil
}

// Cancel marks a link cancelled on behalf of its creator.
func (s *SettlementService) Cancel(ctx context.Context, id models.LinkID, caller models.Address) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	link, err := lockLink(ctx, tx, id)
	if err != nil {
		return err
	}

	if err := link.CheckCancellation(caller); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "UPDATE links SET cancelled = TRUE WHERE id = $1", link.ID); err != nil {
		return fmt.Errorf("cancel update failed: %w", err)
	}

	payload, err := json.Marshal(models.LinkCancelledPayload{ID: link.ID})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO link_events (id, link_id, kind, payload) VALUES ($1, $2, $3, $4)",
		uuid.New(), link.ID, models.EventLinkCancelled, payload)
	if err != nil {
		return fmt.Errorf("event insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// lockLink reads the link under FOR UPDATE, serializing every mutation on it.
func lockLink(ctx context.Context, tx pgx.Tx, id models.LinkID) (*models.PaymentLink, error) {
	var link models.PaymentLink
	err := tx.QueryRow(ctx,
		`SELECT id, creator, recipient, asset, amount, expiry, memo, paid, cancelled, seq, created_at
		 FROM links WHERE id = $1 FOR UPDATE`, id,
	).Scan(&link.ID, &link.Creator, &link.Recipient, &link.Asset, &link.Amount,
		&link.Expiry, &link.Memo, &link.Paid, &link.Cancelled, &link.Seq, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrLinkNotFound
		}
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return &link, nil
}

func credit(ctx context.Context, tx pgx.Tx, address, asset models.Address, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO balances (address, asset, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (address, asset) DO UPDATE SET balance = balances.balance + EXCLUDED.balance`,
		address, asset, amount)
	if err != nil {
		return fmt.Errorf("credit failed: %w", err)
	}
	return nil
}
