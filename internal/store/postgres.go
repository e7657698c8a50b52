package store

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

// Store is the Postgres-backed link store. Mutations on a link are serialized
// by row locks taken inside a single transaction; see db/schema.sql for DDL.
type Store struct {
	Db  *pgxpool.Pool
	now func() time.Time
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool, now: time.Now}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// CreateLink validates the request, assigns a fresh id and persists the record
// together with its link_created notification in one transaction.
func (s *Store) CreateLink(ctx context.Context, req models.CreateLinkRequest) (*models.PaymentLink, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var nonce uint64
	if err := tx.QueryRow(ctx, "SELECT nextval('link_nonce')").Scan(&nonce); err != nil {
		return nil, fmt.Errorf("nonce allocation failed: %w", err)
	}

	link := &models.PaymentLink{
		ID:        models.DeriveLinkID(req.Creator, req.Recipient, req.Asset, req.Amount, req.Expiry, nonce),
		Creator:   req.Creator,
		Recipient: req.Recipient,
		Asset:     req.Asset,
		Amount:    req.Amount,
		Expiry:    req.Expiry,
		Memo:      req.Memo,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO links (id, creator, recipient, asset, amount, expiry, memo)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq, created_at`,
		link.ID, link.Creator, link.Recipient, link.Asset, link.Amount, link.Expiry, link.Memo,
	).Scan(&link.Seq, &link.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("link insert failed: %w", err)
	}

	payload, err := json.Marshal(models.LinkCreatedPayload{
		ID:        link.ID,
		Creator:   link.Creator,
		Recipient: link.Recipient,
		Asset:     link.Asset,
		Amount:    link.Amount,
		Expiry:    link.Expiry,
		Memo:      link.Memo,
	})
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO link_events (id, link_id, kind, payload) VALUES ($1, $2, $3, $4)",
		uuid.New(), link.ID, models.EventLinkCreated, payload,
	)
	if err != nil {
		return nil, fmt.Errorf("event insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return link, nil
}

// GetLink retrieves a single link by id.
func (s *Store) GetLink(ctx context.Context, id models.LinkID) (*models.PaymentLink, error) {
	var link models.PaymentLink
	err := s.Db.QueryRow(ctx,
		`SELECT id, creator, recipient, asset, amount, expiry, memo, paid, cancelled, seq, created_at
		 FROM links WHERE id = $1`, id,
	).Scan(&link.ID, &link.Creator, &link.Recipient, &link.Asset, &link.Amount,
		&link.Expiry, &link.Memo, &link.Paid, &link.Cancelled, &link.Seq, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

// IsActive reports whether the link can currently be settled. An unknown id
// yields false, not an error.
func (s *Store) IsActive(ctx context.Context, id models.LinkID) (bool, error) {
	link, err := s.GetLink(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrLinkNotFound) {
			return false, nil
		}
		return false, err
	}
	return link.ActiveAt(s.now()), nil
}

// LinksByCreator returns the creator's link ids in creation order.
func (s *Store) LinksByCreator(ctx context.Context, creator models.Address) ([]models.LinkID, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT id FROM links WHERE creator = $1 ORDER BY seq", creator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []models.LinkID{}
	for rows.Next() {
		var id models.LinkID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Events returns the link's notification log in append order.
func (s *Store) Events(ctx context.Context, id models.LinkID) ([]models.Event, error) {
	var exists bool
	if err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM links WHERE id=$1)", id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.ErrLinkNotFound
	}

	rows, err := s.Db.Query(ctx,
		"SELECT id, link_id, kind, payload, created_at FROM link_events WHERE link_id = $1 ORDER BY seq",
		id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.LinkID, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Balance returns the stored balance for an address/asset pair; missing rows
// read as zero.
func (s *Store) Balance(ctx context.Context, address, asset models.Address) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.Db.QueryRow(ctx,
		"SELECT balance FROM balances WHERE address = $1 AND asset = $2", address, asset,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return balance, nil
}
