package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paylinka/linkledger/internal/models"
)

// MemStore is the in-memory ledger backend, used when no database is
// configured and as the test fixture for the engine's semantics. It enforces
// the same rules as the Postgres path: per-link serialization via a per-record
// mutex, all-or-nothing mutations, committed reads only.
type MemStore struct {
	mu        sync.RWMutex
	links     map[models.LinkID]*linkRecord
	byCreator map[models.Address][]models.LinkID
	events    map[models.LinkID][]models.Event
	nonce     uint64
	seq       int64

	balMu    sync.Mutex
	balances map[models.Address]map[models.Address]decimal.Decimal

	now func() time.Time
}

// linkRecord pairs a link with the mutex serializing its mutations.
type linkRecord struct {
	mu   sync.Mutex
	link models.PaymentLink
}

func NewMemStore() *MemStore {
	return &MemStore{
		links:     make(map[models.LinkID]*linkRecord),
		byCreator: make(map[models.Address][]models.LinkID),
		events:    make(map[models.LinkID][]models.Event),
		balances:  make(map[models.Address]map[models.Address]decimal.Decimal),
		now:       time.Now,
	}
}

// CreateLink validates the request, assigns a fresh id and records the link
// with its creation notification.
func (s *MemStore) CreateLink(_ context.Context, req models.CreateLinkRequest) (*models.PaymentLink, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonce++
	s.seq++
	link := models.PaymentLink{
		ID:        models.DeriveLinkID(req.Creator, req.Recipient, req.Asset, req.Amount, req.Expiry, s.nonce),
		Creator:   req.Creator,
		Recipient: req.Recipient,
		Asset:     req.Asset,
		Amount:    req.Amount,
		Expiry:    req.Expiry,
		Memo:      req.Memo,
		Seq:       s.seq,
		CreatedAt: s.now(),
	}

	s.links[link.ID] = &linkRecord{link: link}
	s.byCreator[req.Creator] = append(s.byCreator[req.Creator], link.ID)

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
	s.appendEventLocked(link.ID, models.EventLinkCreated, payload)

	out := link
	return &out, nil
}

// GetLink returns a committed snapshot of the link.
func (s *MemStore) GetLink(_ context.Context, id models.LinkID) (*models.PaymentLink, error) {
	rec, ok := s.record(id)
	if !ok {
		return nil, models.ErrLinkNotFound
	}
	rec.mu.Lock()
	link := rec.link
	rec.mu.Unlock()
	return &link, nil
}

// IsActive reports whether the link can currently be settled; unknown ids
// yield false, not an error.
func (s *MemStore) IsActive(ctx context.Context, id models.LinkID) (bool, error) {
	link, err := s.GetLink(ctx, id)
	if err != nil {
		return false, nil
	}
	return link.ActiveAt(s.now()), nil
}

// LinksByCreator returns the creator's link ids in creation order.
func (s *MemStore) LinksByCreator(_ context.Context, creator models.Address) ([]models.LinkID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]models.LinkID, len(s.byCreator[creator]))
	copy(ids, s.byCreator[creator])
	return ids, nil
}

// Events returns the link's notification log in append order.
func (s *MemStore) Events(_ context.Context, id models.LinkID) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.links[id]; !ok {
		return nil, models.ErrLinkNotFound
	}
	events := make([]models.Event, len(s.events[id]))
	copy(events, s.events[id])
	return events, nil
}

// Pay validates and settles a link under its record mutex. The paid flag is
// set before the balance movement is applied, matching the Postgres path's
// commit-before-transfer ordering.
func (s *MemStore) Pay(_ context.Context, req models.PayRequest) (*models.TransferReceipt, error) {
	rec, ok := s.record(req.LinkID)
	if !ok {
		return nil, models.ErrLinkNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := rec.link.CheckSettlement(req, s.now()); err != nil {
		return nil, err
	}

	debit := rec.link.Amount
	if rec.link.Asset == models.NativeAsset {
		debit = req.Amount
	}
	refund := rec.link.RefundFor(req)

	s.balMu.Lock()
	if s.balance(req.Payer, rec.link.Asset).LessThan(debit) {
		s.balMu.Unlock()
		return nil, models.ErrTransferFailed
	}
	rec.link.Paid = true
	s.setBalance(req.Payer, rec.link.Asset, s.balance(req.Payer, rec.link.Asset).Sub(debit))
	s.setBalance(rec.link.Recipient, rec.link.Asset, s.balance(rec.link.Recipient, rec.link.Asset).Add(rec.link.Amount))
	if refund.IsPositive() {
		s.setBalance(req.Payer, rec.link.Asset, s.balance(req.Payer, rec.link.Asset).Add(refund))
	}
	s.balMu.Unlock()

	payload, err := json.Marshal(models.PaymentCompletedPayload{
		ID:        rec.link.ID,
		Payer:     req.Payer,
		Recipient: rec.link.Recipient,
		Asset:     rec.link.Asset,
		Amount:    rec.link.Amount,
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.appendEventLocked(rec.link.ID, models.EventPaymentCompleted, payload)
	s.mu.Unlock()

	return &models.TransferReceipt{
		LinkID:    rec.link.ID,
		Payer:     req.Payer,
		Recipient: rec.link.Recipient,
		Asset:     rec.link.Asset,
		Amount:    rec.link.Amount,
		Refunded:  refund,
		PaidAt:    s.now(),
	}, nil
}

// Cancel marks a link cancelled on behalf of its creator.
func (s *MemStore) Cancel(_ context.Context, id models.LinkID, caller models.Address) error {
	rec, ok := s.record(id)
	if !ok {
		return models.ErrLinkNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := rec.link.CheckCancellation(caller); err != nil {
		return err
	}
	rec.link.Cancelled = true

	payload, err := json.Marshal(models.LinkCancelledPayload{ID: rec.link.ID})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.appendEventLocked(rec.link.ID, models.EventLinkCancelled, payload)
	s.mu.Unlock()
	return nil
}

// Credit funds a wallet, the memory equivalent of the seeder.
func (s *MemStore) Credit(_ context.Context, address, asset models.Address, amount decimal.Decimal) error {
	s.balMu.Lock()
	defer s.balMu.Unlock()
	s.setBalance(address, asset, s.balance(address, asset).Add(amount))
	return nil
}

// Balance returns the stored balance for an address/asset pair.
func (s *MemStore) Balance(_ context.Context, address, asset models.Address) (decimal.Decimal, error) {
	s.balMu.Lock()
	defer s.balMu.Unlock()
	return s.balance(address, asset), nil
}

func (s *MemStore) record(id models.LinkID) (*linkRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.links[id]
	return rec, ok
}

// appendEventLocked requires s.mu held for writing.
func (s *MemStore) appendEventLocked(id models.LinkID, kind string, payload []byte) {
	s.events[id] = append(s.events[id], models.Event{
		ID:        uuid.New(),
		LinkID:    id,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: s.now(),
	})
}

// balance and setBalance require s.balMu held.
func (s *MemStore) balance(address, asset models.Address) decimal.Decimal {
	if assets, ok := s.balances[address]; ok {
		return assets[asset]
	}
	return decimal.Zero
}

func (s *MemStore) setBalance(address, asset models.Address, amount decimal.Decimal) {
	assets, ok := s.balances[address]
	if !ok {
		assets = make(map[models.Address]decimal.Decimal)
		s.balances[address] = assets
	}
	assets[asset] = amount
}
