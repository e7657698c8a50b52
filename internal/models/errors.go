package models

import "errors"

// Ledger error taxonomy. Every failure is a rejection of one specific request;
// no partial state survives a rejected operation.
var (
	ErrInvalidRecipient  = errors.New("zero recipient")
	ErrInvalidAmount     = errors.New("zero amount")
	ErrLinkNotFound      = errors.New("link not found")
	ErrLinkCancelled     = errors.New("link cancelled")
	ErrAlreadyPaid       = errors.New("already paid")
	ErrLinkExpired       = errors.New("link expired")
	ErrAssetMismatch     = errors.New("asset mismatch")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotCreator        = errors.New("not creator")

	// ErrTransferFailed signals that the asset substrate refused the debit leg,
	// e.g. a token balance that cannot cover the link amount. It sits outside
	// the validation taxonomy: the request was well-formed but the external
	// transfer failed.
	ErrTransferFailed = errors.New("transfer failed")
)
