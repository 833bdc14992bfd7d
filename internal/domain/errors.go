package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrSymbolOpen      = errors.New("symbol already has an open position")
	ErrNoPrice         = errors.New("no usable price available")
	ErrBelowMinimum    = errors.New("order below venue minimum notional")
	ErrVenueRejected   = errors.New("venue rejected order")
	ErrEngineStopped   = errors.New("engine not running")
	ErrContextDone     = errors.New("context cancelled")
)
