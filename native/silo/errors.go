package silo

import "errors"

var (
	// ErrNoDeposits signals the owner holds no lots for the requested asset.
	// Callers treat it as zero available value, not a failure.
	ErrNoDeposits = errors.New("silo: no deposits for asset")
	// ErrInvalidPolicy rejects contradictory filter bounds before any ledger
	// read.
	ErrInvalidPolicy = errors.New("silo: invalid filter policy")
	// ErrInsufficientDeposit aborts execution when a plan references more of a
	// lot than the ledger currently holds.
	ErrInsufficientDeposit = errors.New("silo: deposit amount below plan claim")
	// ErrSlippage aborts execution when a pool redemption cannot meet the
	// caller's minimum output.
	ErrSlippage = errors.New("silo: redemption below slippage tolerance")
	// ErrAssetNotWhitelisted rejects operations against unregistered assets.
	ErrAssetNotWhitelisted = errors.New("silo: asset not whitelisted")

	errNilState      = errors.New("silo: state not configured")
	errNilQuoter     = errors.New("silo: quoter not configured")
	errNilLiquidity  = errors.New("silo: liquidity not configured")
	errInvalidAmount = errors.New("silo: amount must be positive")
	errInvalidTarget = errors.New("silo: target value must be positive")
	errNilPlan       = errors.New("silo: plan must not be nil")
	errNoSources     = errors.New("silo: at least one source selector required")
	errSlippageBps   = errors.New("silo: slippage tolerance exceeds 100%")
)
