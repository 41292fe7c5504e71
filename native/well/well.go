package well

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownAsset signals the well holds no reserves for the asset.
	ErrUnknownAsset = errors.New("well: unknown asset")
	// ErrInsufficientOutput fails a redemption whose realised output lands
	// below the caller's minimum.
	ErrInsufficientOutput = errors.New("well: output below minimum")
	// ErrEmptyReserves rejects quotes against a drained pool.
	ErrEmptyReserves = errors.New("well: empty reserves")

	errInvalidUnits = errors.New("well: units must be positive")
)

// reserves holds the live pair balances backing one pool asset: the base-asset
// side and the pool-token side.
type reserves struct {
	base  *big.Int
	token *big.Int
}

// ReserveWell quotes value/unit conversions and redeems pool units against
// constant-product reserves. Quotes are loss-bounded: units-to-value floors,
// so a quote never implies more value than the units redeem for.
type ReserveWell struct {
	mu        sync.RWMutex
	baseAsset common.Address
	pools     map[common.Address]*reserves
}

// NewReserveWell constructs an empty well anchored on the base asset.
func NewReserveWell(baseAsset common.Address) *ReserveWell {
	return &ReserveWell{
		baseAsset: baseAsset,
		pools:     make(map[common.Address]*reserves),
	}
}

// SetReserves installs or replaces the pair balances for a pool asset.
func (w *ReserveWell) SetReserves(asset common.Address, baseReserve, tokenReserve *big.Int) {
	if w == nil || baseReserve == nil || tokenReserve == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pools[asset] = &reserves{
		base:  new(big.Int).Set(baseReserve),
		token: new(big.Int).Set(tokenReserve),
	}
}

// Reserves returns copies of the current pair balances.
func (w *ReserveWell) Reserves(asset common.Address) (*big.Int, *big.Int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pool, ok := w.pools[asset]
	if !ok {
		return nil, nil, ErrUnknownAsset
	}
	return new(big.Int).Set(pool.base), new(big.Int).Set(pool.token), nil
}

// SpotPrice reports the current base-per-unit price of the asset. The base
// asset itself is always worth exactly one.
func (w *ReserveWell) SpotPrice(asset common.Address) (*big.Rat, error) {
	if asset == w.baseAsset {
		return big.NewRat(1, 1), nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	pool, ok := w.pools[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if pool.base.Sign() <= 0 || pool.token.Sign() <= 0 {
		return nil, ErrEmptyReserves
	}
	return new(big.Rat).SetFrac(pool.base, pool.token), nil
}

// BDVToUnits converts a bean-denominated value into the pool units needed to
// cover it at the current spot rate, rounding up so the quoted units are never
// short of the requested value.
func (w *ReserveWell) BDVToUnits(asset common.Address, bdv *big.Int) (*big.Int, error) {
	if asset == w.baseAsset {
		return new(big.Int).Set(bdv), nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	pool, ok := w.pools[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if pool.base.Sign() <= 0 || pool.token.Sign() <= 0 {
		return nil, ErrEmptyReserves
	}
	if bdv == nil || bdv.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	units := new(big.Int).Mul(bdv, pool.token)
	units, rem := units.QuoRem(units, pool.base, new(big.Int))
	if rem.Sign() > 0 {
		units = units.Add(units, big.NewInt(1))
	}
	return units, nil
}

// UnitsToBDV converts pool units into bean-denominated value at the current
// spot rate, rounding down.
func (w *ReserveWell) UnitsToBDV(asset common.Address, units *big.Int) (*big.Int, error) {
	if asset == w.baseAsset {
		return new(big.Int).Set(units), nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	pool, ok := w.pools[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if pool.base.Sign() <= 0 || pool.token.Sign() <= 0 {
		return nil, ErrEmptyReserves
	}
	if units == nil || units.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	bdv := new(big.Int).Mul(units, pool.base)
	return bdv.Quo(bdv, pool.token), nil
}

// curveOutput is the constant-product swap result for selling units into the
// pool: units*base/(token+units), floored. Always at or below the spot quote.
func curveOutput(pool *reserves, units *big.Int) *big.Int {
	out := new(big.Int).Mul(units, pool.base)
	return out.Quo(out, new(big.Int).Add(pool.token, units))
}

// PreviewRedeem reports what Redeem would pay out for units right now, without
// touching the reserves.
func (w *ReserveWell) PreviewRedeem(asset common.Address, units *big.Int) (*big.Int, error) {
	if units == nil || units.Sign() <= 0 {
		return nil, errInvalidUnits
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	pool, ok := w.pools[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if pool.base.Sign() <= 0 || pool.token.Sign() <= 0 {
		return nil, ErrEmptyReserves
	}
	return curveOutput(pool, units), nil
}

// Redeem sells units into the pool along the constant-product curve and
// returns the base-asset value released. The swap fails without mutating
// reserves when the realised output is below minOut.
func (w *ReserveWell) Redeem(asset common.Address, units, minOut *big.Int) (*big.Int, error) {
	if units == nil || units.Sign() <= 0 {
		return nil, errInvalidUnits
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	pool, ok := w.pools[asset]
	if !ok {
		return nil, ErrUnknownAsset
	}
	if pool.base.Sign() <= 0 || pool.token.Sign() <= 0 {
		return nil, ErrEmptyReserves
	}

	out := curveOutput(pool, units)
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, ErrInsufficientOutput
	}

	pool.token = new(big.Int).Add(pool.token, units)
	pool.base = new(big.Int).Sub(pool.base, out)
	return out, nil
}
