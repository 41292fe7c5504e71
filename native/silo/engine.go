package silo

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var basisPoints = big.NewInt(10_000)

// engineState is the narrow persistence surface the silo engine depends on.
// Planning operations only read; Execute and Deposit are the sole writers.
type engineState interface {
	DepositsOf(owner, asset common.Address) ([]*Deposit, error)
	PutDeposit(owner, asset common.Address, dep *Deposit) error
	RemoveDeposit(owner, asset common.Address, stem *big.Int) error
	StemTip(asset common.Address) (*big.Int, error)
	Whitelist() ([]WhitelistedAsset, error)
	CreditBase(recipient common.Address, amount *big.Int) error
}

// Quoter converts between bean-denominated value and asset-native units using
// live reserve data. Conversions must be loss-bounded: quoting units back to
// value never reports more than those units actually redeem for.
type Quoter interface {
	BDVToUnits(asset common.Address, bdv *big.Int) (*big.Int, error)
	UnitsToBDV(asset common.Address, units *big.Int) (*big.Int, error)
	SpotPrice(asset common.Address) (*big.Rat, error)
}

// Liquidity redeems pool units for base-asset value, failing when the realised
// output falls below minOut. PreviewRedeem reports the output a Redeem of the
// same size would realise right now, without mutating anything; for pools with
// price impact this sits below the spot quote, so redemption preflights must
// use it rather than a Quoter.
type Liquidity interface {
	PreviewRedeem(asset common.Address, units *big.Int) (*big.Int, error)
	Redeem(asset common.Address, units, minOut *big.Int) (*big.Int, error)
}

// Engine implements withdrawal planning and execution over an owner's silo
// deposits. Planning (OrderedDeposits, SelectDeposits, BuildPlan, CombinePlans,
// BuildPlanExcluding) is a pure function of ledger state and policy; Execute
// and Deposit are the only mutating operations.
type Engine struct {
	state            engineState
	quoter           Quoter
	liquidity        Liquidity
	germinationStems *big.Int
	emit             func(Event)
}

// NewEngine constructs a silo engine. The germination window is expressed in
// stems: a lot is germinating until the asset tip has advanced at least that
// far past the lot's stem.
func NewEngine(germinationStems *big.Int) *Engine {
	e := &Engine{germinationStems: big.NewInt(0)}
	if germinationStems != nil && germinationStems.Sign() > 0 {
		e.germinationStems = new(big.Int).Set(germinationStems)
	}
	return e
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetQuoter wires the reserve-backed value/unit conversion capability.
func (e *Engine) SetQuoter(q Quoter) { e.quoter = q }

// SetLiquidity wires the pool redemption capability used by Execute.
func (e *Engine) SetLiquidity(l Liquidity) { e.liquidity = l }

// SetEmitter registers a callback for engine events.
func (e *Engine) SetEmitter(emit func(Event)) {
	if e == nil {
		return
	}
	e.emit = emit
}

func (e *Engine) emitEvent(evt Event) {
	if e == nil || e.emit == nil {
		return
	}
	e.emit(evt)
}

// whitelisted resolves the asset's registration entry.
func (e *Engine) whitelisted(asset common.Address) (WhitelistedAsset, error) {
	if e == nil || e.state == nil {
		return WhitelistedAsset{}, errNilState
	}
	assets, err := e.state.Whitelist()
	if err != nil {
		return WhitelistedAsset{}, err
	}
	for _, entry := range assets {
		if entry.Address == asset {
			return entry, nil
		}
	}
	return WhitelistedAsset{}, ErrAssetNotWhitelisted
}

// germinating reports whether the lot is still inside the germination window
// at the supplied tip.
func (e *Engine) germinating(dep *Deposit, tip *big.Int) bool {
	if e == nil || e.germinationStems == nil || e.germinationStems.Sign() == 0 {
		return false
	}
	if dep == nil {
		return false
	}
	return dep.GrownStalk(tip).Cmp(e.germinationStems) < 0
}
