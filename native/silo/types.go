package silo

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Deposit captures a single silo lot. Amounts are asset-native units and BDV is
// the bean-denominated value snapshotted when the lot was created. A deposit is
// keyed by (owner, asset, stem); partial withdrawals decrement Amount in place
// and the stem never changes.
type Deposit struct {
	// Stem records the asset's cumulative grown-stalk index at creation.
	Stem *big.Int
	// Amount holds the remaining asset-native units in the lot.
	Amount *big.Int
	// BDV fixes the accounting value of the lot at creation time.
	BDV *big.Int
}

// Clone returns a deep copy of the deposit for defensive use by callers.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := &Deposit{}
	if d.Stem != nil {
		clone.Stem = new(big.Int).Set(d.Stem)
	}
	if d.Amount != nil {
		clone.Amount = new(big.Int).Set(d.Amount)
	}
	if d.BDV != nil {
		clone.BDV = new(big.Int).Set(d.BDV)
	}
	return clone
}

// GrownStalk reports the stalk the lot has accrued since creation, i.e. tip
// minus the lot's stem. Callers supply the current tip so the computation
// stays a pure function of the snapshot; dividing by the lot's BDV yields the
// per-BDV accrual rate.
func (d *Deposit) GrownStalk(tip *big.Int) *big.Int {
	if d == nil || d.Stem == nil || tip == nil {
		return big.NewInt(0)
	}
	grown := new(big.Int).Sub(tip, d.Stem)
	if grown.Sign() < 0 {
		return big.NewInt(0)
	}
	return grown
}

// WhitelistedAsset describes an asset the silo accepts, in registration order.
// Registration order is the canonical tie-break for the sentinel source
// strategies.
type WhitelistedAsset struct {
	// Address identifies the asset token.
	Address common.Address
	// Name is the human-readable symbol used in logs and RPC payloads.
	Name string
	// SeedsPerBDV is the per-season grown-stalk reward rate for the asset.
	SeedsPerBDV *big.Int
	// IsBase marks the base (bean) asset whose units equal BDV one-to-one.
	IsBase bool
}

// LowGrownStalkMode controls how lots whose grown stalk sits below the
// configured threshold participate in selection.
type LowGrownStalkMode uint8

const (
	// LowGrownStalkUse treats low-grown-stalk lots like any other lot.
	LowGrownStalkUse LowGrownStalkMode = iota
	// LowGrownStalkUseLast defers low-grown-stalk lots to the end of the
	// selection order.
	LowGrownStalkUseLast
	// LowGrownStalkOmit excludes low-grown-stalk lots outright.
	LowGrownStalkOmit
)

// FilterPolicy constrains which lots a planning call may select. Nil bounds are
// unbounded. The policy is immutable for the duration of a call.
type FilterPolicy struct {
	// MinStem and MaxStem bound the lot's creation stem, inclusive.
	MinStem *big.Int
	MaxStem *big.Int
	// MaxGrownStalkPerBDV excludes lots whose grown stalk per BDV exceeds it.
	MaxGrownStalkPerBDV *big.Rat
	// ExcludeBase removes the base asset from sentinel source expansion.
	ExcludeBase bool
	// ExcludeGerminating removes lots still inside the germination window.
	ExcludeGerminating bool
	// LowGrownStalkMode and LowGrownStalkThreshold implement the tri-state
	// low-accrual handling. Lots strictly below the threshold are the low set.
	LowGrownStalkMode      LowGrownStalkMode
	LowGrownStalkThreshold *big.Int
}

// Validate rejects contradictory bounds before any ledger read.
func (p FilterPolicy) Validate() error {
	if p.MinStem != nil && p.MaxStem != nil && p.MinStem.Cmp(p.MaxStem) > 0 {
		return ErrInvalidPolicy
	}
	switch p.LowGrownStalkMode {
	case LowGrownStalkUse, LowGrownStalkUseLast, LowGrownStalkOmit:
	default:
		return ErrInvalidPolicy
	}
	if p.LowGrownStalkMode != LowGrownStalkUse && p.LowGrownStalkThreshold == nil {
		return ErrInvalidPolicy
	}
	return nil
}

// AssetPlan lists the lots selected from a single asset. Stems and Amounts are
// parallel slices; Amounts are asset-native units and AvailableBDV is the
// bean-denominated value the selection is worth.
type AssetPlan struct {
	Asset        common.Address
	Stems        []*big.Int
	Amounts      []*big.Int
	AvailableBDV *big.Int
}

// Clone returns a deep copy of the asset plan.
func (ap *AssetPlan) Clone() *AssetPlan {
	if ap == nil {
		return nil
	}
	clone := &AssetPlan{Asset: ap.Asset, AvailableBDV: big.NewInt(0)}
	if ap.AvailableBDV != nil {
		clone.AvailableBDV = new(big.Int).Set(ap.AvailableBDV)
	}
	clone.Stems = make([]*big.Int, len(ap.Stems))
	for i, stem := range ap.Stems {
		clone.Stems[i] = new(big.Int).Set(stem)
	}
	clone.Amounts = make([]*big.Int, len(ap.Amounts))
	for i, amount := range ap.Amounts {
		clone.Amounts[i] = new(big.Int).Set(amount)
	}
	return clone
}

// Plan is the output of a planning call: a value-conserving selection of lots
// across one or more source assets. Plans are pure data and never reference
// live ledger state.
type Plan struct {
	Assets            []*AssetPlan
	TotalAvailableBDV *big.Int
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	clone := &Plan{TotalAvailableBDV: big.NewInt(0)}
	if p.TotalAvailableBDV != nil {
		clone.TotalAvailableBDV = new(big.Int).Set(p.TotalAvailableBDV)
	}
	clone.Assets = make([]*AssetPlan, len(p.Assets))
	for i, ap := range p.Assets {
		clone.Assets[i] = ap.Clone()
	}
	return clone
}

// claimedAmounts indexes a plan's per-lot amounts by asset and stem so a later
// selection can subtract them from each lot's effective balance.
func (p *Plan) claimedAmounts() map[common.Address]map[string]*big.Int {
	claimed := make(map[common.Address]map[string]*big.Int)
	if p == nil {
		return claimed
	}
	for _, ap := range p.Assets {
		if ap == nil {
			continue
		}
		byStem, ok := claimed[ap.Asset]
		if !ok {
			byStem = make(map[string]*big.Int)
			claimed[ap.Asset] = byStem
		}
		for i, stem := range ap.Stems {
			if stem == nil || i >= len(ap.Amounts) || ap.Amounts[i] == nil {
				continue
			}
			key := stem.String()
			if prev, ok := byStem[key]; ok {
				byStem[key] = new(big.Int).Add(prev, ap.Amounts[i])
			} else {
				byStem[key] = new(big.Int).Set(ap.Amounts[i])
			}
		}
	}
	return claimed
}

// SourceKind discriminates the source selector variants.
type SourceKind uint8

const (
	// SourceConcrete targets a specific whitelisted asset.
	SourceConcrete SourceKind = iota
	// SourceAscendingPrice expands to all eligible assets ordered by ascending
	// market price.
	SourceAscendingPrice
	// SourceAscendingSeeds expands to all eligible assets ordered by ascending
	// seeds-per-BDV reward rate.
	SourceAscendingSeeds
)

// SourceSelector names either a concrete source asset or one of the sentinel
// ordering strategies expanded at planning time.
type SourceSelector struct {
	Kind  SourceKind
	Asset common.Address
}

// SourceAsset builds a concrete source selector for the given asset.
func SourceAsset(asset common.Address) SourceSelector {
	return SourceSelector{Kind: SourceConcrete, Asset: asset}
}

// SourceByAscendingPrice orders all eligible assets by ascending market price.
func SourceByAscendingPrice() SourceSelector {
	return SourceSelector{Kind: SourceAscendingPrice}
}

// SourceByAscendingSeeds orders all eligible assets by ascending reward rate.
func SourceByAscendingSeeds() SourceSelector {
	return SourceSelector{Kind: SourceAscendingSeeds}
}
