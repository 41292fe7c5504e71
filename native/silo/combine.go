package silo

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// CombinePlans merges plans by summing amounts that share an (asset, stem)
// pair. The combined total is the exact sum of the input totals rather than a
// re-derivation from merged amounts, so rounding drift introduced by unit
// conversion is never reintroduced. Asset order follows first appearance
// across the inputs; merged stems are emitted descending to match selection
// order.
func CombinePlans(plans ...*Plan) *Plan {
	combined := &Plan{TotalAvailableBDV: big.NewInt(0)}

	assetOrder := make([]common.Address, 0)
	merged := make(map[common.Address]map[string]*big.Int)
	subtotals := make(map[common.Address]*big.Int)

	for _, plan := range plans {
		if plan == nil {
			continue
		}
		if plan.TotalAvailableBDV != nil {
			combined.TotalAvailableBDV = new(big.Int).Add(combined.TotalAvailableBDV, plan.TotalAvailableBDV)
		}
		for _, ap := range plan.Assets {
			if ap == nil {
				continue
			}
			byStem, ok := merged[ap.Asset]
			if !ok {
				byStem = make(map[string]*big.Int)
				merged[ap.Asset] = byStem
				subtotals[ap.Asset] = big.NewInt(0)
				assetOrder = append(assetOrder, ap.Asset)
			}
			for i, stem := range ap.Stems {
				if stem == nil || i >= len(ap.Amounts) || ap.Amounts[i] == nil || ap.Amounts[i].Sign() <= 0 {
					continue
				}
				key := stem.String()
				if prev, ok := byStem[key]; ok {
					byStem[key] = new(big.Int).Add(prev, ap.Amounts[i])
				} else {
					byStem[key] = new(big.Int).Set(ap.Amounts[i])
				}
			}
			if ap.AvailableBDV != nil {
				subtotals[ap.Asset] = new(big.Int).Add(subtotals[ap.Asset], ap.AvailableBDV)
			}
		}
	}

	for _, asset := range assetOrder {
		byStem := merged[asset]
		stems := make([]*big.Int, 0, len(byStem))
		for key := range byStem {
			stem, ok := new(big.Int).SetString(key, 10)
			if !ok {
				continue
			}
			stems = append(stems, stem)
		}
		sort.Slice(stems, func(i, j int) bool { return stems[i].Cmp(stems[j]) > 0 })

		ap := &AssetPlan{Asset: asset, AvailableBDV: subtotals[asset]}
		for _, stem := range stems {
			ap.Stems = append(ap.Stems, stem)
			ap.Amounts = append(ap.Amounts, byStem[stem.String()])
		}
		combined.Assets = append(combined.Assets, ap)
	}
	return combined
}

// BuildPlanExcluding computes a fresh plan for targetBDV that is lot-disjoint
// from prior, up to partial-lot splitting: every selector invocation subtracts
// prior's per-lot amounts from the lot's effective balance, so combining prior
// with the result never attributes more than a lot's true amount.
func (e *Engine) BuildPlanExcluding(owner common.Address, sources []SourceSelector, targetBDV *big.Int, policy FilterPolicy, prior *Plan) (*Plan, error) {
	if prior == nil {
		return e.BuildPlan(owner, sources, targetBDV, policy)
	}
	return e.buildPlan(owner, sources, targetBDV, policy, prior.claimedAmounts())
}
