package silo

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Selection is the outcome of a single-asset walk: parallel stem/amount slices
// in selection order and the total asset-native units accumulated. Available
// may fall short of the requested target; that is a normal outcome the caller
// must check, never an error.
type Selection struct {
	Stems     []*big.Int
	Amounts   []*big.Int
	Available *big.Int
}

func emptySelection() *Selection {
	return &Selection{Available: big.NewInt(0)}
}

// SelectDeposits walks the owner's lots for one asset in descending-stem order
// and greedily accumulates them toward target, expressed in asset-native
// units. alreadyClaimed maps stem (decimal string) to units a prior plan has
// spoken for; those units are subtracted from each lot's effective balance
// before selection so two plans never double-spend a lot.
//
// The final lot consumed is taken only up to the remaining need. Output is a
// pure function of ledger state, policy, and alreadyClaimed.
func (e *Engine) SelectDeposits(owner, asset common.Address, target *big.Int, policy FilterPolicy, alreadyClaimed map[string]*big.Int) (*Selection, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if target == nil || target.Sign() <= 0 {
		return nil, errInvalidTarget
	}

	ordered, err := e.OrderedDeposits(owner, asset)
	if err != nil {
		return nil, err
	}

	tip, err := e.state.StemTip(asset)
	if err != nil {
		return nil, err
	}

	eligible := make([]*Deposit, 0, len(ordered))
	for _, dep := range ordered {
		if claimed, ok := alreadyClaimed[dep.Stem.String()]; ok && claimed != nil {
			dep.Amount = new(big.Int).Sub(dep.Amount, claimed)
		}
		if dep.Amount.Sign() <= 0 {
			continue
		}
		if !e.depositEligible(dep, tip, policy) {
			continue
		}
		eligible = append(eligible, dep)
	}

	eligible = e.orderLowGrownStalk(eligible, tip, policy)

	selection := emptySelection()
	remaining := new(big.Int).Set(target)
	for _, dep := range eligible {
		if remaining.Sign() <= 0 {
			break
		}
		take := dep.Amount
		if take.Cmp(remaining) > 0 {
			take = remaining
		}
		selection.Stems = append(selection.Stems, new(big.Int).Set(dep.Stem))
		selection.Amounts = append(selection.Amounts, new(big.Int).Set(take))
		selection.Available = new(big.Int).Add(selection.Available, take)
		remaining = new(big.Int).Sub(remaining, take)
	}
	return selection, nil
}

// depositEligible applies the stem bounds, grown-stalk cap, germination
// exclusion, and the omit branch of the low-grown-stalk policy.
func (e *Engine) depositEligible(dep *Deposit, tip *big.Int, policy FilterPolicy) bool {
	if policy.MinStem != nil && dep.Stem.Cmp(policy.MinStem) < 0 {
		return false
	}
	if policy.MaxStem != nil && dep.Stem.Cmp(policy.MaxStem) > 0 {
		return false
	}
	if policy.MaxGrownStalkPerBDV != nil {
		if dep.BDV == nil || dep.BDV.Sign() <= 0 {
			return false
		}
		grown := new(big.Rat).SetFrac(dep.GrownStalk(tip), dep.BDV)
		if grown.Cmp(policy.MaxGrownStalkPerBDV) > 0 {
			return false
		}
	}
	if policy.ExcludeGerminating && e.germinating(dep, tip) {
		return false
	}
	if policy.LowGrownStalkMode == LowGrownStalkOmit && e.lowGrownStalk(dep, tip, policy) {
		return false
	}
	return true
}

// lowGrownStalk reports whether the lot's accrued stalk is strictly below the
// policy threshold.
func (e *Engine) lowGrownStalk(dep *Deposit, tip *big.Int, policy FilterPolicy) bool {
	if policy.LowGrownStalkThreshold == nil {
		return false
	}
	return dep.GrownStalk(tip).Cmp(policy.LowGrownStalkThreshold) < 0
}

// orderLowGrownStalk implements the UseLast mode: lots strictly below the
// threshold are deferred to the end, both partitions preserving the incoming
// descending-stem order. Lots sitting exactly at the threshold stay in the
// normal partition.
func (e *Engine) orderLowGrownStalk(deposits []*Deposit, tip *big.Int, policy FilterPolicy) []*Deposit {
	if policy.LowGrownStalkMode != LowGrownStalkUseLast {
		return deposits
	}
	normal := make([]*Deposit, 0, len(deposits))
	deferred := make([]*Deposit, 0)
	for _, dep := range deposits {
		if e.lowGrownStalk(dep, tip, policy) {
			deferred = append(deferred, dep)
		} else {
			normal = append(normal, dep)
		}
	}
	return append(normal, deferred...)
}
