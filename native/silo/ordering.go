package silo

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// OrderedDeposits returns the owner's lots for the asset sorted by stem
// descending, i.e. most recently created first. Consuming lots in this order
// liquidates the least accrued stalk per unit withdrawn, since newer lots have
// grown the least. The returned deposits are deep copies; mutating them never
// touches ledger state.
func (e *Engine) OrderedDeposits(owner, asset common.Address) ([]*Deposit, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	deposits, err := e.state.DepositsOf(owner, asset)
	if err != nil {
		return nil, err
	}
	ordered := make([]*Deposit, 0, len(deposits))
	for _, dep := range deposits {
		if dep == nil || dep.Stem == nil {
			continue
		}
		if dep.Amount == nil || dep.Amount.Sign() <= 0 {
			continue
		}
		ordered = append(ordered, dep.Clone())
	}
	if len(ordered) == 0 {
		return nil, ErrNoDeposits
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Stem.Cmp(ordered[j].Stem) > 0
	})
	return ordered, nil
}
