package silo

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Deposit records a new lot for the owner, stamped with the asset's current
// stem tip and a BDV snapshot quoted at deposit time. Depositing twice in the
// same season lands on the same stem and merges into one lot, matching the
// (owner, asset, stem) identity model.
func (e *Engine) Deposit(owner, asset common.Address, amount *big.Int) (*Deposit, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	entry, err := e.whitelisted(asset)
	if err != nil {
		return nil, err
	}

	tip, err := e.state.StemTip(asset)
	if err != nil {
		return nil, err
	}

	bdv := new(big.Int).Set(amount)
	if !entry.IsBase {
		if e.quoter == nil {
			return nil, errNilQuoter
		}
		bdv, err = e.quoter.UnitsToBDV(asset, amount)
		if err != nil {
			return nil, err
		}
	}
	if bdv.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	dep := &Deposit{
		Stem:   new(big.Int).Set(tip),
		Amount: new(big.Int).Set(amount),
		BDV:    bdv,
	}
	if existing, err := e.depositAt(owner, asset, tip); err != nil {
		return nil, err
	} else if existing != nil {
		dep.Amount = dep.Amount.Add(dep.Amount, existing.Amount)
		dep.BDV = dep.BDV.Add(dep.BDV, existing.BDV)
	}

	if err := e.state.PutDeposit(owner, asset, dep); err != nil {
		return nil, err
	}
	e.emitEvent(DepositCreated{
		Owner:  owner,
		Asset:  asset,
		Stem:   new(big.Int).Set(dep.Stem),
		Amount: new(big.Int).Set(amount),
		BDV:    new(big.Int).Set(bdv),
	})
	return dep.Clone(), nil
}

// depositAt looks up the owner's lot at an exact stem, returning nil when the
// owner holds nothing there.
func (e *Engine) depositAt(owner, asset common.Address, stem *big.Int) (*Deposit, error) {
	deposits, err := e.state.DepositsOf(owner, asset)
	if err != nil {
		return nil, err
	}
	for _, dep := range deposits {
		if dep == nil || dep.Stem == nil {
			continue
		}
		if dep.Stem.Cmp(stem) == 0 {
			return dep, nil
		}
	}
	return nil, nil
}
