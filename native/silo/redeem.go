package silo

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// plannedDebit is one lot debit staged during validation.
type plannedDebit struct {
	deposit *Deposit
	amount  *big.Int
}

// assetExecution groups the staged debits and redemption parameters for one
// asset in the plan.
type assetExecution struct {
	asset  common.Address
	isBase bool
	debits []plannedDebit
	units  *big.Int
	minOut *big.Int
}

// Execute debits the plan's lots from the ledger and delivers the realised
// bean-denominated value to recipient. slippageBps bounds how far below each
// pool subtotal the redemption may land. Execute is the engine's only mutating
// operation and runs inside the caller's atomic unit of work; every lot in the
// plan is validated against current ledger amounts before any debit, so a
// stale plan fails with ErrInsufficientDeposit leaving the ledger untouched.
func (e *Engine) Execute(owner common.Address, plan *Plan, slippageBps uint64, recipient common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.liquidity == nil {
		return nil, errNilLiquidity
	}
	if plan == nil {
		return nil, errNilPlan
	}
	if slippageBps > 10_000 {
		return nil, errSlippageBps
	}

	executions, err := e.validatePlan(owner, plan, slippageBps)
	if err != nil {
		return nil, err
	}

	delivered := big.NewInt(0)
	for _, exec := range executions {
		for _, debit := range exec.debits {
			if err := e.debitDeposit(owner, exec.asset, debit.deposit, debit.amount); err != nil {
				return nil, err
			}
		}
		if exec.isBase {
			delivered = new(big.Int).Add(delivered, exec.units)
			continue
		}
		out, err := e.liquidity.Redeem(exec.asset, exec.units, exec.minOut)
		if err != nil {
			return nil, err
		}
		delivered = new(big.Int).Add(delivered, out)
	}

	if delivered.Sign() > 0 {
		if err := e.state.CreditBase(recipient, delivered); err != nil {
			return nil, err
		}
	}
	e.emitEvent(WithdrawalExecuted{
		Owner:        owner,
		Recipient:    recipient,
		DeliveredBDV: new(big.Int).Set(delivered),
		Assets:       len(executions),
	})
	return delivered, nil
}

// validatePlan stages every debit and redemption before anything mutates. Lot
// amounts are re-read from the ledger because the plan may be stale; pool
// redemptions are preflighted through the pool's own preview so an
// unreachable minimum fails before any debit as well.
func (e *Engine) validatePlan(owner common.Address, plan *Plan, slippageBps uint64) ([]assetExecution, error) {
	executions := make([]assetExecution, 0, len(plan.Assets))
	for _, ap := range plan.Assets {
		if ap == nil || len(ap.Stems) == 0 {
			continue
		}
		entry, err := e.whitelisted(ap.Asset)
		if err != nil {
			return nil, err
		}
		deposits, err := e.state.DepositsOf(owner, ap.Asset)
		if err != nil {
			return nil, err
		}
		byStem := make(map[string]*Deposit, len(deposits))
		for _, dep := range deposits {
			if dep == nil || dep.Stem == nil {
				continue
			}
			byStem[dep.Stem.String()] = dep
		}

		// A plan may carry several entries for one stem; claims are checked
		// and debited against the per-stem aggregate so repeated entries can
		// never consume a lot more than once.
		debitIndex := make(map[string]int, len(ap.Stems))
		exec := assetExecution{asset: ap.Asset, isBase: entry.IsBase, units: big.NewInt(0)}
		for i, stem := range ap.Stems {
			if stem == nil || i >= len(ap.Amounts) {
				return nil, errNilPlan
			}
			amount := ap.Amounts[i]
			if amount == nil || amount.Sign() <= 0 {
				return nil, errInvalidAmount
			}
			key := stem.String()
			dep, ok := byStem[key]
			if !ok {
				return nil, ErrInsufficientDeposit
			}
			claim := new(big.Int).Set(amount)
			if idx, ok := debitIndex[key]; ok {
				claim = claim.Add(claim, exec.debits[idx].amount)
				exec.debits[idx].amount = claim
			} else {
				debitIndex[key] = len(exec.debits)
				exec.debits = append(exec.debits, plannedDebit{deposit: dep, amount: claim})
			}
			if dep.Amount == nil || dep.Amount.Cmp(claim) < 0 {
				return nil, ErrInsufficientDeposit
			}
			exec.units = new(big.Int).Add(exec.units, amount)
		}

		if !entry.IsBase {
			subtotal := ap.AvailableBDV
			if subtotal == nil || subtotal.Sign() <= 0 {
				return nil, errInvalidAmount
			}
			keep := new(big.Int).SetUint64(10_000 - slippageBps)
			minOut := new(big.Int).Mul(subtotal, keep)
			minOut = minOut.Quo(minOut, basisPoints)
			// Preflight through the pool itself rather than the spot quote:
			// a redemption large enough to move the price pays out along the
			// curve, and only the pool knows where it lands.
			previewed, err := e.liquidity.PreviewRedeem(ap.Asset, exec.units)
			if err != nil {
				return nil, err
			}
			if previewed.Cmp(minOut) < 0 {
				return nil, ErrSlippage
			}
			exec.minOut = minOut
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

// debitDeposit reduces the lot in place, scaling its BDV snapshot down
// proportionally, and removes the record entirely when fully consumed. Zero
// amount lots never persist.
func (e *Engine) debitDeposit(owner, asset common.Address, dep *Deposit, amount *big.Int) error {
	remaining := new(big.Int).Sub(dep.Amount, amount)
	if remaining.Sign() <= 0 {
		return e.state.RemoveDeposit(owner, asset, dep.Stem)
	}
	updated := &Deposit{
		Stem:   new(big.Int).Set(dep.Stem),
		Amount: remaining,
		BDV:    big.NewInt(0),
	}
	if dep.BDV != nil && dep.Amount.Sign() > 0 {
		scaled := new(big.Int).Mul(dep.BDV, remaining)
		updated.BDV = scaled.Quo(scaled, dep.Amount)
	}
	return e.state.PutDeposit(owner, asset, updated)
}
