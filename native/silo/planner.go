package silo

import (
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// BuildPlan selects lots across the resolved source assets until the running
// bean-denominated total meets targetBDV or every source is exhausted. Each
// asset is queried at most once. The returned plan conserves value exactly:
// per-asset subtotals sum to TotalAvailableBDV, and a shortfall against the
// target is reported, not raised.
func (e *Engine) BuildPlan(owner common.Address, sources []SourceSelector, targetBDV *big.Int, policy FilterPolicy) (*Plan, error) {
	return e.buildPlan(owner, sources, targetBDV, policy, nil)
}

func (e *Engine) buildPlan(owner common.Address, sources []SourceSelector, targetBDV *big.Int, policy FilterPolicy, claimed map[common.Address]map[string]*big.Int) (*Plan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.quoter == nil {
		return nil, errNilQuoter
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if targetBDV == nil || targetBDV.Sign() <= 0 {
		return nil, errInvalidTarget
	}
	if len(sources) == 0 {
		return nil, errNoSources
	}

	resolved, err := e.resolveSources(sources, policy)
	if err != nil {
		return nil, err
	}

	plan := &Plan{TotalAvailableBDV: big.NewInt(0)}
	for _, entry := range resolved {
		remaining := new(big.Int).Sub(targetBDV, plan.TotalAvailableBDV)
		if remaining.Sign() <= 0 {
			break
		}

		need := remaining
		if !entry.IsBase {
			need, err = e.quoter.BDVToUnits(entry.Address, remaining)
			if err != nil {
				return nil, err
			}
			if need.Sign() <= 0 {
				continue
			}
		}

		selection, err := e.SelectDeposits(owner, entry.Address, need, policy, claimed[entry.Address])
		if err != nil {
			if errors.Is(err, ErrNoDeposits) {
				continue
			}
			return nil, err
		}
		if selection.Available.Sign() <= 0 {
			continue
		}

		subtotal := new(big.Int).Set(selection.Available)
		if !entry.IsBase {
			subtotal, err = e.quoter.UnitsToBDV(entry.Address, selection.Available)
			if err != nil {
				return nil, err
			}
			// When the unit target was fully met, conversion rounding must not
			// report more value than the caller still needs.
			if selection.Available.Cmp(need) == 0 && subtotal.Cmp(remaining) > 0 {
				subtotal = new(big.Int).Set(remaining)
			}
		}
		if subtotal.Sign() <= 0 {
			continue
		}

		plan.Assets = append(plan.Assets, &AssetPlan{
			Asset:        entry.Address,
			Stems:        selection.Stems,
			Amounts:      selection.Amounts,
			AvailableBDV: subtotal,
		})
		plan.TotalAvailableBDV = new(big.Int).Add(plan.TotalAvailableBDV, subtotal)
	}
	return plan, nil
}

// resolveSources expands sentinel selectors into a concrete asset order and
// deduplicates so the planner never visits an asset twice. Sentinels order all
// eligible assets ascending by spot price or by seeds-per-BDV; ties keep
// whitelist registration order.
func (e *Engine) resolveSources(sources []SourceSelector, policy FilterPolicy) ([]WhitelistedAsset, error) {
	whitelist, err := e.state.Whitelist()
	if err != nil {
		return nil, err
	}
	byAddress := make(map[common.Address]WhitelistedAsset, len(whitelist))
	for _, entry := range whitelist {
		byAddress[entry.Address] = entry
	}

	resolved := make([]WhitelistedAsset, 0, len(whitelist))
	seen := make(map[common.Address]bool, len(whitelist))
	appendAsset := func(entry WhitelistedAsset) {
		if seen[entry.Address] {
			return
		}
		if policy.ExcludeBase && entry.IsBase {
			return
		}
		seen[entry.Address] = true
		resolved = append(resolved, entry)
	}

	for _, source := range sources {
		switch source.Kind {
		case SourceConcrete:
			entry, ok := byAddress[source.Asset]
			if !ok {
				return nil, ErrAssetNotWhitelisted
			}
			appendAsset(entry)
		case SourceAscendingPrice:
			expanded, err := e.assetsByAscendingPrice(whitelist)
			if err != nil {
				return nil, err
			}
			for _, entry := range expanded {
				appendAsset(entry)
			}
		case SourceAscendingSeeds:
			for _, entry := range assetsByAscendingSeeds(whitelist) {
				appendAsset(entry)
			}
		default:
			return nil, errNoSources
		}
	}
	return resolved, nil
}

func (e *Engine) assetsByAscendingPrice(whitelist []WhitelistedAsset) ([]WhitelistedAsset, error) {
	prices := make(map[common.Address]*big.Rat, len(whitelist))
	for _, entry := range whitelist {
		price, err := e.quoter.SpotPrice(entry.Address)
		if err != nil {
			return nil, err
		}
		if price == nil {
			price = new(big.Rat)
		}
		prices[entry.Address] = price
	}
	ordered := append([]WhitelistedAsset(nil), whitelist...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return prices[ordered[i].Address].Cmp(prices[ordered[j].Address]) < 0
	})
	return ordered, nil
}

func assetsByAscendingSeeds(whitelist []WhitelistedAsset) []WhitelistedAsset {
	ordered := append([]WhitelistedAsset(nil), whitelist...)
	sort.SliceStable(ordered, func(i, j int) bool {
		left, right := ordered[i].SeedsPerBDV, ordered[j].SeedsPerBDV
		if left == nil {
			left = big.NewInt(0)
		}
		if right == nil {
			right = big.NewInt(0)
		}
		return left.Cmp(right) < 0
	})
	return ordered
}
