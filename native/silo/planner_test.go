package silo

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func newPlannerFixture() (*mockState, common.Address, common.Address, common.Address) {
	state := newMockState()
	base := makeAddr(0xB0)
	pool := makeAddr(0xC0)
	owner := makeAddr(0x01)
	state.whitelist = []WhitelistedAsset{
		{Address: base, Name: "PINTO", SeedsPerBDV: big.NewInt(1), IsBase: true},
		{Address: pool, Name: "PINTO-WETH", SeedsPerBDV: big.NewInt(3)},
	}
	return state, owner, base, pool
}

// Owner holds 1000 BDV of base and 1000 BDV of pool shares; requesting 1900 in
// [base, pool] order splits 1000/900.
func TestBuildPlanSplitsAcrossAssets(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	state.seedDeposit(owner, base, 0, 1000, 1000)
	state.seedDeposit(owner, pool, 0, 1000, 1000)

	engine, _, _ := newTestEngine(state)
	sources := []SourceSelector{SourceAsset(base), SourceAsset(pool)}
	plan, err := engine.BuildPlan(owner, sources, big.NewInt(1900), FilterPolicy{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if plan.TotalAvailableBDV.Cmp(big.NewInt(1900)) != 0 {
		t.Fatalf("unexpected total: %s", plan.TotalAvailableBDV)
	}
	if len(plan.Assets) != 2 {
		t.Fatalf("expected two asset plans, got %d", len(plan.Assets))
	}
	if plan.Assets[0].Asset != base || plan.Assets[0].AvailableBDV.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected base subtotal: %s", plan.Assets[0].AvailableBDV)
	}
	if plan.Assets[1].Asset != pool || plan.Assets[1].AvailableBDV.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("unexpected pool subtotal: %s", plan.Assets[1].AvailableBDV)
	}
}

func TestBuildPlanStopsAtTarget(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	state.seedDeposit(owner, base, 0, 2000, 2000)
	state.seedDeposit(owner, pool, 0, 1000, 1000)

	engine, _, _ := newTestEngine(state)
	sources := []SourceSelector{SourceAsset(base), SourceAsset(pool)}
	plan, err := engine.BuildPlan(owner, sources, big.NewInt(1500), FilterPolicy{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if len(plan.Assets) != 1 || plan.Assets[0].Asset != base {
		t.Fatalf("planner should not touch the pool once the target is met")
	}
	if plan.TotalAvailableBDV.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("unexpected total: %s", plan.TotalAvailableBDV)
	}
}

// Filtering out every lot yields an empty plan with zero available, no error.
func TestBuildPlanAllLotsFiltered(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	state.seedDeposit(owner, base, 0, 1000, 1000)
	state.tips[base] = big.NewInt(10)
	state.tips[pool] = big.NewInt(10)

	engine, _, _ := newTestEngine(state)
	policy := FilterPolicy{MaxGrownStalkPerBDV: big.NewRat(1, 1_000_000)}
	plan, err := engine.BuildPlan(owner, []SourceSelector{SourceAsset(base), SourceAsset(pool)}, big.NewInt(500), policy)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if len(plan.Assets) != 0 || plan.TotalAvailableBDV.Sign() != 0 {
		t.Fatalf("expected empty plan, got total %s", plan.TotalAvailableBDV)
	}
}

// Requesting more than exists returns everything eligible and a shortfall the
// caller must check, never an error.
func TestBuildPlanShortfall(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	state.seedDeposit(owner, base, 0, 400, 400)
	state.seedDeposit(owner, pool, 0, 300, 300)

	engine, _, _ := newTestEngine(state)
	plan, err := engine.BuildPlan(owner, []SourceSelector{SourceAsset(base), SourceAsset(pool)}, big.NewInt(10_000), FilterPolicy{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if plan.TotalAvailableBDV.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("expected 700 available, got %s", plan.TotalAvailableBDV)
	}
	if plan.Assets[0].Amounts[0].Cmp(big.NewInt(400)) != 0 || plan.Assets[1].Amounts[0].Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected every eligible lot fully consumed")
	}
}

func TestBuildPlanValueConservation(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	state.seedDeposit(owner, base, 0, 250, 250)
	state.seedDeposit(owner, base, 2, 750, 750)
	state.seedDeposit(owner, pool, 0, 500, 500)

	engine, _, _ := newTestEngine(state)
	plan, err := engine.BuildPlan(owner, []SourceSelector{SourceAsset(base), SourceAsset(pool)}, big.NewInt(1200), FilterPolicy{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	sum := big.NewInt(0)
	for _, ap := range plan.Assets {
		sum = sum.Add(sum, ap.AvailableBDV)
		lotSum := big.NewInt(0)
		for _, amount := range ap.Amounts {
			if amount.Sign() <= 0 {
				t.Fatalf("zero-amount entry in plan")
			}
			lotSum = lotSum.Add(lotSum, amount)
		}
		// one-to-one quote fixture: per-asset units equal BDV exactly
		if lotSum.Cmp(ap.AvailableBDV) != 0 {
			t.Fatalf("asset %s subtotal %s != lot sum %s", ap.Asset, ap.AvailableBDV, lotSum)
		}
	}
	if sum.Cmp(plan.TotalAvailableBDV) != 0 {
		t.Fatalf("subtotals %s do not sum to total %s", sum, plan.TotalAvailableBDV)
	}
}

func TestBuildPlanAscendingPriceOrder(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	pool2 := makeAddr(0xD0)
	state.whitelist = append(state.whitelist, WhitelistedAsset{
		Address: pool2, Name: "PINTO-USDC", SeedsPerBDV: big.NewInt(2),
	})
	state.seedDeposit(owner, base, 0, 100, 100)
	state.seedDeposit(owner, pool, 0, 100, 100)
	state.seedDeposit(owner, pool2, 0, 100, 100)

	engine, quoter, _ := newTestEngine(state)
	quoter.rates[pool] = big.NewRat(3, 1)
	quoter.rates[pool2] = big.NewRat(2, 1)

	plan, err := engine.BuildPlan(owner, []SourceSelector{SourceByAscendingPrice()}, big.NewInt(1_000_000), FilterPolicy{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	// base (price 1) first, then pool2 (2), then pool (3)
	want := []common.Address{base, pool2, pool}
	if len(plan.Assets) != len(want) {
		t.Fatalf("expected %d assets, got %d", len(want), len(plan.Assets))
	}
	for i, ap := range plan.Assets {
		if ap.Asset != want[i] {
			t.Fatalf("unexpected asset at %d: %s", i, ap.Asset)
		}
	}
}

func TestBuildPlanAscendingSeedsOrderWithRegistrationTieBreak(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	pool2 := makeAddr(0xD0)
	// Same seeds as pool; registration order must break the tie.
	state.whitelist = append(state.whitelist, WhitelistedAsset{
		Address: pool2, Name: "PINTO-USDC", SeedsPerBDV: big.NewInt(3),
	})
	state.seedDeposit(owner, base, 0, 100, 100)
	state.seedDeposit(owner, pool, 0, 100, 100)
	state.seedDeposit(owner, pool2, 0, 100, 100)

	engine, _, _ := newTestEngine(state)
	plan, err := engine.BuildPlan(owner, []SourceSelector{SourceByAscendingSeeds()}, big.NewInt(1_000_000), FilterPolicy{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	want := []common.Address{base, pool, pool2}
	for i, ap := range plan.Assets {
		if ap.Asset != want[i] {
			t.Fatalf("unexpected asset at %d: %s", i, ap.Asset)
		}
	}
}

func TestBuildPlanExcludeBase(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	state.seedDeposit(owner, base, 0, 1000, 1000)
	state.seedDeposit(owner, pool, 0, 1000, 1000)

	engine, _, _ := newTestEngine(state)
	plan, err := engine.BuildPlan(owner, []SourceSelector{SourceByAscendingSeeds()}, big.NewInt(500), FilterPolicy{ExcludeBase: true})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	for _, ap := range plan.Assets {
		if ap.Asset == base {
			t.Fatalf("base asset selected despite ExcludeBase")
		}
	}
	if plan.TotalAvailableBDV.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected total: %s", plan.TotalAvailableBDV)
	}
}

// A sentinel followed by a concrete selector must not revisit an asset.
func TestBuildPlanNeverQueriesAssetTwice(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	state.seedDeposit(owner, base, 0, 100, 100)
	state.seedDeposit(owner, pool, 0, 100, 100)

	engine, _, _ := newTestEngine(state)
	sources := []SourceSelector{SourceByAscendingSeeds(), SourceAsset(base), SourceAsset(pool)}
	plan, err := engine.BuildPlan(owner, sources, big.NewInt(1_000_000), FilterPolicy{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	seen := make(map[common.Address]bool)
	for _, ap := range plan.Assets {
		if seen[ap.Asset] {
			t.Fatalf("asset %s visited twice", ap.Asset)
		}
		seen[ap.Asset] = true
	}
	if plan.TotalAvailableBDV.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected total: %s", plan.TotalAvailableBDV)
	}
}

func TestBuildPlanUnknownAssetRejected(t *testing.T) {
	state, owner, _, _ := newPlannerFixture()
	engine, _, _ := newTestEngine(state)
	_, err := engine.BuildPlan(owner, []SourceSelector{SourceAsset(makeAddr(0xEE))}, big.NewInt(100), FilterPolicy{})
	if !errors.Is(err, ErrAssetNotWhitelisted) {
		t.Fatalf("expected ErrAssetNotWhitelisted, got %v", err)
	}
}

// Pool units are quoted at 2 base per unit: a 900 BDV need converts to 450
// units and the subtotal is quoted back from the units actually selected.
func TestBuildPlanQuotesPoolNeedIntoUnits(t *testing.T) {
	state, owner, base, pool := newPlannerFixture()
	state.seedDeposit(owner, base, 0, 1000, 1000)
	state.seedDeposit(owner, pool, 0, 1000, 2000)

	engine, quoter, _ := newTestEngine(state)
	quoter.rates[pool] = big.NewRat(2, 1)

	plan, err := engine.BuildPlan(owner, []SourceSelector{SourceAsset(base), SourceAsset(pool)}, big.NewInt(1900), FilterPolicy{})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	poolPlan := plan.Assets[1]
	if poolPlan.Amounts[0].Cmp(big.NewInt(450)) != 0 {
		t.Fatalf("expected 450 units selected, got %s", poolPlan.Amounts[0])
	}
	if poolPlan.AvailableBDV.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("expected 900 BDV subtotal, got %s", poolPlan.AvailableBDV)
	}
	if plan.TotalAvailableBDV.Cmp(big.NewInt(1900)) != 0 {
		t.Fatalf("unexpected total: %s", plan.TotalAvailableBDV)
	}
}
