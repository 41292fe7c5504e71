package silo

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// mockState is an in-memory engineState used across the package tests.
type mockState struct {
	deposits  map[common.Address]map[common.Address]map[string]*Deposit
	tips      map[common.Address]*big.Int
	whitelist []WhitelistedAsset
	credits   map[common.Address]*big.Int

	depositsErr error
}

func newMockState() *mockState {
	return &mockState{
		deposits: make(map[common.Address]map[common.Address]map[string]*Deposit),
		tips:     make(map[common.Address]*big.Int),
		credits:  make(map[common.Address]*big.Int),
	}
}

func (m *mockState) bucket(owner, asset common.Address) map[string]*Deposit {
	byAsset, ok := m.deposits[owner]
	if !ok {
		byAsset = make(map[common.Address]map[string]*Deposit)
		m.deposits[owner] = byAsset
	}
	byStem, ok := byAsset[asset]
	if !ok {
		byStem = make(map[string]*Deposit)
		byAsset[asset] = byStem
	}
	return byStem
}

func (m *mockState) DepositsOf(owner, asset common.Address) ([]*Deposit, error) {
	if m.depositsErr != nil {
		return nil, m.depositsErr
	}
	byStem := m.bucket(owner, asset)
	out := make([]*Deposit, 0, len(byStem))
	for _, dep := range byStem {
		out = append(out, dep)
	}
	return out, nil
}

func (m *mockState) PutDeposit(owner, asset common.Address, dep *Deposit) error {
	m.bucket(owner, asset)[dep.Stem.String()] = dep
	return nil
}

func (m *mockState) RemoveDeposit(owner, asset common.Address, stem *big.Int) error {
	delete(m.bucket(owner, asset), stem.String())
	return nil
}

func (m *mockState) StemTip(asset common.Address) (*big.Int, error) {
	if tip, ok := m.tips[asset]; ok {
		return new(big.Int).Set(tip), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) Whitelist() ([]WhitelistedAsset, error) {
	return m.whitelist, nil
}

func (m *mockState) CreditBase(recipient common.Address, amount *big.Int) error {
	prev, ok := m.credits[recipient]
	if !ok {
		prev = big.NewInt(0)
	}
	m.credits[recipient] = new(big.Int).Add(prev, amount)
	return nil
}

func (m *mockState) seedDeposit(owner, asset common.Address, stem, amount, bdv int64) {
	m.bucket(owner, asset)[big.NewInt(stem).String()] = &Deposit{
		Stem:   big.NewInt(stem),
		Amount: big.NewInt(amount),
		BDV:    big.NewInt(bdv),
	}
}

func makeAddr(suffix byte) common.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return common.BytesToAddress(raw)
}

// mockQuoter quotes one-to-one for every asset unless a rate override is set
// as a (num, den) base-per-unit fraction.
type mockQuoter struct {
	rates map[common.Address]*big.Rat
}

func newMockQuoter() *mockQuoter {
	return &mockQuoter{rates: make(map[common.Address]*big.Rat)}
}

func (q *mockQuoter) rate(asset common.Address) *big.Rat {
	if r, ok := q.rates[asset]; ok {
		return r
	}
	return big.NewRat(1, 1)
}

func (q *mockQuoter) BDVToUnits(asset common.Address, bdv *big.Int) (*big.Int, error) {
	r := q.rate(asset)
	units := new(big.Int).Mul(bdv, r.Denom())
	units, rem := units.QuoRem(units, r.Num(), new(big.Int))
	if rem.Sign() > 0 {
		units = units.Add(units, big.NewInt(1))
	}
	return units, nil
}

func (q *mockQuoter) UnitsToBDV(asset common.Address, units *big.Int) (*big.Int, error) {
	r := q.rate(asset)
	bdv := new(big.Int).Mul(units, r.Num())
	return bdv.Quo(bdv, r.Denom()), nil
}

func (q *mockQuoter) SpotPrice(asset common.Address) (*big.Rat, error) {
	return new(big.Rat).Set(q.rate(asset)), nil
}

// mockLiquidity redeems units one-to-one minus a fixed haircut. PreviewRedeem
// reports the same output Redeem will realise.
type mockLiquidity struct {
	haircut  *big.Int
	failWith error
	redeemed []*big.Int
}

func (l *mockLiquidity) payout(units *big.Int) *big.Int {
	out := new(big.Int).Set(units)
	if l.haircut != nil {
		out = out.Sub(out, l.haircut)
	}
	if out.Sign() < 0 {
		out = big.NewInt(0)
	}
	return out
}

func (l *mockLiquidity) PreviewRedeem(asset common.Address, units *big.Int) (*big.Int, error) {
	return l.payout(units), nil
}

func (l *mockLiquidity) Redeem(asset common.Address, units, minOut *big.Int) (*big.Int, error) {
	if l.failWith != nil {
		return nil, l.failWith
	}
	out := l.payout(units)
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, ErrSlippage
	}
	l.redeemed = append(l.redeemed, new(big.Int).Set(units))
	return out, nil
}

func newTestEngine(state *mockState) (*Engine, *mockQuoter, *mockLiquidity) {
	engine := NewEngine(nil)
	quoter := newMockQuoter()
	liquidity := &mockLiquidity{}
	engine.SetState(state)
	engine.SetQuoter(quoter)
	engine.SetLiquidity(liquidity)
	return engine, quoter, liquidity
}
