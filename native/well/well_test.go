package well

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func wellAddr(suffix byte) common.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return common.BytesToAddress(raw)
}

func TestSpotPriceBaseIsAlwaysOne(t *testing.T) {
	base := wellAddr(0x01)
	w := NewReserveWell(base)
	price, err := w.SpotPrice(base)
	if err != nil {
		t.Fatalf("spot price: %v", err)
	}
	if price.Cmp(big.NewRat(1, 1)) != 0 {
		t.Fatalf("unexpected base price: %s", price)
	}
}

func TestSpotPriceFromReserves(t *testing.T) {
	base := wellAddr(0x01)
	pool := wellAddr(0x02)
	w := NewReserveWell(base)
	w.SetReserves(pool, big.NewInt(3_000_000), big.NewInt(1_000_000))

	price, err := w.SpotPrice(pool)
	if err != nil {
		t.Fatalf("spot price: %v", err)
	}
	if price.Cmp(big.NewRat(3, 1)) != 0 {
		t.Fatalf("unexpected price: %s", price)
	}
}

func TestConversionRoundTripNeverCreatesValue(t *testing.T) {
	base := wellAddr(0x01)
	pool := wellAddr(0x02)
	w := NewReserveWell(base)
	w.SetReserves(pool, big.NewInt(7_777_777), big.NewInt(3_333_331))

	for _, bdv := range []int64{1, 99, 12_345, 1_000_000} {
		units, err := w.BDVToUnits(pool, big.NewInt(bdv))
		if err != nil {
			t.Fatalf("bdv to units: %v", err)
		}
		back, err := w.UnitsToBDV(pool, units)
		if err != nil {
			t.Fatalf("units to bdv: %v", err)
		}
		// Rounding up on the way in and down on the way out keeps the round
		// trip at or barely above the request, never below it and never a
		// free lunch relative to the reserves.
		if back.Cmp(big.NewInt(bdv)) < 0 {
			t.Fatalf("round trip lost value: %d -> %s units -> %s", bdv, units, back)
		}
	}
}

func TestUnitsToBDVFloors(t *testing.T) {
	base := wellAddr(0x01)
	pool := wellAddr(0x02)
	w := NewReserveWell(base)
	w.SetReserves(pool, big.NewInt(10), big.NewInt(3))

	bdv, err := w.UnitsToBDV(pool, big.NewInt(1))
	if err != nil {
		t.Fatalf("units to bdv: %v", err)
	}
	if bdv.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("expected floor(10/3)=3, got %s", bdv)
	}
}

func TestRedeemWalksConstantProductCurve(t *testing.T) {
	base := wellAddr(0x01)
	pool := wellAddr(0x02)
	w := NewReserveWell(base)
	w.SetReserves(pool, big.NewInt(1_000_000), big.NewInt(1_000_000))

	out, err := w.Redeem(pool, big.NewInt(10_000), big.NewInt(9_000))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// 10_000 * 1_000_000 / 1_010_000
	if out.Cmp(big.NewInt(9_900)) != 0 {
		t.Fatalf("unexpected output: %s", out)
	}

	baseReserve, tokenReserve, err := w.Reserves(pool)
	if err != nil {
		t.Fatalf("reserves: %v", err)
	}
	if baseReserve.Cmp(big.NewInt(990_100)) != 0 || tokenReserve.Cmp(big.NewInt(1_010_000)) != 0 {
		t.Fatalf("reserves not updated: base %s token %s", baseReserve, tokenReserve)
	}
}

// PreviewRedeem must report exactly what a same-sized Redeem realises, and
// leave the reserves alone doing so.
func TestPreviewRedeemMatchesRedeem(t *testing.T) {
	base := wellAddr(0x01)
	pool := wellAddr(0x02)
	w := NewReserveWell(base)
	w.SetReserves(pool, big.NewInt(1_000_000), big.NewInt(1_000_000))

	previewed, err := w.PreviewRedeem(pool, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	baseReserve, tokenReserve, err := w.Reserves(pool)
	if err != nil {
		t.Fatalf("reserves: %v", err)
	}
	if baseReserve.Cmp(big.NewInt(1_000_000)) != 0 || tokenReserve.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("reserves mutated by preview")
	}

	out, err := w.Redeem(pool, big.NewInt(10_000), nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if previewed.Cmp(out) != 0 {
		t.Fatalf("preview %s diverges from realised output %s", previewed, out)
	}
	// Well below the spot quote of 10_000.
	if out.Cmp(big.NewInt(9_900)) != 0 {
		t.Fatalf("unexpected curve output: %s", out)
	}
}

func TestRedeemBelowMinOutFailsWithoutMutation(t *testing.T) {
	base := wellAddr(0x01)
	pool := wellAddr(0x02)
	w := NewReserveWell(base)
	w.SetReserves(pool, big.NewInt(1_000_000), big.NewInt(1_000_000))

	if _, err := w.Redeem(pool, big.NewInt(10_000), big.NewInt(9_999)); !errors.Is(err, ErrInsufficientOutput) {
		t.Fatalf("expected ErrInsufficientOutput, got %v", err)
	}
	baseReserve, tokenReserve, err := w.Reserves(pool)
	if err != nil {
		t.Fatalf("reserves: %v", err)
	}
	if baseReserve.Cmp(big.NewInt(1_000_000)) != 0 || tokenReserve.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("reserves mutated by failed redemption")
	}
}

func TestUnknownAsset(t *testing.T) {
	w := NewReserveWell(wellAddr(0x01))
	if _, err := w.SpotPrice(wellAddr(0x09)); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if _, err := w.Redeem(wellAddr(0x09), big.NewInt(1), nil); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}
