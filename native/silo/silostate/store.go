// Package silostate persists silo ledger state in a key-value database using
// RLP-encoded records. Big integers travel as decimal strings inside the
// stored structs so records stay canonical across encoders.
package silostate

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"pintochain/native/silo"
	"pintochain/storage"
)

var (
	depositPrefix   = []byte("silo/deposit/")
	stemIndexPrefix = []byte("silo/stems/")
	tipPrefix       = []byte("silo/tip/")
	balancePrefix   = []byte("silo/balance/")
	whitelistKey    = []byte("silo/whitelist")
)

type storedDeposit struct {
	Stem   string
	Amount string
	BDV    string
}

type storedAsset struct {
	Address     common.Address
	Name        string
	SeedsPerBDV string
	IsBase      bool
}

// Store implements the silo engine's state interface over a storage.Database.
type Store struct {
	db storage.Database
}

// NewStore wraps the database in a silo state store.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func depositKey(owner, asset common.Address, stem *big.Int) []byte {
	return []byte(string(depositPrefix) + owner.Hex() + "/" + asset.Hex() + "/" + stem.String())
}

func stemIndexKey(owner, asset common.Address) []byte {
	return []byte(string(stemIndexPrefix) + owner.Hex() + "/" + asset.Hex())
}

func tipKey(asset common.Address) []byte {
	return []byte(string(tipPrefix) + asset.Hex())
}

func balanceKey(owner common.Address) []byte {
	return []byte(string(balancePrefix) + owner.Hex())
}

// DepositsOf returns every lot the owner holds for the asset. Order is not
// guaranteed; callers sort as needed.
func (s *Store) DepositsOf(owner, asset common.Address) ([]*silo.Deposit, error) {
	stems, err := s.stemIndex(owner, asset)
	if err != nil {
		return nil, err
	}
	deposits := make([]*silo.Deposit, 0, len(stems))
	for _, stem := range stems {
		raw, err := s.db.Get(depositKey(owner, asset, stem))
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		var stored storedDeposit
		if err := rlp.DecodeBytes(raw, &stored); err != nil {
			return nil, err
		}
		dep, err := fromStoredDeposit(&stored)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, dep)
	}
	return deposits, nil
}

// PutDeposit writes the lot and registers its stem in the per-(owner, asset)
// index.
func (s *Store) PutDeposit(owner, asset common.Address, dep *silo.Deposit) error {
	if dep == nil || dep.Stem == nil {
		return fmt.Errorf("silostate: deposit and stem must not be nil")
	}
	stored := storedDeposit{Stem: dep.Stem.String()}
	if dep.Amount != nil {
		stored.Amount = dep.Amount.String()
	}
	if dep.BDV != nil {
		stored.BDV = dep.BDV.String()
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	if err := s.db.Put(depositKey(owner, asset, dep.Stem), encoded); err != nil {
		return err
	}
	return s.addStemToIndex(owner, asset, dep.Stem)
}

// RemoveDeposit deletes the lot and unregisters its stem.
func (s *Store) RemoveDeposit(owner, asset common.Address, stem *big.Int) error {
	if stem == nil {
		return fmt.Errorf("silostate: stem must not be nil")
	}
	if err := s.db.Delete(depositKey(owner, asset, stem)); err != nil {
		return err
	}
	return s.removeStemFromIndex(owner, asset, stem)
}

// StemTip reads the asset's cumulative grown-stalk index, zero when unset.
func (s *Store) StemTip(asset common.Address) (*big.Int, error) {
	raw, err := s.db.Get(tipKey(asset))
	if err != nil {
		if err == storage.ErrNotFound {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return parseBig(string(raw))
}

// SetStemTip records the asset's tip. Tips only ever move forward; a write
// below the stored value is rejected.
func (s *Store) SetStemTip(asset common.Address, tip *big.Int) error {
	if tip == nil || tip.Sign() < 0 {
		return fmt.Errorf("silostate: tip must be non-negative")
	}
	current, err := s.StemTip(asset)
	if err != nil {
		return err
	}
	if tip.Cmp(current) < 0 {
		return fmt.Errorf("silostate: tip cannot decrease (%s < %s)", tip, current)
	}
	return s.db.Put(tipKey(asset), []byte(tip.String()))
}

// Whitelist returns the registered assets in registration order.
func (s *Store) Whitelist() ([]silo.WhitelistedAsset, error) {
	raw, err := s.db.Get(whitelistKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var stored []storedAsset
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	assets := make([]silo.WhitelistedAsset, 0, len(stored))
	for _, entry := range stored {
		seeds, err := parseBig(entry.SeedsPerBDV)
		if err != nil {
			return nil, err
		}
		assets = append(assets, silo.WhitelistedAsset{
			Address:     entry.Address,
			Name:        entry.Name,
			SeedsPerBDV: seeds,
			IsBase:      entry.IsBase,
		})
	}
	return assets, nil
}

// SetWhitelist replaces the asset registry. Slice order is the registration
// order used for tie-breaking.
func (s *Store) SetWhitelist(assets []silo.WhitelistedAsset) error {
	stored := make([]storedAsset, 0, len(assets))
	for _, entry := range assets {
		record := storedAsset{
			Address: entry.Address,
			Name:    strings.TrimSpace(entry.Name),
			IsBase:  entry.IsBase,
		}
		if entry.SeedsPerBDV != nil {
			record.SeedsPerBDV = entry.SeedsPerBDV.String()
		}
		stored = append(stored, record)
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return s.db.Put(whitelistKey, encoded)
}

// CreditBase adds delivered base-asset value to the recipient's balance.
func (s *Store) CreditBase(recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("silostate: credit must be positive")
	}
	balance, err := s.BaseBalance(recipient)
	if err != nil {
		return err
	}
	balance = new(big.Int).Add(balance, amount)
	return s.db.Put(balanceKey(recipient), []byte(balance.String()))
}

// BaseBalance reads the owner's accumulated base-asset balance.
func (s *Store) BaseBalance(owner common.Address) (*big.Int, error) {
	raw, err := s.db.Get(balanceKey(owner))
	if err != nil {
		if err == storage.ErrNotFound {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return parseBig(string(raw))
}

func (s *Store) stemIndex(owner, asset common.Address) ([]*big.Int, error) {
	raw, err := s.db.Get(stemIndexKey(owner, asset))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var encoded []string
	if err := rlp.DecodeBytes(raw, &encoded); err != nil {
		return nil, err
	}
	stems := make([]*big.Int, 0, len(encoded))
	for _, entry := range encoded {
		stem, err := parseBig(entry)
		if err != nil {
			return nil, err
		}
		stems = append(stems, stem)
	}
	return stems, nil
}

func (s *Store) writeStemIndex(owner, asset common.Address, stems []*big.Int) error {
	if len(stems) == 0 {
		return s.db.Delete(stemIndexKey(owner, asset))
	}
	sort.Slice(stems, func(i, j int) bool { return stems[i].Cmp(stems[j]) < 0 })
	encoded := make([]string, 0, len(stems))
	for _, stem := range stems {
		encoded = append(encoded, stem.String())
	}
	raw, err := rlp.EncodeToBytes(encoded)
	if err != nil {
		return err
	}
	return s.db.Put(stemIndexKey(owner, asset), raw)
}

func (s *Store) addStemToIndex(owner, asset common.Address, stem *big.Int) error {
	stems, err := s.stemIndex(owner, asset)
	if err != nil {
		return err
	}
	for _, existing := range stems {
		if existing.Cmp(stem) == 0 {
			return nil
		}
	}
	stems = append(stems, new(big.Int).Set(stem))
	return s.writeStemIndex(owner, asset, stems)
}

func (s *Store) removeStemFromIndex(owner, asset common.Address, stem *big.Int) error {
	stems, err := s.stemIndex(owner, asset)
	if err != nil {
		return err
	}
	filtered := stems[:0]
	for _, existing := range stems {
		if existing.Cmp(stem) != 0 {
			filtered = append(filtered, existing)
		}
	}
	return s.writeStemIndex(owner, asset, filtered)
}

func fromStoredDeposit(stored *storedDeposit) (*silo.Deposit, error) {
	stem, err := parseBig(stored.Stem)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig(stored.Amount)
	if err != nil {
		return nil, err
	}
	bdv, err := parseBig(stored.BDV)
	if err != nil {
		return nil, err
	}
	return &silo.Deposit{Stem: stem, Amount: amount, BDV: bdv}, nil
}

func parseBig(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("silostate: invalid integer %q", value)
	}
	return parsed, nil
}
