package pledge

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"pledgepool/storage"
)

var (
	poolCountKey       = []byte("pledge/pools")
	poolRecordPrefix   = []byte("pledge/pool/")
	lendRecordPrefix   = []byte("pledge/lend/")
	borrowRecordPrefix = []byte("pledge/borrow/")
)

// storedPool mirrors Pool with RLP-friendly field types. Time values are
// persisted as unsigned seconds; pools never carry pre-epoch timestamps.
type storedPool struct {
	ID                     uint64
	SettleTime             uint64
	EndTime                uint64
	InterestRate           *big.Int
	MaxSupply              *big.Int
	MortgageRate           *big.Int
	AutoLiquidateThreshold *big.Int
	LendToken              common.Address
	BorrowToken            common.Address
	SpToken                common.Address
	JpToken                common.Address
	LendSupply             *big.Int
	BorrowSupply           *big.Int
	SettleAmountLend       *big.Int
	SettleAmountBorrow     *big.Int
	FinishAmountLend       *big.Int
	FinishAmountBorrow     *big.Int
	State                  uint8
}

func (s *storedPool) toPool() *Pool {
	return &Pool{
		ID: s.ID,
		Terms: PoolTerms{
			SettleTime:             int64(s.SettleTime),
			EndTime:                int64(s.EndTime),
			InterestRate:           s.InterestRate,
			MaxSupply:              s.MaxSupply,
			MortgageRate:           s.MortgageRate,
			AutoLiquidateThreshold: s.AutoLiquidateThreshold,
			LendToken:              s.LendToken,
			BorrowToken:            s.BorrowToken,
			SpToken:                s.SpToken,
			JpToken:                s.JpToken,
		},
		LendSupply:         s.LendSupply,
		BorrowSupply:       s.BorrowSupply,
		SettleAmountLend:   s.SettleAmountLend,
		SettleAmountBorrow: s.SettleAmountBorrow,
		FinishAmountLend:   s.FinishAmountLend,
		FinishAmountBorrow: s.FinishAmountBorrow,
		State:              PoolState(s.State),
	}
}

type storedPosition struct {
	Address     common.Address
	StakeAmount *big.Int
	HasClaimed  bool
	HasRefunded bool
}

// StateStore persists pools and positions in a key-value database, RLP
// encoded. It satisfies the engine's persistence boundary.
type StateStore struct {
	mu sync.Mutex
	db storage.Database
}

// NewStateStore wraps the given database.
func NewStateStore(db storage.Database) *StateStore {
	return &StateStore{db: db}
}

// PoolCount returns the number of pools ever appended.
func (s *StateStore) PoolCount() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count()
}

// AppendPool assigns the next sequential id, persists the pool and advances
// the counter. The assigned id is returned.
func (s *StateStore) AppendPool(pool *Pool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, err := s.count()
	if err != nil {
		return 0, err
	}
	pool.ID = count
	if err := s.writePool(pool); err != nil {
		return 0, err
	}
	encoded, err := rlp.EncodeToBytes(count + 1)
	if err != nil {
		return 0, err
	}
	if err := s.db.Put(poolCountKey, encoded); err != nil {
		return 0, err
	}
	return count, nil
}

// GetPool loads a pool by id, returning nil when it does not exist.
func (s *StateStore) GetPool(id uint64) (*Pool, error) {
	raw, err := s.db.Get(poolKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedPool
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	return stored.toPool(), nil
}

// PutPool overwrites the stored pool record.
func (s *StateStore) PutPool(pool *Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writePool(pool)
}

// GetLendPosition loads a lend-side position, nil when absent.
func (s *StateStore) GetLendPosition(poolID uint64, addr common.Address) (*LendPosition, error) {
	stored, err := s.getPosition(positionKey(lendRecordPrefix, poolID, addr))
	if err != nil || stored == nil {
		return nil, err
	}
	return &LendPosition{
		Address:     stored.Address,
		StakeAmount: stored.StakeAmount,
		HasClaimed:  stored.HasClaimed,
		HasRefunded: stored.HasRefunded,
	}, nil
}

// PutLendPosition persists a lend-side position.
func (s *StateStore) PutLendPosition(poolID uint64, pos *LendPosition) error {
	return s.putPosition(positionKey(lendRecordPrefix, poolID, pos.Address), storedPosition{
		Address:     pos.Address,
		StakeAmount: pos.StakeAmount,
		HasClaimed:  pos.HasClaimed,
		HasRefunded: pos.HasRefunded,
	})
}

// GetBorrowPosition loads a borrow-side position, nil when absent.
func (s *StateStore) GetBorrowPosition(poolID uint64, addr common.Address) (*BorrowPosition, error) {
	stored, err := s.getPosition(positionKey(borrowRecordPrefix, poolID, addr))
	if err != nil || stored == nil {
		return nil, err
	}
	return &BorrowPosition{
		Address:     stored.Address,
		StakeAmount: stored.StakeAmount,
		HasClaimed:  stored.HasClaimed,
		HasRefunded: stored.HasRefunded,
	}, nil
}

// PutBorrowPosition persists a borrow-side position.
func (s *StateStore) PutBorrowPosition(poolID uint64, pos *BorrowPosition) error {
	return s.putPosition(positionKey(borrowRecordPrefix, poolID, pos.Address), storedPosition{
		Address:     pos.Address,
		StakeAmount: pos.StakeAmount,
		HasClaimed:  pos.HasClaimed,
		HasRefunded: pos.HasRefunded,
	})
}

func (s *StateStore) count() (uint64, error) {
	raw, err := s.db.Get(poolCountKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	if err := rlp.DecodeBytes(raw, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *StateStore) writePool(pool *Pool) error {
	stored := storedPool{
		ID:                     pool.ID,
		SettleTime:             uint64(pool.Terms.SettleTime),
		EndTime:                uint64(pool.Terms.EndTime),
		InterestRate:           pool.Terms.InterestRate,
		MaxSupply:              pool.Terms.MaxSupply,
		MortgageRate:           pool.Terms.MortgageRate,
		AutoLiquidateThreshold: pool.Terms.AutoLiquidateThreshold,
		LendToken:              pool.Terms.LendToken,
		BorrowToken:            pool.Terms.BorrowToken,
		SpToken:                pool.Terms.SpToken,
		JpToken:                pool.Terms.JpToken,
		LendSupply:             pool.LendSupply,
		BorrowSupply:           pool.BorrowSupply,
		SettleAmountLend:       pool.SettleAmountLend,
		SettleAmountBorrow:     pool.SettleAmountBorrow,
		FinishAmountLend:       pool.FinishAmountLend,
		FinishAmountBorrow:     pool.FinishAmountBorrow,
		State:                  uint8(pool.State),
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return s.db.Put(poolKey(pool.ID), encoded)
}

func (s *StateStore) getPosition(key []byte) (*storedPosition, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *StateStore) putPosition(key []byte, stored storedPosition) error {
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

func poolKey(id uint64) []byte {
	key := make([]byte, len(poolRecordPrefix)+8)
	copy(key, poolRecordPrefix)
	binary.BigEndian.PutUint64(key[len(poolRecordPrefix):], id)
	return key
}

func positionKey(prefix []byte, poolID uint64, addr common.Address) []byte {
	key := make([]byte, len(prefix)+8+common.AddressLength)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], poolID)
	copy(key[len(prefix)+8:], addr.Bytes())
	return key
}
