package pledge

import (
	"math/big"
	"testing"

	"pledgepool/storage"
)

func TestStateStorePoolRoundTrip(t *testing.T) {
	store := NewStateStore(storage.NewMemDB())

	count, err := store.PoolCount()
	if err != nil {
		t.Fatalf("pool count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty store, got %d pools", count)
	}
	missing, err := store.GetPool(0)
	if err != nil {
		t.Fatalf("get missing pool: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing pool, got %+v", missing)
	}

	pool := &Pool{
		Terms:              defaultTerms(),
		LendSupply:         e18(1000),
		BorrowSupply:       e18(500),
		SettleAmountLend:   e18(250),
		SettleAmountBorrow: e18(500),
		FinishAmountLend:   big.NewInt(0),
		FinishAmountBorrow: big.NewInt(0),
		State:              PoolExecuting,
	}
	id, err := store.AppendPool(pool)
	if err != nil {
		t.Fatalf("append pool: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected id 0, got %d", id)
	}
	if count, err = store.PoolCount(); err != nil || count != 1 {
		t.Fatalf("expected count 1, got %d (err %v)", count, err)
	}

	loaded, err := store.GetPool(id)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected stored pool")
	}
	if loaded.State != PoolExecuting {
		t.Fatalf("expected executing state, got %s", loaded.State)
	}
	if loaded.Terms.SettleTime != pool.Terms.SettleTime || loaded.Terms.EndTime != pool.Terms.EndTime {
		t.Fatalf("term times not preserved: %+v", loaded.Terms)
	}
	if loaded.Terms.MortgageRate.Cmp(pool.Terms.MortgageRate) != 0 {
		t.Fatalf("mortgage rate not preserved: %s", loaded.Terms.MortgageRate)
	}
	if loaded.Terms.LendToken != lendTokenAddr || loaded.Terms.JpToken != jpTokenAddr {
		t.Fatalf("token addresses not preserved: %+v", loaded.Terms)
	}
	if loaded.SettleAmountLend.Cmp(e18(250)) != 0 {
		t.Fatalf("settle amount not preserved: %s", loaded.SettleAmountLend)
	}

	loaded.State = PoolFinished
	loaded.FinishAmountLend = e18(250)
	if err := store.PutPool(loaded); err != nil {
		t.Fatalf("put pool: %v", err)
	}
	again, err := store.GetPool(id)
	if err != nil {
		t.Fatalf("get updated pool: %v", err)
	}
	if again.State != PoolFinished || again.FinishAmountLend.Cmp(e18(250)) != 0 {
		t.Fatalf("update not persisted: state %s amount %s", again.State, again.FinishAmountLend)
	}
}

func TestStateStoreAssignsSequentialIDs(t *testing.T) {
	store := NewStateStore(storage.NewMemDB())
	for want := uint64(0); want < 3; want++ {
		id, err := store.AppendPool(&Pool{Terms: defaultTerms(), State: PoolMatching})
		if err != nil {
			t.Fatalf("append pool: %v", err)
		}
		if id != want {
			t.Fatalf("expected id %d, got %d", want, id)
		}
	}
}

func TestStateStorePositionRoundTrip(t *testing.T) {
	store := NewStateStore(storage.NewMemDB())

	missing, err := store.GetLendPosition(0, lenderAddr)
	if err != nil {
		t.Fatalf("get missing position: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing position")
	}

	lend := &LendPosition{Address: lenderAddr, StakeAmount: e18(1000), HasClaimed: true}
	if err := store.PutLendPosition(7, lend); err != nil {
		t.Fatalf("put lend position: %v", err)
	}
	loaded, err := store.GetLendPosition(7, lenderAddr)
	if err != nil {
		t.Fatalf("get lend position: %v", err)
	}
	if loaded.Address != lenderAddr || loaded.StakeAmount.Cmp(e18(1000)) != 0 || !loaded.HasClaimed || loaded.HasRefunded {
		t.Fatalf("lend position not preserved: %+v", loaded)
	}

	// Same pool id, other side: records must not collide.
	if pos, err := store.GetBorrowPosition(7, lenderAddr); err != nil || pos != nil {
		t.Fatalf("expected no borrow record, got %+v (err %v)", pos, err)
	}
	borrow := &BorrowPosition{Address: borrowerAddr, StakeAmount: e18(500), HasRefunded: true}
	if err := store.PutBorrowPosition(7, borrow); err != nil {
		t.Fatalf("put borrow position: %v", err)
	}
	loadedBorrow, err := store.GetBorrowPosition(7, borrowerAddr)
	if err != nil {
		t.Fatalf("get borrow position: %v", err)
	}
	if loadedBorrow.StakeAmount.Cmp(e18(500)) != 0 || loadedBorrow.HasClaimed || !loadedBorrow.HasRefunded {
		t.Fatalf("borrow position not preserved: %+v", loadedBorrow)
	}
}
