package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupBatchTest(t *testing.T) (*gorm.DB, *BatchQueueService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	svc := NewBatchQueueService(repository.NewBatchQueueRepository(db), db)
	return db, svc
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", s, err)
	}
	return d
}

func consume(t *testing.T, db *gorm.DB, svc *BatchQueueService, bomItemCode, amount string) (ConsumeOutcome, error) {
	t.Helper()
	var outcome ConsumeOutcome
	err := db.Transaction(func(tx *gorm.DB) error {
		var consumeErr error
		outcome, consumeErr = svc.ConsumeInTx(tx, bomItemCode, mustDecimal(t, amount))
		return consumeErr
	})
	return outcome, err
}

func TestConsumeFollowsQueueOrder(t *testing.T) {
	db, svc := setupBatchTest(t)

	// B1优先级高先扣，扣完再扣B2
	testutil.SeedBatch(t, db, "BI-01", "B1", "5", 1)
	testutil.SeedBatch(t, db, "BI-01", "B2", "10", 2)

	outcome, err := consume(t, db, svc, "BI-01", "8")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if outcome.Shortfall.Sign() != 0 {
		t.Fatalf("expected no shortfall, got %s", outcome.Shortfall)
	}
	if len(outcome.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(outcome.Allocations))
	}
	if outcome.Allocations[0].BatchCode != "B1" || !outcome.Allocations[0].Amount.Equal(mustDecimal(t, "5")) {
		t.Errorf("first allocation = %s %s, want B1 5",
			outcome.Allocations[0].BatchCode, outcome.Allocations[0].Amount)
	}
	if outcome.Allocations[1].BatchCode != "B2" || !outcome.Allocations[1].Amount.Equal(mustDecimal(t, "3")) {
		t.Errorf("second allocation = %s %s, want B2 3",
			outcome.Allocations[1].BatchCode, outcome.Allocations[1].Amount)
	}

	// 余量检查：B1耗尽，B2剩7
	var b1, b2 entity.MaterialBatchQueueItem
	db.Where("batch_code = ?", "B1").First(&b1)
	db.Where("batch_code = ?", "B2").First(&b2)
	if b1.RemainingAmount.Sign() != 0 {
		t.Errorf("B1 remaining = %s, want 0", b1.RemainingAmount)
	}
	if !b2.RemainingAmount.Equal(mustDecimal(t, "7")) {
		t.Errorf("B2 remaining = %s, want 7", b2.RemainingAmount)
	}
}

func TestConsumeSamePriorityFIFO(t *testing.T) {
	db, svc := setupBatchTest(t)

	early := testutil.SeedBatch(t, db, "BI-02", "OLD", "3", 0)
	late := testutil.SeedBatch(t, db, "BI-02", "NEW", "3", 0)
	// 显式拉开上线时间，避免时间戳同刻
	db.Model(early).Update("created_at", time.Now().Add(-time.Hour))
	db.Model(late).Update("created_at", time.Now())

	outcome, err := consume(t, db, svc, "BI-02", "4")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(outcome.Allocations) != 2 || outcome.Allocations[0].BatchCode != "OLD" {
		t.Fatalf("expected OLD batch drawn first, got %+v", outcome.Allocations)
	}
}

func TestConsumeShortfall(t *testing.T) {
	db, svc := setupBatchTest(t)

	testutil.SeedBatch(t, db, "BI-03", "B1", "4", 0)

	outcome, err := consume(t, db, svc, "BI-03", "10")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if !outcome.Shortfall.Equal(mustDecimal(t, "6")) {
		t.Errorf("shortfall = %s, want 6", outcome.Shortfall)
	}
	if len(outcome.Allocations) != 1 || !outcome.Allocations[0].Amount.Equal(mustDecimal(t, "4")) {
		t.Errorf("allocations = %+v, want single draw of 4", outcome.Allocations)
	}
}

func TestConsumeUnknownItemCode(t *testing.T) {
	db, svc := setupBatchTest(t)

	outcome, err := consume(t, db, svc, "NO-SUCH-ITEM", "5")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(outcome.Allocations) != 0 {
		t.Errorf("expected no allocations, got %+v", outcome.Allocations)
	}
	if !outcome.Shortfall.Equal(mustDecimal(t, "5")) {
		t.Errorf("shortfall = %s, want full amount 5", outcome.Shortfall)
	}
}

func TestConsumeSkipsRemovedBatches(t *testing.T) {
	db, svc := setupBatchTest(t)
	ctx := context.Background()

	testutil.SeedBatch(t, db, "BI-04", "GONE", "10", 0)
	testutil.SeedBatch(t, db, "BI-04", "LIVE", "10", 1)
	if err := svc.Remove(ctx, "GONE"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	outcome, err := consume(t, db, svc, "BI-04", "6")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(outcome.Allocations) != 1 || outcome.Allocations[0].BatchCode != "LIVE" {
		t.Fatalf("expected draw from LIVE only, got %+v", outcome.Allocations)
	}
}

func TestLoadDuplicateBatch(t *testing.T) {
	db, svc := setupBatchTest(t)
	ctx := context.Background()

	req := LoadBatchRequest{BomItemCode: "BI-05", BatchCode: "DUP", Amount: "10"}
	if _, err := svc.Load(ctx, req, "u1"); err != nil {
		t.Fatalf("first load failed: %v", err)
	}

	_, err := svc.Load(ctx, req, "u1")
	var dupErr *entity.BatchAlreadyExistsError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected BatchAlreadyExistsError, got %v", err)
	}
	if entity.KindOf(err) != entity.KindAlreadyDone {
		t.Errorf("kind = %v, want AlreadyDone", entity.KindOf(err))
	}

	// 下线后同批次号可重新上线
	if err := svc.Remove(ctx, "DUP"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := svc.Load(ctx, req, "u1"); err != nil {
		t.Fatalf("reload after remove failed: %v", err)
	}

	var count int64
	db.Model(&entity.MaterialBatchQueueItem{}).Where("batch_code = ?", "DUP").Count(&count)
	if count != 2 {
		t.Errorf("expected 2 rows (soft-deleted kept), got %d", count)
	}
}

func TestConcurrentLoadSingleWinner(t *testing.T) {
	db, svc := setupBatchTest(t)
	ctx := context.Background()

	// 并发上线同一批次，预检都可能通过，唯一索引保证只落一行
	const workers = 6
	req := LoadBatchRequest{BomItemCode: "BI-RACE", BatchCode: "RACE", Amount: "10"}
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = svc.Load(ctx, req, "u1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, e := range errs {
		if e == nil {
			succeeded++
			continue
		}
		var dupErr *entity.BatchAlreadyExistsError
		if !errors.As(e, &dupErr) {
			t.Errorf("loser got unexpected error: %v", e)
		}
	}
	if succeeded != 1 {
		t.Fatalf("load succeeded %d times, want exactly 1", succeeded)
	}

	var count int64
	db.Model(&entity.MaterialBatchQueueItem{}).Where("batch_code = ?", "RACE").Count(&count)
	if count != 1 {
		t.Errorf("batch rows = %d, want 1", count)
	}
}

func TestRemoveAlreadyRemoved(t *testing.T) {
	db, svc := setupBatchTest(t)
	ctx := context.Background()

	testutil.SeedBatch(t, db, "BI-06", "ONCE", "5", 0)
	if err := svc.Remove(ctx, "ONCE"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	err := svc.Remove(ctx, "ONCE")
	var removedErr *entity.BatchAlreadyRemovedError
	if !errors.As(err, &removedErr) {
		t.Fatalf("expected BatchAlreadyRemovedError, got %v", err)
	}

	if err := svc.Remove(ctx, "NEVER-LOADED"); entity.KindOf(err) != entity.KindNotFound {
		t.Errorf("remove unknown batch kind = %v, want NotFound", entity.KindOf(err))
	}
}

func TestReleaseCappedAtTotal(t *testing.T) {
	db, svc := setupBatchTest(t)
	ctx := context.Background()

	testutil.SeedBatch(t, db, "BI-07", "CAP", "10", 0)
	if _, err := consume(t, db, svc, "BI-07", "4"); err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	// 回补超过已扣数量，余量封顶为总量
	if err := svc.Release(ctx, "CAP", mustDecimal(t, "100")); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	var batch entity.MaterialBatchQueueItem
	db.Where("batch_code = ?", "CAP").First(&batch)
	if !batch.RemainingAmount.Equal(mustDecimal(t, "10")) {
		t.Errorf("remaining = %s, want capped at 10", batch.RemainingAmount)
	}
}

func TestReleaseIgnoresRemovedRows(t *testing.T) {
	db, svc := setupBatchTest(t)
	ctx := context.Background()

	// 同批次号下线后重新上线，回补只作用于在线行
	testutil.SeedBatch(t, db, "BI-09", "RB", "10", 0)
	if err := svc.Remove(ctx, "RB"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	reloaded, err := svc.Load(ctx, LoadBatchRequest{BomItemCode: "BI-09", BatchCode: "RB", Amount: "5"}, "u1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, err := consume(t, db, svc, "BI-09", "2"); err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	if err := svc.Release(ctx, "RB", mustDecimal(t, "1")); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	var active, removed entity.MaterialBatchQueueItem
	db.Where("id = ?", reloaded.ID).First(&active)
	db.Where("batch_code = ? AND is_deleted = true", "RB").First(&removed)
	if !active.RemainingAmount.Equal(mustDecimal(t, "4")) {
		t.Errorf("active remaining = %s, want 4", active.RemainingAmount)
	}
	if !removed.RemainingAmount.Equal(mustDecimal(t, "10")) {
		t.Errorf("removed remaining = %s, want untouched 10", removed.RemainingAmount)
	}

	// 只剩已下线行时回补报未找到
	if err := svc.Remove(ctx, "RB"); err != nil {
		t.Fatalf("second remove failed: %v", err)
	}
	err = svc.Release(ctx, "RB", mustDecimal(t, "1"))
	var notFound *entity.BatchNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected BatchNotFoundError, got %v", err)
	}
}

func TestRemainingTotal(t *testing.T) {
	db, svc := setupBatchTest(t)
	ctx := context.Background()

	testutil.SeedBatch(t, db, "BI-10", "S1", "5", 0)
	testutil.SeedBatch(t, db, "BI-10", "S2", "7", 1)
	testutil.SeedBatch(t, db, "BI-10", "OUT", "100", 2)
	if err := svc.Remove(ctx, "OUT"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	total, err := svc.RemainingTotal(ctx, "BI-10")
	if err != nil {
		t.Fatalf("remaining total failed: %v", err)
	}
	if !mustDecimal(t, total).Equal(mustDecimal(t, "12")) {
		t.Errorf("remaining total = %s, want 12", total)
	}
}

func TestImportCSV(t *testing.T) {
	db, svc := setupBatchTest(t)
	ctx := context.Background()

	csv := "bom_item_code,batch_code,amount,priority\n" +
		"BI-08,C1,10,1\n" +
		"BI-08,C2,5,2\n" +
		"BI-08,C1,3,0\n" + // 重复批次号，应失败
		",MISSING,1\n"
	result, err := svc.ImportCSV(ctx, strings.NewReader(csv), "u1")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Created != 2 {
		t.Errorf("created = %d, want 2", result.Created)
	}
	if result.Failed != 2 {
		t.Errorf("failed = %d, want 2", result.Failed)
	}

	var count int64
	db.Model(&entity.MaterialBatchQueueItem{}).Where("bom_item_code = ?", "BI-08").Count(&count)
	if count != 2 {
		t.Errorf("expected 2 batches loaded, got %d", count)
	}
}
