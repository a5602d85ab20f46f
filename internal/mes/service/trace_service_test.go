package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"gorm.io/gorm"
)

func setupTraceTest(t *testing.T) (*gorm.DB, *TraceService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	batchSvc := NewBatchQueueService(repos.Batch, db)
	svc := NewTraceService(repos.Trace, repos.WorkOrder, repos.Recipe, batchSvc, db)
	return db, svc
}

// seedTraceFixture 配方(BI-A上限10) + 开工工单 + 过站记录 + 批次
func seedTraceFixture(t *testing.T, db *gorm.DB, svc *TraceService) *entity.TraceInfo {
	t.Helper()
	ctx := context.Background()
	recipe := testutil.SeedApprovedRecipe(t, db, "R-TRACE", map[string]string{"BI-A": "10"})
	wo := testutil.SeedStartedWorkOrder(t, db, "WO-TRACE", recipe.ID, "100")
	testutil.SeedBatch(t, db, "BI-A", "B1", "50", 0)

	trace, err := svc.CreateTrace(ctx, wo.ID, "SN-0001")
	if err != nil {
		t.Fatalf("create trace failed: %v", err)
	}
	return trace
}

func TestCreateTraceRequiresStartedOrder(t *testing.T) {
	db, svc := setupTraceTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-DRAFT", map[string]string{"BI-A": "1"})
	wo := testutil.SeedStartedWorkOrder(t, db, "WO-DRAFT", recipe.ID, "10")
	db.Model(&entity.WorkOrder{}).Where("id = ?", wo.ID).Update("doc_status", entity.WOStatusReady)

	_, err := svc.CreateTrace(ctx, wo.ID, "SN-X")
	var notReady *entity.WorkOrderNotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected WorkOrderNotReadyError, got %v", err)
	}
}

func TestAddBomItemQuota(t *testing.T) {
	db, svc := setupTraceTest(t)
	ctx := context.Background()
	trace := seedTraceFixture(t, db, svc)

	// 6 + 4 = 10 正好到上限
	if _, err := svc.AddBomItem(ctx, trace.ID, "BI-A", mustDecimal(t, "6")); err != nil {
		t.Fatalf("first draw failed: %v", err)
	}
	item, err := svc.AddBomItem(ctx, trace.ID, "BI-A", mustDecimal(t, "4"))
	if err != nil {
		t.Fatalf("second draw failed: %v", err)
	}
	if !item.Consumption.Equal(mustDecimal(t, "10")) {
		t.Errorf("consumption = %s, want 10", item.Consumption)
	}

	// 再扣1超上限，拒绝
	_, err = svc.AddBomItem(ctx, trace.ID, "BI-A", mustDecimal(t, "1"))
	var quotaErr *entity.BomItemExceedsQuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected BomItemExceedsQuotaError, got %v", err)
	}
	if !quotaErr.Quota.Equal(mustDecimal(t, "10")) ||
		!quotaErr.Accumulation.Equal(mustDecimal(t, "10")) ||
		!quotaErr.Addition.Equal(mustDecimal(t, "1")) {
		t.Errorf("error payload = quota %s acc %s add %s, want 10/10/1",
			quotaErr.Quota, quotaErr.Accumulation, quotaErr.Addition)
	}
	if entity.KindOf(err) != entity.KindQuotaExceeded {
		t.Errorf("kind = %v, want QuotaExceeded", entity.KindOf(err))
	}

	// 被拒绝的扣料不触碰批次余量
	var batch entity.MaterialBatchQueueItem
	db.Where("batch_code = ?", "B1").First(&batch)
	if !batch.RemainingAmount.Equal(mustDecimal(t, "40")) {
		t.Errorf("batch remaining = %s, want 40", batch.RemainingAmount)
	}
}

func TestAddBomItemUnknownItem(t *testing.T) {
	db, svc := setupTraceTest(t)
	ctx := context.Background()
	trace := seedTraceFixture(t, db, svc)

	_, err := svc.AddBomItem(ctx, trace.ID, "NOT-IN-RECIPE", mustDecimal(t, "1"))
	var notFound *entity.BomItemNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected BomItemNotFoundError, got %v", err)
	}
}

func TestAddBomItemShortfallRollsBack(t *testing.T) {
	db, svc := setupTraceTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-SHORT", map[string]string{"BI-S": "100"})
	wo := testutil.SeedStartedWorkOrder(t, db, "WO-SHORT", recipe.ID, "100")
	testutil.SeedBatch(t, db, "BI-S", "TINY", "3", 0)
	trace, err := svc.CreateTrace(ctx, wo.ID, "SN-S")
	if err != nil {
		t.Fatalf("create trace failed: %v", err)
	}

	// 余量3不够扣5，整体失败且批次余量不变
	if _, err := svc.AddBomItem(ctx, trace.ID, "BI-S", mustDecimal(t, "5")); err == nil {
		t.Fatal("expected shortfall error")
	}
	var batch entity.MaterialBatchQueueItem
	db.Where("batch_code = ?", "TINY").First(&batch)
	if !batch.RemainingAmount.Equal(mustDecimal(t, "3")) {
		t.Errorf("batch remaining = %s, want untouched 3", batch.RemainingAmount)
	}
	var count int64
	db.Model(&entity.TraceBomItem{}).Where("trace_info_id = ?", trace.ID).Count(&count)
	if count != 0 {
		t.Errorf("expected no consumption rows after rollback, got %d", count)
	}
}

func TestAddBomItemRecordsBatchCodes(t *testing.T) {
	db, svc := setupTraceTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-MULTI", map[string]string{"BI-M": "20"})
	wo := testutil.SeedStartedWorkOrder(t, db, "WO-MULTI", recipe.ID, "100")
	testutil.SeedBatch(t, db, "BI-M", "M1", "4", 1)
	testutil.SeedBatch(t, db, "BI-M", "M2", "10", 2)
	trace, err := svc.CreateTrace(ctx, wo.ID, "SN-M")
	if err != nil {
		t.Fatalf("create trace failed: %v", err)
	}

	item, err := svc.AddBomItem(ctx, trace.ID, "BI-M", mustDecimal(t, "6"))
	if err != nil {
		t.Fatalf("draw failed: %v", err)
	}
	if item.BatchCodes != "M1,M2" {
		t.Errorf("batch codes = %q, want M1,M2", item.BatchCodes)
	}
}

func TestAddBomItemBumpsVersion(t *testing.T) {
	db, svc := setupTraceTest(t)
	ctx := context.Background()
	trace := seedTraceFixture(t, db, svc)

	if _, err := svc.AddBomItem(ctx, trace.ID, "BI-A", mustDecimal(t, "1")); err != nil {
		t.Fatalf("draw failed: %v", err)
	}
	if _, err := svc.AddProcItem(ctx, trace.ID, "ST-01", "torque", "1.2"); err != nil {
		t.Fatalf("proc item failed: %v", err)
	}

	var fresh entity.TraceInfo
	db.First(&fresh, "id = ?", trace.ID)
	if fresh.Version != 2 {
		t.Errorf("version = %d, want 2 after two mutations", fresh.Version)
	}
}

func TestProcItemDedup(t *testing.T) {
	db, svc := setupTraceTest(t)
	ctx := context.Background()
	trace := seedTraceFixture(t, db, svc)

	first, err := svc.AddProcItem(ctx, trace.ID, "ST-01", "torque", "1.2")
	if err != nil {
		t.Fatalf("add proc item failed: %v", err)
	}

	// 同(station, key)重复写入拒绝
	_, err = svc.AddProcItem(ctx, trace.ID, "ST-01", "torque", "1.3")
	var dupErr *entity.ProcItemAlreadyExistsError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected ProcItemAlreadyExistsError, got %v", err)
	}
	if dupErr.Station != "ST-01" || dupErr.Key != "torque" {
		t.Errorf("error payload = %s/%s, want ST-01/torque", dupErr.Station, dupErr.Key)
	}

	// 不同key不受影响
	if _, err := svc.AddProcItem(ctx, trace.ID, "ST-01", "voltage", "3.3"); err != nil {
		t.Fatalf("different key rejected: %v", err)
	}

	// 删除后同槽位可重新写入
	if err := svc.DeleteProcItem(ctx, trace.ID, first.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := svc.AddProcItem(ctx, trace.ID, "ST-01", "torque", "1.4"); err != nil {
		t.Fatalf("re-add after delete failed: %v", err)
	}

	// 重复删除报已删除
	err = svc.DeleteProcItem(ctx, trace.ID, first.ID)
	var delErr *entity.ProcItemAlreadyDeletedError
	if !errors.As(err, &delErr) {
		t.Fatalf("expected ProcItemAlreadyDeletedError, got %v", err)
	}
}

func TestBindPinAtMostOnce(t *testing.T) {
	db, svc := setupTraceTest(t)
	ctx := context.Background()
	trace := seedTraceFixture(t, db, svc)

	if err := svc.BindPin(ctx, trace.ID, "PIN-001"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	err := svc.BindPin(ctx, trace.ID, "PIN-002")
	var boundErr *entity.PinAlreadyBoundError
	if !errors.As(err, &boundErr) {
		t.Fatalf("expected PinAlreadyBoundError, got %v", err)
	}

	// 原绑定不被覆盖
	var fresh entity.TraceInfo
	db.First(&fresh, "id = ?", trace.ID)
	if fresh.Pin == nil || *fresh.Pin != "PIN-001" {
		t.Errorf("pin = %v, want PIN-001 preserved", fresh.Pin)
	}
}

func TestForceStatus(t *testing.T) {
	db, svc := setupTraceTest(t)
	ctx := context.Background()
	trace := seedTraceFixture(t, db, svc)

	// 按ID覆盖
	updated, err := svc.ForceStatus(ctx, ForceStatusCondition{TraceID: trace.ID}, entity.TraceStatusFailed)
	if err != nil {
		t.Fatalf("force by id failed: %v", err)
	}
	if updated.Status != entity.TraceStatusFailed {
		t.Errorf("status = %s, want failed", updated.Status)
	}

	// 按PIN覆盖
	if err := svc.BindPin(ctx, trace.ID, "PIN-F"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	updated, err = svc.ForceStatus(ctx, ForceStatusCondition{Pin: "PIN-F"}, entity.TraceStatusPassed)
	if err != nil {
		t.Fatalf("force by pin failed: %v", err)
	}
	if updated.Status != entity.TraceStatusPassed {
		t.Errorf("status = %s, want passed", updated.Status)
	}

	// 未知PIN，报错只带查找用的PIN
	_, err = svc.ForceStatus(ctx, ForceStatusCondition{Pin: "NO-PIN"}, entity.TraceStatusPassed)
	var notFound *entity.TraceInfoNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected TraceInfoNotFoundError, got %v", err)
	}
	if notFound.TraceID != "NO-PIN" {
		t.Errorf("error ident = %q, want NO-PIN", notFound.TraceID)
	}
}
