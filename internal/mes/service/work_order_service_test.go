package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"gorm.io/gorm"
)

func setupWorkOrderTest(t *testing.T) (*gorm.DB, *WorkOrderService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := NewWorkOrderService(repos.WorkOrder, repos.Recipe, db)
	return db, svc
}

func TestWorkOrderLifecycle(t *testing.T) {
	db, svc := setupWorkOrderTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-WO", map[string]string{"BI-A": "2"})

	wo, err := svc.Create(ctx, CreateWorkOrderRequest{RecipeID: recipe.ID, Quota: "100"}, "u1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if wo.DocStatus != entity.WOStatusDraft {
		t.Errorf("status = %s, want draft", wo.DocStatus)
	}
	if wo.ProductCode != recipe.ProductCode {
		t.Errorf("product code = %s, want %s", wo.ProductCode, recipe.ProductCode)
	}

	if _, err := svc.Ready(ctx, wo.ID); err != nil {
		t.Fatalf("ready failed: %v", err)
	}

	exec, err := svc.Start(ctx, wo.ID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if exec.WorkOrderID != wo.ID || exec.Completed.Sign() != 0 {
		t.Errorf("execution = %+v, want fresh record for %s", exec, wo.ID)
	}

	fresh, _ := svc.Get(ctx, wo.ID)
	if fresh.DocStatus != entity.WOStatusStarted {
		t.Errorf("status = %s, want started", fresh.DocStatus)
	}

	// 重复开工拿到已有执行记录的ID
	_, err = svc.Start(ctx, wo.ID)
	var started *entity.WorkOrderAlreadyStartedError
	if !errors.As(err, &started) {
		t.Fatalf("expected WorkOrderAlreadyStartedError, got %v", err)
	}
	if started.ExecutionID != exec.ID {
		t.Errorf("error execution id = %s, want %s", started.ExecutionID, exec.ID)
	}

	closed, err := svc.Close(ctx, wo.ID)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.DocStatus != entity.WOStatusFinished {
		t.Errorf("status = %s, want finished", closed.DocStatus)
	}
	var freshExec entity.WorkOrderExecution
	db.Where("work_order_id = ?", wo.ID).First(&freshExec)
	if freshExec.FinishedAt == nil {
		t.Error("execution finished_at not set on close")
	}

	// 关单后不可再关
	if _, err := svc.Close(ctx, wo.ID); entity.KindOf(err) != entity.KindAlreadyDone {
		t.Errorf("double close kind = %v, want AlreadyDone", entity.KindOf(err))
	}
}

func TestStartRequiresReady(t *testing.T) {
	db, svc := setupWorkOrderTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-NR", map[string]string{"BI-A": "1"})
	wo, err := svc.Create(ctx, CreateWorkOrderRequest{RecipeID: recipe.ID, Quota: "10"}, "u1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = svc.Start(ctx, wo.ID)
	var notReady *entity.WorkOrderNotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected WorkOrderNotReadyError, got %v", err)
	}
	if notReady.Status != entity.WOStatusDraft {
		t.Errorf("error status = %s, want draft", notReady.Status)
	}
}

func TestStartAfterCloseRejected(t *testing.T) {
	db, svc := setupWorkOrderTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-REOPEN", map[string]string{"BI-A": "1"})
	wo, err := svc.Create(ctx, CreateWorkOrderRequest{RecipeID: recipe.ID, Quota: "10"}, "u1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Ready(ctx, wo.ID); err != nil {
		t.Fatalf("ready failed: %v", err)
	}
	if _, err := svc.Start(ctx, wo.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := svc.Close(ctx, wo.ID); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// 关单后不可重新开工，也不能被当成“已开工”
	_, err = svc.Start(ctx, wo.ID)
	var notReady *entity.WorkOrderNotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected WorkOrderNotReadyError, got %v", err)
	}
	if notReady.Status != entity.WOStatusFinished {
		t.Errorf("error status = %s, want finished", notReady.Status)
	}

	fresh, _ := svc.Get(ctx, wo.ID)
	if fresh.DocStatus != entity.WOStatusFinished {
		t.Errorf("status = %s, want finished untouched", fresh.DocStatus)
	}
}

func TestConcurrentStartSingleWinner(t *testing.T) {
	db, svc := setupWorkOrderTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-RACE", map[string]string{"BI-A": "1"})
	wo, err := svc.Create(ctx, CreateWorkOrderRequest{RecipeID: recipe.ID, Quota: "10"}, "u1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Ready(ctx, wo.ID); err != nil {
		t.Fatalf("ready failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = svc.Start(ctx, wo.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, e := range errs {
		if e == nil {
			succeeded++
			continue
		}
		var started *entity.WorkOrderAlreadyStartedError
		if !errors.As(e, &started) {
			t.Errorf("loser got unexpected error: %v", e)
		}
	}
	if succeeded != 1 {
		t.Fatalf("start succeeded %d times, want exactly 1", succeeded)
	}

	var count int64
	db.Model(&entity.WorkOrderExecution{}).Where("work_order_id = ?", wo.ID).Count(&count)
	if count != 1 {
		t.Errorf("execution rows = %d, want 1", count)
	}
}

func TestRecordProductionQuota(t *testing.T) {
	db, svc := setupWorkOrderTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-PROD", map[string]string{"BI-A": "1"})
	wo := testutil.SeedStartedWorkOrder(t, db, "WO-PROD", recipe.ID, "100")

	exec, err := svc.RecordProduction(ctx, wo.ID, mustDecimal(t, "60"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !exec.Completed.Equal(mustDecimal(t, "60")) {
		t.Errorf("completed = %s, want 60", exec.Completed)
	}

	// 60 + 50 超出计划产量100，整笔拒绝不做部分累计
	_, err = svc.RecordProduction(ctx, wo.ID, mustDecimal(t, "50"))
	var quotaErr *entity.WorkOrderQuotaExceedsError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected WorkOrderQuotaExceedsError, got %v", err)
	}
	if !quotaErr.Accumulated.Equal(mustDecimal(t, "60")) || !quotaErr.Current.Equal(mustDecimal(t, "50")) {
		t.Errorf("error payload acc %s cur %s, want 60/50", quotaErr.Accumulated, quotaErr.Current)
	}
	var freshExec entity.WorkOrderExecution
	db.Where("work_order_id = ?", wo.ID).First(&freshExec)
	if !freshExec.Completed.Equal(mustDecimal(t, "60")) {
		t.Errorf("completed after rejection = %s, want unchanged 60", freshExec.Completed)
	}

	// 正好到上限可报
	exec, err = svc.RecordProduction(ctx, wo.ID, mustDecimal(t, "40"))
	if err != nil {
		t.Fatalf("record to quota failed: %v", err)
	}
	if !exec.Completed.Equal(mustDecimal(t, "100")) {
		t.Errorf("completed = %s, want 100", exec.Completed)
	}
}

func TestRecordProductionStates(t *testing.T) {
	db, svc := setupWorkOrderTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-ST", map[string]string{"BI-A": "1"})
	wo, err := svc.Create(ctx, CreateWorkOrderRequest{RecipeID: recipe.ID, Quota: "10"}, "u1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// 未开工不可报产
	if _, err := svc.RecordProduction(ctx, wo.ID, mustDecimal(t, "1")); entity.KindOf(err) != entity.KindInvalidState {
		t.Errorf("draft record kind = %v, want InvalidState", entity.KindOf(err))
	}

	svc.Ready(ctx, wo.ID)
	svc.Start(ctx, wo.ID)
	svc.Close(ctx, wo.ID)

	// 关单后不可报产
	_, err = svc.RecordProduction(ctx, wo.ID, mustDecimal(t, "1"))
	var finished *entity.WorkOrderFinishedError
	if !errors.As(err, &finished) {
		t.Fatalf("expected WorkOrderFinishedError, got %v", err)
	}
}

func TestMaintainDocument(t *testing.T) {
	db, svc := setupWorkOrderTest(t)
	ctx := context.Background()

	recipe := testutil.SeedApprovedRecipe(t, db, "R-DOC", map[string]string{"BI-A": "1"})
	wo, err := svc.Create(ctx, CreateWorkOrderRequest{RecipeID: recipe.ID, Quota: "10"}, "u1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// 草稿期可改产量
	updated, err := svc.MaintainDocument(ctx, wo.ID, MaintainDocumentRequest{Quota: "20"})
	if err != nil {
		t.Fatalf("maintain failed: %v", err)
	}
	if !updated.Quota.Equal(mustDecimal(t, "20")) {
		t.Errorf("quota = %s, want 20", updated.Quota)
	}

	svc.Ready(ctx, wo.ID)
	svc.Start(ctx, wo.ID)

	// 开工后备注仍可改
	notes := "夜班加产"
	updated, err = svc.MaintainDocument(ctx, wo.ID, MaintainDocumentRequest{Notes: &notes})
	if err != nil {
		t.Fatalf("notes update failed: %v", err)
	}
	if updated.Notes != notes {
		t.Errorf("notes = %q, want %q", updated.Notes, notes)
	}

	// 开工后产量不可改
	_, err = svc.MaintainDocument(ctx, wo.ID, MaintainDocumentRequest{Quota: "30"})
	var docErr *entity.DocStatusError
	if !errors.As(err, &docErr) {
		t.Fatalf("expected DocStatusError, got %v", err)
	}
}
