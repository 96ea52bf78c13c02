package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
)

type fakeStore struct {
	jobs  map[string]*models.BatchImportJob
	media map[string]*models.MediaItem
	next  uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:  make(map[string]*models.BatchImportJob),
		media: make(map[string]*models.MediaItem),
		next:  1,
	}
}

func mediaKey(accountID uint, sourceRef, externalID string) string {
	return fmt.Sprintf("%d/%s/%s", accountID, sourceRef, externalID)
}

func (s *fakeStore) CreateJob(_ context.Context, job *models.BatchImportJob) error {
	job.ID = s.next
	s.next++
	s.jobs[job.UUID] = job
	return nil
}

func (s *fakeStore) GetJobByUUID(_ context.Context, uuid string) (*models.BatchImportJob, error) {
	job, ok := s.jobs[uuid]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *fakeStore) UpdateJob(_ context.Context, job *models.BatchImportJob) error {
	s.jobs[job.UUID] = job
	return nil
}

func (s *fakeStore) ListJobsByStatus(_ context.Context, status string, _ int) ([]models.BatchImportJob, error) {
	var out []models.BatchImportJob
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *fakeStore) CountImported(_ context.Context, accountID uint, sourceRef string, ids []string) (int, error) {
	count := 0
	for _, id := range ids {
		if _, ok := s.media[mediaKey(accountID, sourceRef, id)]; ok {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) FindMedia(_ context.Context, accountID uint, sourceRef, externalID string) (*models.MediaItem, error) {
	item, ok := s.media[mediaKey(accountID, sourceRef, externalID)]
	if !ok {
		return nil, nil
	}
	return item, nil
}

func (s *fakeStore) CreateMediaItem(_ context.Context, item *models.MediaItem) (bool, error) {
	key := mediaKey(item.AccountID, item.SourceRef, item.ExternalID)
	if _, ok := s.media[key]; ok {
		return false, nil
	}
	item.ID = s.next
	s.next++
	s.media[key] = item
	return true, nil
}

// fakeSource serves a fixed item list in pages.
type fakeSource struct {
	items []SourceItem
}

func (f *fakeSource) CountBillable(_ context.Context, _ string) (int, []SourceItem, error) {
	var billable []SourceItem
	for _, item := range f.items {
		if item.Billable() {
			billable = append(billable, item)
		}
	}
	return len(billable), billable, nil
}

func (f *fakeSource) FetchPage(_ context.Context, _, cursor string, limit int) (*SourcePage, error) {
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	end := start + limit
	if end > len(f.items) {
		end = len(f.items)
	}
	page := &SourcePage{Items: f.items[start:end]}
	if end < len(f.items) {
		page.NextCursor = fmt.Sprintf("%d", end)
		page.HasMore = true
	}
	return page, nil
}

type fakeQueue struct {
	pages    []string
	submits  []string
	failNext bool
}

func (q *fakeQueue) EnqueueBatchPage(jobUUID string) error {
	if q.failNext {
		q.failNext = false
		return errors.New("queue unavailable")
	}
	q.pages = append(q.pages, jobUUID)
	return nil
}

func (q *fakeQueue) EnqueuePipelineSubmit(mediaUUID string) error {
	q.submits = append(q.submits, mediaUUID)
	return nil
}

// memLedger tracks a single account balance with refund bookkeeping per job.
type memLedger struct {
	balance      int64
	refundsByJob map[uint]int64
	deductions   int64
	refunds      int64
}

func newMemLedger(balance int64) *memLedger {
	return &memLedger{balance: balance, refundsByJob: make(map[uint]int64)}
}

func (l *memLedger) Deduct(_ context.Context, _ uint, amount int64, _ ledger.TxnMeta) (ledger.DeductResult, error) {
	if l.balance < amount {
		return ledger.DeductResult{OK: false, Balance: l.balance}, nil
	}
	l.balance -= amount
	l.deductions += amount
	return ledger.DeductResult{OK: true, Balance: l.balance}, nil
}

func (l *memLedger) Add(_ context.Context, _ uint, amount int64, _ string, _ ledger.TxnMeta) (int64, error) {
	l.balance += amount
	return l.balance, nil
}

func (l *memLedger) Refund(_ context.Context, _ uint, amount int64, meta ledger.TxnMeta) (int64, error) {
	if amount <= 0 {
		return l.balance, nil
	}
	l.balance += amount
	l.refunds += amount
	if meta.BatchJobID != nil {
		l.refundsByJob[*meta.BatchJobID] += amount
	}
	return l.balance, nil
}

func (l *memLedger) CancellationReset(_ context.Context, _ uint, _ ledger.TxnMeta) (int64, error) {
	before := l.balance
	l.balance = 0
	return before, nil
}

func (l *memLedger) Balance(_ context.Context, _ uint) (int64, error) {
	return l.balance, nil
}

func (l *memLedger) History(_ context.Context, _ uint, _, _ int) ([]models.CreditTransaction, int64, error) {
	return nil, 0, nil
}

func (l *memLedger) RefundedForJob(_ context.Context, jobID uint) (int64, error) {
	return l.refundsByJob[jobID], nil
}

func sourceItems(n int) []SourceItem {
	items := make([]SourceItem, n)
	for i := range items {
		items[i] = SourceItem{
			ExternalID: fmt.Sprintf("vid_%d", i),
			URL:        fmt.Sprintf("https://source.example/v/%d", i),
			Title:      fmt.Sprintf("Video %d", i),
			Platform:   "youtube",
		}
	}
	return items
}

func setupController(balance int64, items []SourceItem) (*Controller, *fakeStore, *memLedger, *fakeQueue) {
	store := newFakeStore()
	led := newMemLedger(balance)
	queue := &fakeQueue{}
	return NewController(store, led, &fakeSource{items: items}, queue), store, led, queue
}

func TestStartBatchReservesExactly(t *testing.T) {
	ctrl, _, led, queue := setupController(20, sourceItems(10))

	job, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)
	assert.Equal(t, 10, job.TotalUnits)
	assert.Equal(t, int64(10), job.ReservedCredits)
	assert.Equal(t, models.BatchJobStatusPending, job.Status)
	assert.Equal(t, int64(10), led.balance)
	assert.Equal(t, []string{job.UUID}, queue.pages)
}

func TestStartBatchExcludesUnbillableItems(t *testing.T) {
	items := sourceItems(4)
	items = append(items, SourceItem{Title: "listing stub, no id"})
	ctrl, _, led, _ := setupController(10, items)

	job, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, 4, job.TotalUnits)
	assert.Equal(t, int64(6), led.balance)
}

func TestStartBatchInsufficientCreditsCreatesNothing(t *testing.T) {
	ctrl, store, led, _ := setupController(3, sourceItems(10))

	_, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.Error(t, err)

	var insufficient *InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(10), insufficient.Required)
	assert.Equal(t, int64(3), insufficient.Balance)
	assert.Equal(t, int64(7), insufficient.Shortfall())
	assert.Empty(t, store.jobs, "no job row on rejection")
	assert.Equal(t, int64(3), led.balance, "balance untouched")
}

func TestStartBatchOverPlanLimit(t *testing.T) {
	ctrl, _, led, _ := setupController(1000, sourceItems(150))

	_, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanFree)
	var tooLarge *BatchTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 150, tooLarge.Units)
	assert.Equal(t, 100, tooLarge.Limit)
	assert.Equal(t, int64(1000), led.balance)
}

func TestEnqueueFailureRefundsThenFails(t *testing.T) {
	ctrl, store, led, queue := setupController(10, sourceItems(10))
	queue.failNext = true

	_, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.Error(t, err)

	require.Len(t, store.jobs, 1)
	for _, job := range store.jobs {
		assert.Equal(t, models.BatchJobStatusFailed, job.Status)
	}
	assert.Equal(t, int64(10), led.balance, "net-zero after compensation")
	assert.Equal(t, int64(10), led.refunds)
}

func TestProcessPagesToCompletion(t *testing.T) {
	ctrl, store, led, queue := setupController(120, sourceItems(120))

	job, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)
	assert.Equal(t, int64(0), led.balance)

	// Drain the queue like the worker would.
	for len(queue.pages) > 0 {
		next := queue.pages[0]
		queue.pages = queue.pages[1:]
		require.NoError(t, ctrl.ProcessPage(context.Background(), next))
	}

	final := store.jobs[job.UUID]
	assert.Equal(t, models.BatchJobStatusCompleted, final.Status)
	assert.Equal(t, 120, final.ProcessedCount)
	assert.NotNil(t, final.CompletedAt)
	assert.Len(t, store.media, 120)
	assert.Len(t, queue.submits, 120)
	assert.Equal(t, int64(0), led.balance, "fully consumed reservation refunds nothing")
	assert.Equal(t, int64(0), led.refunds)
}

func TestResyncChargesOnlyDelta(t *testing.T) {
	items := sourceItems(10)
	ctrl, store, led, queue := setupController(50, items)

	job, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)
	for len(queue.pages) > 0 {
		next := queue.pages[0]
		queue.pages = queue.pages[1:]
		require.NoError(t, ctrl.ProcessPage(context.Background(), next))
	}
	require.Equal(t, models.BatchJobStatusCompleted, store.jobs[job.UUID].Status)
	require.Equal(t, int64(40), led.balance)

	// Source grows by 3; the re-sync bills 3, not 13.
	grown := append(sourceItems(10), SourceItem{ExternalID: "vid_new_1", URL: "https://source.example/v/n1"},
		SourceItem{ExternalID: "vid_new_2", URL: "https://source.example/v/n2"},
		SourceItem{ExternalID: "vid_new_3", URL: "https://source.example/v/n3"})
	ctrl2 := NewController(store, led, &fakeSource{items: grown}, queue)

	delta, err := ctrl2.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)
	assert.Equal(t, 3, delta.TotalUnits)
	assert.Equal(t, int64(3), delta.ReservedCredits)
	assert.NotEqual(t, job.UUID, delta.UUID, "delta gets a fresh job row")
	assert.Equal(t, int64(37), led.balance)

	for len(queue.pages) > 0 {
		next := queue.pages[0]
		queue.pages = queue.pages[1:]
		require.NoError(t, ctrl2.ProcessPage(context.Background(), next))
	}
	final := store.jobs[delta.UUID]
	assert.Equal(t, models.BatchJobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.ProcessedCount)
	assert.Len(t, store.media, 13)
	assert.Equal(t, int64(37), led.balance)
}

func TestResyncWithNoNewItemsIsNoOp(t *testing.T) {
	ctrl, store, led, queue := setupController(50, sourceItems(5))

	_, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)
	for len(queue.pages) > 0 {
		next := queue.pages[0]
		queue.pages = queue.pages[1:]
		require.NoError(t, ctrl.ProcessPage(context.Background(), next))
	}
	balanceAfter := led.balance

	_, err = ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	assert.ErrorIs(t, err, ErrNothingToImport)
	assert.Equal(t, balanceAfter, led.balance)
	assert.Len(t, store.jobs, 1)
}

func TestFailJobRefundsUnprocessedOnly(t *testing.T) {
	ctrl, store, led, queue := setupController(120, sourceItems(120))

	job, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)

	// Process just the first page (50 items), then fail the job.
	require.NotEmpty(t, queue.pages)
	require.NoError(t, ctrl.ProcessPage(context.Background(), queue.pages[0]))

	require.NoError(t, ctrl.FailJob(context.Background(), job.UUID, "pipeline rejected the source"))

	final := store.jobs[job.UUID]
	assert.Equal(t, models.BatchJobStatusFailed, final.Status)
	assert.Equal(t, "pipeline rejected the source", final.ErrorMsg)
	assert.Equal(t, 50, final.ProcessedCount)
	assert.Equal(t, int64(70), led.refundsByJob[final.ID], "reserved 120 - processed 50")
	assert.Equal(t, int64(70), led.balance)

	// Replayed failure refunds nothing more.
	require.NoError(t, ctrl.FailJob(context.Background(), job.UUID, "duplicate failure"))
	assert.Equal(t, int64(70), led.balance)
}

func TestResetRefundsDerivedOwed(t *testing.T) {
	ctrl, store, led, queue := setupController(120, sourceItems(120))

	job, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)
	require.NoError(t, ctrl.ProcessPage(context.Background(), queue.pages[0]))
	// The job is now mid-flight in processing with 50 of 120 done.

	reset, refunded, err := ctrl.ResetJob(context.Background(), job.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), refunded, "reserved 120 - processed 50")
	assert.Equal(t, models.BatchJobStatusPending, reset.Status)
	assert.Equal(t, 50, reset.ProcessedCount, "progress is preserved")
	assert.Equal(t, int64(70), led.balance)

	// A second reset derives owed from the log: 120 - 50 - 70 = 0.
	_, refunded, err = ctrl.ResetJob(context.Background(), job.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), refunded)
	assert.Equal(t, int64(70), led.balance, "replayed reset refunds nothing")
	final := store.jobs[job.UUID]
	assert.Equal(t, models.BatchJobStatusPending, final.Status)
}

func TestResetRejectsTerminalJobs(t *testing.T) {
	ctrl, _, _, queue := setupController(10, sourceItems(5))

	job, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)
	for len(queue.pages) > 0 {
		next := queue.pages[0]
		queue.pages = queue.pages[1:]
		require.NoError(t, ctrl.ProcessPage(context.Background(), next))
	}

	_, _, err = ctrl.ResetJob(context.Background(), job.UUID)
	assert.Error(t, err)
}

func TestReplayedPageCountsProgressOnce(t *testing.T) {
	ctrl, store, led, queue := setupController(120, sourceItems(120))

	job, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)
	require.NoError(t, ctrl.ProcessPage(context.Background(), queue.pages[0]))
	require.Equal(t, 50, store.jobs[job.UUID].ProcessedCount)

	// Simulate a crash before the job row was updated: rewind cursor and
	// progress and replay the same page. The items already exist and belong
	// to this job, so progress is rebuilt, not doubled.
	store.jobs[job.UUID].Cursor = ""
	store.jobs[job.UUID].ProcessedCount = 0
	require.NoError(t, ctrl.ProcessPage(context.Background(), job.UUID))

	assert.Equal(t, 50, store.jobs[job.UUID].ProcessedCount)
	assert.Len(t, store.media, 50)
	assert.Equal(t, int64(0), led.refunds)
}

func TestProcessPageOnTerminalJobIsDropped(t *testing.T) {
	ctrl, store, led, queue := setupController(10, sourceItems(5))

	job, err := ctrl.StartBatch(context.Background(), 1, "channel:abc", entitlements.PlanCreator)
	require.NoError(t, err)
	for len(queue.pages) > 0 {
		next := queue.pages[0]
		queue.pages = queue.pages[1:]
		require.NoError(t, ctrl.ProcessPage(context.Background(), next))
	}
	balanceAfter := led.balance

	// A straggler page job for the completed batch changes nothing.
	require.NoError(t, ctrl.ProcessPage(context.Background(), job.UUID))
	assert.Equal(t, balanceAfter, led.balance)
	assert.Equal(t, 5, store.jobs[job.UUID].ProcessedCount)
}
