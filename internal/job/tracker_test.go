package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/event"
	"github.com/ledgerline/reconcile/internal/models"
	"github.com/ledgerline/reconcile/internal/processor"
	"github.com/ledgerline/reconcile/internal/workflow"
)

const testOrg = "org-1"

// memJobStore is a mutex-guarded in-memory job store
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]models.ProcessingJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]models.ProcessingJob)}
}

func (s *memJobStore) Create(ctx context.Context, job *models.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *memJobStore) Update(ctx context.Context, job *models.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *memJobStore) GetByID(ctx context.Context, organizationID, id string) (*models.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.OrganizationID != organizationID {
		return nil, nil
	}
	out := job
	return &out, nil
}

func (s *memJobStore) List(ctx context.Context, organizationID string) ([]*models.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ProcessingJob
	for _, job := range s.jobs {
		if job.OrganizationID == organizationID {
			j := job
			out = append(out, &j)
		}
	}
	return out, nil
}

// memBlobs implements both the workflow object store and the blob reader
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return data, nil
}

// passthroughDef succeeds without touching processors or the ledger
func passthroughDef() *workflow.Definition {
	return &workflow.Definition{
		ID:   "passthrough",
		Name: "Passthrough",
		Steps: []workflow.Step{
			{ID: "upload", Type: workflow.StepTypeUpload, OnSuccess: "notify"},
			{ID: "notify", Type: workflow.StepTypeNotify},
		},
	}
}

// brokenDef always fails: validate runs with nothing extracted
func brokenDef() *workflow.Definition {
	return &workflow.Definition{
		ID:   "broken",
		Name: "Broken",
		Steps: []workflow.Step{
			{ID: "upload", Type: workflow.StepTypeUpload, OnSuccess: "validate"},
			{ID: "validate", Type: workflow.StepTypeValidate},
		},
	}
}

// salvageDef completes through the failure branch: validate fails with
// nothing extracted and routes to notify
func salvageDef() *workflow.Definition {
	return &workflow.Definition{
		ID:   "salvage",
		Name: "Salvage",
		Steps: []workflow.Step{
			{ID: "upload", Type: workflow.StepTypeUpload, OnSuccess: "validate"},
			{ID: "validate", Type: workflow.StepTypeValidate, OnFailure: "notify"},
			{ID: "notify", Type: workflow.StepTypeNotify},
		},
	}
}

func newTestTracker(t *testing.T, defs ...*workflow.Definition) (*Tracker, *memJobStore, *event.Bus, *memBlobs) {
	t.Helper()

	blobs := newMemBlobs()
	engine := workflow.NewEngine(processor.NewRegistry(), blobs, nil, nil, zap.NewNop())
	for _, def := range defs {
		require.NoError(t, engine.Register(def))
	}

	store := newMemJobStore()
	bus := event.NewBus(64, zap.NewNop())
	tracker := NewTracker(store, engine, bus, blobs, 2, time.Minute, zap.NewNop())
	return tracker, store, bus, blobs
}

func testDoc() processor.Document {
	return processor.Document{
		FileName: "invoice.pdf",
		MimeType: "application/pdf",
		Data:     []byte("pdf bytes"),
	}
}

// waitForTerminal blocks until the job reaches a terminal status over the bus
func waitForTerminal(t *testing.T, sub *event.Subscription, jobID string) *models.ProcessingJob {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-sub.C:
			job, ok := evt.Payload.(*models.ProcessingJob)
			if !ok || job.ID != jobID {
				continue
			}
			if evt.Type == event.TypeJobCompleted || evt.Type == event.TypeJobFailed {
				return job
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal job event")
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.JobStatus
		want     bool
	}{
		{models.JobStatusQueued, models.JobStatusUploading, true},
		{models.JobStatusQueued, models.JobStatusSaving, true}, // skipped stages are allowed
		{models.JobStatusUploading, models.JobStatusQueued, false},
		{models.JobStatusSaving, models.JobStatusCompleted, true},
		{models.JobStatusCompleted, models.JobStatusFailed, false},
		{models.JobStatusCompleted, models.JobStatusQueued, false},
		{models.JobStatusFailed, models.JobStatusQueued, true},
		{models.JobStatusFailed, models.JobStatusProcessing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	tracker, store, bus, blobs := newTestTracker(t, passthroughDef())

	sub := bus.Subscribe(testOrg)
	defer sub.Cancel()

	created, err := tracker.Submit(context.Background(), testOrg, testDoc(), "passthrough")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, created.Status)
	assert.Equal(t, int64(len("pdf bytes")), created.FileSize)

	final := waitForTerminal(t, sub, created.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.NotEmpty(t, final.FileKey)
	require.NotNil(t, final.Result)
	assert.Empty(t, final.Error)

	stored, err := store.GetByID(context.Background(), testOrg, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.CompletedAt)

	// The uploaded document is retained for retry.
	data, err := blobs.Get(context.Background(), final.FileKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf bytes"), data)
}

func TestSubmitReturnsDetachedJob(t *testing.T) {
	tracker, _, bus, _ := newTestTracker(t, passthroughDef())

	sub := bus.Subscribe(testOrg)
	defer sub.Cancel()

	created, err := tracker.Submit(context.Background(), testOrg, testDoc(), "passthrough")
	require.NoError(t, err)

	// Callers marshal the returned job while the worker runs; the returned
	// copy must stay frozen at submission state, with no concurrent writes.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if _, err := json.Marshal(created); err != nil {
					return
				}
			}
		}
	}()

	final := waitForTerminal(t, sub, created.ID)
	close(stop)
	wg.Wait()

	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, models.JobStatusQueued, created.Status)
	assert.Nil(t, created.StartedAt)
	assert.Empty(t, created.FileKey)
}

func TestCompletedViaFailureBranchKeepsStepError(t *testing.T) {
	tracker, _, bus, _ := newTestTracker(t, salvageDef())

	sub := bus.Subscribe(testOrg)
	defer sub.Cancel()

	created, err := tracker.Submit(context.Background(), testOrg, testDoc(), "salvage")
	require.NoError(t, err)

	final := waitForTerminal(t, sub, created.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Empty(t, final.Result.RecordID)
	assert.Equal(t, "validate", final.Result.FailedStep)
	assert.Contains(t, final.Result.StepError, "extracted")
}

func TestSubmitUnknownWorkflow(t *testing.T) {
	tracker, _, _, _ := newTestTracker(t, passthroughDef())

	_, err := tracker.Submit(context.Background(), testOrg, testDoc(), "missing")
	assert.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
}

func TestFailedJobCarriesError(t *testing.T) {
	tracker, _, bus, _ := newTestTracker(t, brokenDef())

	sub := bus.Subscribe(testOrg)
	defer sub.Cancel()

	created, err := tracker.Submit(context.Background(), testOrg, testDoc(), "broken")
	require.NoError(t, err)

	final := waitForTerminal(t, sub, created.ID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Contains(t, final.Error, "validate")
	assert.NotEmpty(t, final.FileKey) // upload succeeded before the failure
}

func TestRetryFailedJob(t *testing.T) {
	tracker, store, bus, _ := newTestTracker(t, brokenDef())

	sub := bus.Subscribe(testOrg)
	defer sub.Cancel()

	created, err := tracker.Submit(context.Background(), testOrg, testDoc(), "broken")
	require.NoError(t, err)
	waitForTerminal(t, sub, created.ID)

	retried, err := tracker.Retry(context.Background(), testOrg, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, retried.Status)
	assert.Empty(t, retried.Error)
	assert.Equal(t, 0, retried.Progress)

	final := waitForTerminal(t, sub, created.ID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, models.JobStatusQueued, retried.Status) // rerun does not touch the returned copy

	stored, err := store.GetByID(context.Background(), testOrg, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	tracker, _, bus, _ := newTestTracker(t, passthroughDef())

	sub := bus.Subscribe(testOrg)
	defer sub.Cancel()

	created, err := tracker.Submit(context.Background(), testOrg, testDoc(), "passthrough")
	require.NoError(t, err)
	waitForTerminal(t, sub, created.ID)

	_, err = tracker.Retry(context.Background(), testOrg, created.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestRetryUnknownJob(t *testing.T) {
	tracker, _, _, _ := newTestTracker(t, passthroughDef())

	_, err := tracker.Retry(context.Background(), testOrg, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetUnknownJob(t *testing.T) {
	tracker, _, _, _ := newTestTracker(t, passthroughDef())

	_, err := tracker.Get(context.Background(), testOrg, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
