package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/cache"
	"github.com/yungbote/phenoscope-backend/internal/cohort"
	"github.com/yungbote/phenoscope-backend/internal/engine"
	"github.com/yungbote/phenoscope-backend/internal/expr"
	"github.com/yungbote/phenoscope-backend/internal/jobs"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/repos"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

type memReader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memReader) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, cohort.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memReader) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func testReference(cohortID string) *types.CohortReference {
	basis := mat.NewDense(4, 2, []float64{
		1, 0,
		0, 1,
		0, 0,
		0, 0,
	})
	fields := []types.CohortField{
		{Code: "diagnosis_A", Name: "Diagnosis A", Type: types.FieldTypeBool, Values: []float64{1, 0, 1, 0}},
		{Code: "age", Name: "Age", Type: types.FieldTypeReal, Values: []float64{61, 42, 58, 39}},
	}
	variants := []types.Variant{
		{ID: "rs1", Chrom: "1", Pos: 1000, Loadings: []float64{0.9, 0.1}, DosageVariance: 0.5},
		{ID: "rs2", Chrom: "2", Pos: 2000, Loadings: []float64{0.2, 0.7}, DosageVariance: 0.3},
	}
	return types.NewCohortReference(cohortID, 4, 2, fields, basis, variants)
}

type fixture struct {
	svc     AssocService
	eng     *engine.Engine
	results *cache.ResultCache
	cancel  context.CancelFunc
}

func newFixture(tb testing.TB) *fixture {
	tb.Helper()
	log, err := logger.New("test")
	if err != nil {
		tb.Fatalf("logger: %v", err)
	}

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.AssocJob{}); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	repo := repos.NewAssocJobRepo(db, log)

	reader := &memReader{objects: map[string][]byte{}}
	var buf bytes.Buffer
	if err := cohort.EncodeBundle(&buf, testReference("ukb")); err != nil {
		tb.Fatalf("EncodeBundle: %v", err)
	}
	reader.objects["cohorts/ukb.bundle.json.gz"] = buf.Bytes()

	store := cohort.NewStore(log, reader, cohort.StoreConfig{
		Prefix:   "cohorts",
		Capacity: 4,
		Retries:  2,
		Backoff:  time.Millisecond,
	})

	eng := engine.New(log)
	results := cache.New(log, 16)
	svc := NewAssocService(log, store, eng, results, repo, jobs.NoopNotifier{}, 8, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx, 2)
	tb.Cleanup(cancel)

	return &fixture{svc: svc, eng: eng, results: results, cancel: cancel}
}

func awaitTerminal(tb testing.TB, svc AssocService, id uuid.UUID) *types.AssocJob {
	tb.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.GetJob(context.Background(), id)
		if err != nil {
			tb.Fatalf("GetJob: %v", err)
		}
		if types.TerminalStatus(job.Status) {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("job %s never reached a terminal status", id)
	return nil
}

func TestSubmitValidatesSynchronously(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		cohortID   string
		definition string
		kind       apperr.Kind
	}{
		{"parse error", "ukb", "age >", apperr.KindParseError},
		{"unknown field", "ukb", "bmi > 30", apperr.KindUnknownField},
		{"type mismatch", "ukb", "age AND diagnosis_A", apperr.KindTypeMismatch},
		{"unknown cohort", "nope", "age > 50", apperr.KindCohortNotFound},
	}
	for _, tc := range cases {
		_, err := f.svc.Submit(ctx, tc.cohortID, tc.definition)
		if !apperr.IsKind(err, tc.kind) {
			t.Errorf("%s: got %v, want kind %s", tc.name, err, tc.kind)
		}
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, "ukb", "diagnosis_A AND age > 50")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != types.JobStatusQueued || job.Fingerprint == "" {
		t.Fatalf("unexpected submitted job: %+v", job)
	}

	done := awaitTerminal(t, f.svc, job.ID)
	if done.Status != types.JobStatusSucceeded {
		t.Fatalf("status = %q (%s: %s)", done.Status, done.ErrorKind, done.Error)
	}

	var result types.ApproximationResult
	if err := json.Unmarshal(done.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.CohortID != "ukb" || result.SampleCount != 4 {
		t.Fatalf("unexpected result header: %+v", result)
	}
	if len(result.Associations) != 2 {
		t.Fatalf("got %d associations, want 2", len(result.Associations))
	}
	for _, a := range result.Associations {
		if a.Undefined {
			t.Fatalf("variant %s unexpectedly undefined", a.VariantID)
		}
	}
}

func TestEquivalentDefinitionsShareComputation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, "ukb", "diagnosis_A AND age > 50")
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	if got := awaitTerminal(t, f.svc, first.ID); got.Status != types.JobStatusSucceeded {
		t.Fatalf("first job: %q (%s)", got.Status, got.Error)
	}

	// Commuted AND operands canonicalize to the same fingerprint, so the
	// second job must be served from the result cache.
	second, err := f.svc.Submit(ctx, "ukb", "age > 50 AND diagnosis_A")
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	if second.Fingerprint != first.Fingerprint {
		t.Fatalf("fingerprints differ: %s vs %s", first.Fingerprint, second.Fingerprint)
	}
	if got := awaitTerminal(t, f.svc, second.ID); got.Status != types.JobStatusSucceeded {
		t.Fatalf("second job: %q (%s)", got.Status, got.Error)
	}

	if n := f.eng.Invocations(); n != 1 {
		t.Fatalf("engine ran %d times, want 1", n)
	}
}

func TestCachedFingerprintSkipsEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A constant phenotype fails evaluation, so this job can only succeed
	// if the worker consults the result cache before evaluating.
	def, err := expr.Compile("age * 0", testReference("ukb"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	fp := expr.Fingerprint("ukb", def.Root)
	canned := &types.ApproximationResult{CohortID: "ukb", Fingerprint: fp, SampleCount: 4}
	if _, err := f.results.GetOrCompute(ctx, fp, func(context.Context) (*types.ApproximationResult, error) {
		return canned, nil
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	job, err := f.svc.Submit(ctx, "ukb", "age * 0")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := awaitTerminal(t, f.svc, job.ID)
	if done.Status != types.JobStatusSucceeded {
		t.Fatalf("status = %q (%s: %s)", done.Status, done.ErrorKind, done.Error)
	}
	if n := f.eng.Invocations(); n != 0 {
		t.Fatalf("engine ran %d times, want 0", n)
	}
}

func TestCohortMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cohorts, err := f.svc.ListCohorts(ctx)
	if err != nil {
		t.Fatalf("ListCohorts: %v", err)
	}
	if len(cohorts) != 1 || cohorts[0] != "ukb" {
		t.Fatalf("unexpected cohorts: %v", cohorts)
	}

	fields, err := f.svc.CohortFields(ctx, "ukb")
	if err != nil {
		t.Fatalf("CohortFields: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
}
