package intake_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/baechuer/mailblast/internal/apperrors"
	"github.com/baechuer/mailblast/internal/intake"
	"github.com/baechuer/mailblast/internal/migrations"
	"github.com/baechuer/mailblast/internal/repository"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:17"),
		postgres.WithDatabase("mailblast_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.EnsureSchema(ctx, pool))
	return pool
}

// memStore is a minimal in-memory storage.Store, avoiding a dependency
// on a filesystem or S3 fixture for these DB-focused tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (s *memStore) Save(ctx context.Context, mailingID, filename string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	pointer := mailingID + "/" + filename
	s.mu.Lock()
	s.data[pointer] = b
	s.mu.Unlock()
	return pointer, nil
}

func (s *memStore) Open(ctx context.Context, pointer string) (io.ReadCloser, error) {
	s.mu.Lock()
	b, ok := s.data[pointer]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memstore: no object at %q", pointer)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func TestWriter_Submit_DuplicateFilenameRejectedByPreCheck(t *testing.T) {
	pool := newTestPool(t)
	store := newMemStore()
	mailings := repository.NewMailingRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	w := intake.New(pool, store, mailings, outboxRepo)

	csv := []byte("email\nalice@example.com\n")
	_, err := w.Submit(context.Background(), "recipients.csv", csv, "mailing.jobs.process")
	require.NoError(t, err)

	_, err = w.Submit(context.Background(), "recipients.csv", csv, "mailing.jobs.process")
	require.Error(t, err)
	ae := apperrors.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, apperrors.CodeDuplicateJob, ae.Code)
}

// TestWriter_Submit_ConcurrentDuplicateFilenameStillRejected closes the
// TOCTOU gap between findByFilename and the insert: two submissions
// racing on the same filename both pass the pre-check, so the second
// to commit must surface as DuplicateJob via the unique-constraint
// translation in Submit, not a raw DB-conflict error.
func TestWriter_Submit_ConcurrentDuplicateFilenameStillRejected(t *testing.T) {
	pool := newTestPool(t)
	store := newMemStore()
	mailings := repository.NewMailingRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	w := intake.New(pool, store, mailings, outboxRepo)

	csv := []byte("email\nalice@example.com\n")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.Submit(context.Background(), "race.csv", csv, "mailing.jobs.process")
		}(i)
	}
	wg.Wait()

	var successes, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		default:
			ae := apperrors.As(err)
			require.NotNil(t, ae, "non-duplicate error from racing submit: %v", err)
			assert.Equal(t, apperrors.CodeDuplicateJob, ae.Code)
			duplicates++
		}
	}
	assert.Equal(t, 1, successes, "exactly one racing submission must win")
	assert.Equal(t, 1, duplicates, "the loser must surface as DuplicateJob, not a generic error")
}
