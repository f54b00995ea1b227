package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/baechuer/mailblast/internal/migrations"
	"github.com/baechuer/mailblast/internal/models"
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

func newMailing() *models.Mailing {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Mailing{
		ID:         uuid.New(),
		Filename:   "recipients.csv",
		StorageURL: "s3://bucket/recipients.csv",
		Status:     models.MailingPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMailingRepository_CreateAndGetByID(t *testing.T) {
	pool := newTestPool(t)
	repo := repository.NewMailingRepository(pool)
	ctx := context.Background()

	m := newMailing()
	require.NoError(t, repo.Create(ctx, m))

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.Filename, got.Filename)
	assert.Equal(t, models.MailingPending, got.Status)
}

func TestMailingRepository_GetByID_UnknownIDReturnsNilNoError(t *testing.T) {
	pool := newTestPool(t)
	repo := repository.NewMailingRepository(pool)

	got, err := repo.GetByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMailingRepository_AcquireLock_WinsOnPendingRow(t *testing.T) {
	pool := newTestPool(t)
	repo := repository.NewMailingRepository(pool)
	ctx := context.Background()

	m := newMailing()
	require.NoError(t, repo.Create(ctx, m))

	locked, err := repo.AcquireLock(ctx, m.ID, time.Now(), 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, locked)
	assert.Equal(t, models.MailingProcessing, locked.Status)
	assert.Equal(t, 1, locked.Attempts, "acquiring the lock must increment attempts")
}

func TestMailingRepository_AcquireLock_LosesOnFreshProcessingRow(t *testing.T) {
	pool := newTestPool(t)
	repo := repository.NewMailingRepository(pool)
	ctx := context.Background()

	m := newMailing()
	require.NoError(t, repo.Create(ctx, m))

	first, err := repo.AcquireLock(ctx, m.ID, time.Now(), 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Attempts)

	second, err := repo.AcquireLock(ctx, m.ID, time.Now(), 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, second, "a fresh PROCESSING row must not be re-acquirable")
}

func TestMailingRepository_AcquireLock_WinsOnStaleProcessingRow(t *testing.T) {
	pool := newTestPool(t)
	repo := repository.NewMailingRepository(pool)
	ctx := context.Background()

	m := newMailing()
	require.NoError(t, repo.Create(ctx, m))

	_, err := repo.AcquireLock(ctx, m.ID, time.Now().Add(-1*time.Minute), 30*time.Second)
	require.NoError(t, err)

	reacquired, err := repo.AcquireLock(ctx, m.ID, time.Now(), 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, reacquired, "a stale PROCESSING row must be re-acquirable")
	assert.Equal(t, 2, reacquired.Attempts, "each acquisition increments attempts")
}

func TestMailingRepository_CrashRecoverySweeps(t *testing.T) {
	pool := newTestPool(t)
	repo := repository.NewMailingRepository(pool)
	ctx := context.Background()

	m := newMailing()
	require.NoError(t, repo.Create(ctx, m))
	_, err := repo.AcquireLock(ctx, m.ID, time.Now().Add(-2*time.Minute), 30*time.Second)
	require.NoError(t, err)

	n, err := repo.ResetStaleProcessing(ctx, time.Now(), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastAttempt)

	legacy := newMailing()
	legacy.Filename = "legacy.csv" // mailings.filename is UNIQUE
	legacy.Status = models.MailingRunning
	require.NoError(t, repo.Create(ctx, legacy))

	demoted, err := repo.DemoteLegacyRunning(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), demoted)

	got, err = repo.GetByID(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MailingPaused, got.Status)
}

func TestOutboxRepository_CreateTxThenFetchUnpublished(t *testing.T) {
	pool := newTestPool(t)
	mailingRepo := repository.NewMailingRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	ctx := context.Background()

	m := newMailing()
	require.NoError(t, mailingRepo.Create(ctx, m))

	msg := &models.OutboxMessage{
		ID:          uuid.New(),
		MailingID:   m.ID,
		TargetQueue: "mailing.jobs.process",
		Payload:     models.MailingPayload{MailingID: m.ID, Filename: m.Filename, StorageURL: m.StorageURL, CreatedAt: time.Now()},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, outboxRepo.CreateTx(ctx, pool, msg))

	rows, err := outboxRepo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, msg.ID, rows[0].ID)
	assert.False(t, rows[0].Published)
}

func TestOutboxRepository_MarkPublishedRemovesFromUnpublishedSet(t *testing.T) {
	pool := newTestPool(t)
	mailingRepo := repository.NewMailingRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	ctx := context.Background()

	m := newMailing()
	require.NoError(t, mailingRepo.Create(ctx, m))

	msg := &models.OutboxMessage{
		ID:          uuid.New(),
		MailingID:   m.ID,
		TargetQueue: "mailing.jobs.process",
		Payload:     models.MailingPayload{MailingID: m.ID},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, outboxRepo.CreateTx(ctx, pool, msg))
	require.NoError(t, outboxRepo.MarkPublished(ctx, msg.ID, time.Now()))

	rows, err := outboxRepo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestOutboxRepository_RecordPublishFailureIncrementsAttempts(t *testing.T) {
	pool := newTestPool(t)
	mailingRepo := repository.NewMailingRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	ctx := context.Background()

	m := newMailing()
	require.NoError(t, mailingRepo.Create(ctx, m))

	msg := &models.OutboxMessage{
		ID:          uuid.New(),
		MailingID:   m.ID,
		TargetQueue: "mailing.jobs.process",
		Payload:     models.MailingPayload{MailingID: m.ID},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, outboxRepo.CreateTx(ctx, pool, msg))
	require.NoError(t, outboxRepo.RecordPublishFailure(ctx, msg.ID, "channel not confirmed"))

	rows, err := outboxRepo.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Equal(t, "channel not confirmed", rows[0].LastError)
}
