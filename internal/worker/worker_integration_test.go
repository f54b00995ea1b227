package worker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baechuer/mailblast/internal/emailclient"
	"github.com/baechuer/mailblast/internal/migrations"
	"github.com/baechuer/mailblast/internal/models"
	"github.com/baechuer/mailblast/internal/ratelimiter"
	"github.com/baechuer/mailblast/internal/repository"
	"github.com/baechuer/mailblast/internal/token"
	"github.com/baechuer/mailblast/internal/validation"
	"github.com/baechuer/mailblast/internal/worker"
)

// memStore is an in-memory storage.Store fake, grounding the worker's
// fetch step without needing a real filesystem or S3 bucket.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (s *memStore) Save(ctx context.Context, mailingID, filename string, data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
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

func newFakeProvider(t *testing.T, handler http.HandlerFunc) (*emailclient.Client, func()) {
	t.Helper()

	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "header.eyJleHAiOjk5OTk5OTk5OTl9.sig"})
	}))
	providerSrv := httptest.NewServer(handler)

	tokens := token.New(token.Config{AuthURL: authSrv.URL, Username: "u", Password: "p"})
	client := emailclient.New(emailclient.Config{
		BaseURL: providerSrv.URL,
		Limiter: ratelimiter.New(0, 4),
		Tokens:  tokens,
	})
	return client, func() {
		authSrv.Close()
		providerSrv.Close()
	}
}

func newDelivery(t *testing.T, payload models.MailingPayload) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func TestWorker_Handle_CompletesMailingOnAllRowsSent(t *testing.T) {
	pool := newTestPool(t)
	mailings := repository.NewMailingRepository(pool)
	entries := repository.NewEntryRepository(pool)
	deadletters := repository.NewDeadLetterRepository(pool)

	store := newMemStore()
	csv := "email\nalice@example.com\nbob@example.com\n"
	pointer, err := store.Save(context.Background(), "m1", "recipients.csv", strings.NewReader(csv))
	require.NoError(t, err)

	m := &models.Mailing{
		ID:         uuid.New(),
		Filename:   "recipients.csv",
		StorageURL: pointer,
		Status:     models.MailingPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, mailings.Create(context.Background(), m))

	var sent int
	emailClient, closeProvider := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		sent++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": fmt.Sprintf("msg-%d", sent)})
	})
	defer closeProvider()

	validator := validation.New(false, false)
	w := worker.New(worker.Config{
		StaleLockThreshold: 30 * time.Second,
		CheckpointInterval: 100,
		YieldEvery:         10,
		FailureThreshold:   0.20,
	}, mailings, entries, deadletters, store, validator, emailClient, nil, nil)

	delivery := newDelivery(t, models.MailingPayload{MailingID: m.ID, Filename: m.Filename, StorageURL: m.StorageURL})
	require.NoError(t, w.Handle(context.Background(), delivery))

	got, err := mailings.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MailingCompleted, got.Status)
	assert.Equal(t, 2, sent)

	sentCount, err := entries.CountByMailingAndStatus(context.Background(), m.ID, models.EntrySent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sentCount)
}

func TestWorker_Handle_InvalidRowsAreNotSentButMailingStillCompletes(t *testing.T) {
	pool := newTestPool(t)
	mailings := repository.NewMailingRepository(pool)
	entries := repository.NewEntryRepository(pool)
	deadletters := repository.NewDeadLetterRepository(pool)

	store := newMemStore()
	csv := "email\nalice@example.com\nnot-an-email\nbob@example.com\n"
	pointer, err := store.Save(context.Background(), "m2", "recipients.csv", strings.NewReader(csv))
	require.NoError(t, err)

	m := &models.Mailing{
		ID:         uuid.New(),
		Filename:   "recipients.csv",
		StorageURL: pointer,
		Status:     models.MailingPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, mailings.Create(context.Background(), m))

	emailClient, closeProvider := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "msg-ok"})
	})
	defer closeProvider()

	validator := validation.New(false, false)
	w := worker.New(worker.Config{
		StaleLockThreshold: 30 * time.Second,
		CheckpointInterval: 100,
		YieldEvery:         10,
		FailureThreshold:   0.50, // 1/3 invalid stays under this gate
	}, mailings, entries, deadletters, store, validator, emailClient, nil, nil)

	delivery := newDelivery(t, models.MailingPayload{MailingID: m.ID, Filename: m.Filename, StorageURL: m.StorageURL})
	require.NoError(t, w.Handle(context.Background(), delivery))

	got, err := mailings.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MailingCompleted, got.Status)

	invalidCount, err := entries.CountByMailingAndStatus(context.Background(), m.ID, models.EntryInvalid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), invalidCount)
}

func TestWorker_Handle_SkipsWhenLockNotAcquired(t *testing.T) {
	pool := newTestPool(t)
	mailings := repository.NewMailingRepository(pool)
	entries := repository.NewEntryRepository(pool)
	deadletters := repository.NewDeadLetterRepository(pool)

	store := newMemStore()
	m := &models.Mailing{
		ID:         uuid.New(),
		Filename:   "recipients.csv",
		StorageURL: "unused",
		Status:     models.MailingCompleted, // terminal: never eligible for lock
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, mailings.Create(context.Background(), m))

	emailClient, closeProvider := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("email provider should never be called when the lock is not acquired")
	})
	defer closeProvider()

	validator := validation.New(false, false)
	w := worker.New(worker.Config{StaleLockThreshold: 30 * time.Second, CheckpointInterval: 100, YieldEvery: 10, FailureThreshold: 0.20},
		mailings, entries, deadletters, store, validator, emailClient, nil, nil)

	delivery := newDelivery(t, models.MailingPayload{MailingID: m.ID, Filename: m.Filename, StorageURL: m.StorageURL})
	require.NoError(t, w.Handle(context.Background(), delivery))

	got, err := mailings.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MailingCompleted, got.Status, "status must be untouched")
}
