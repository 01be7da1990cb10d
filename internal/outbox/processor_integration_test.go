//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/Ascinocco/device-management/internal/resilience"
)

var testInfra *testInfrastructure

type testInfrastructure struct {
	PostgresContainer testcontainers.Container
	DBPool            *pgxpool.Pool
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testInfra, err = setupTestInfrastructure(ctx)
	if err != nil {
		log.Fatalf("failed to set up test infrastructure: %v", err)
	}

	code := m.Run()

	if testInfra != nil {
		if err := testInfra.teardown(ctx); err != nil {
			log.Printf("failed to tear down test infrastructure: %v", err)
		}
	}
	os.Exit(code)
}

func setupTestInfrastructure(ctx context.Context) (*testInfrastructure, error) {
	infra := &testInfrastructure{}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "testuser",
				"POSTGRES_PASSWORD": "testpass",
				"POSTGRES_DB":       "testdb",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}
	infra.PostgresContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, err
	}

	connString := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
	infra.DBPool, err = pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, infra.DBPool); err != nil {
		return nil, err
	}
	return infra, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := "../../migrations"
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
	}
	return nil
}

func (ti *testInfrastructure) teardown(ctx context.Context) error {
	if ti.DBPool != nil {
		ti.DBPool.Close()
	}
	if ti.PostgresContainer != nil {
		return ti.PostgresContainer.Terminate(ctx)
	}
	return nil
}

func (ti *testInfrastructure) truncateAll(ctx context.Context) error {
	_, err := ti.DBPool.Exec(ctx, "TRUNCATE TABLE outbox, saga_state, device_read_model, devices CASCADE")
	return err
}

func insertOutboxEvent(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, eventType string, payload []byte) uuid.UUID {
	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO outbox (id, tenant_id, event_type, payload, created_at, attempts)
		VALUES ($1, $2, $3, $4, now(), 0)
	`, id, tenantID, eventType, payload)
	if err != nil {
		panic(err)
	}
	return id
}

type alwaysSucceedDispatcher struct{ calls *int }

func (d *alwaysSucceedDispatcher) Dispatch(ctx context.Context, tx pgx.Tx, e Event) error {
	*d.calls++
	return nil
}

func TestIntegration_PollOnce_MarksClaimedRowsProcessed(t *testing.T) {
	if testInfra == nil {
		t.Skip("test infrastructure not available")
	}
	ctx := context.Background()
	require.NoError(t, testInfra.truncateAll(ctx))

	tenantID := uuid.New()
	payload, _ := json.Marshal(map[string]string{"device_id": uuid.New().String(), "user_id": uuid.New().String()})
	insertOutboxEvent(ctx, testInfra.DBPool, tenantID, "device.created", payload)
	insertOutboxEvent(ctx, testInfra.DBPool, tenantID, "device.created", payload)

	calls := 0
	processor := NewProcessorWithMetrics(
		testInfra.DBPool,
		&alwaysSucceedDispatcher{calls: &calls},
		resilience.NewRetryPolicy(time.Millisecond, 10*time.Millisecond, 3),
		zap.NewNop(),
		ProcessorConfig{PollInterval: time.Second, BatchSize: 10},
		NewMetrics(fmt.Sprintf("outbox_it_%d", time.Now().UnixNano())),
	)

	require.NoError(t, processor.pollOnce(ctx))
	assert.Equal(t, 2, calls)

	var remaining int
	err := testInfra.DBPool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL`).Scan(&remaining)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

type alwaysFailDispatcher struct{}

func (d *alwaysFailDispatcher) Dispatch(ctx context.Context, tx pgx.Tx, e Event) error {
	return fmt.Errorf("simulated dispatch failure")
}

func TestIntegration_PollOnce_DeadLettersAtMaxAttempts(t *testing.T) {
	if testInfra == nil {
		t.Skip("test infrastructure not available")
	}
	ctx := context.Background()
	require.NoError(t, testInfra.truncateAll(ctx))

	tenantID := uuid.New()
	payload, _ := json.Marshal(map[string]string{"device_id": uuid.New().String()})
	id := insertOutboxEvent(ctx, testInfra.DBPool, tenantID, "device.created", payload)

	// Pre-seed attempts so the very next failure hits the threshold.
	_, err := testInfra.DBPool.Exec(ctx, `UPDATE outbox SET attempts = 2 WHERE id = $1`, id)
	require.NoError(t, err)

	processor := NewProcessorWithMetrics(
		testInfra.DBPool,
		&alwaysFailDispatcher{},
		resilience.NewRetryPolicy(time.Millisecond, 10*time.Millisecond, 3),
		zap.NewNop(),
		ProcessorConfig{PollInterval: time.Second, BatchSize: 10},
		NewMetrics(fmt.Sprintf("outbox_it_dlq_%d", time.Now().UnixNano())),
	)
	require.NoError(t, processor.pollOnce(ctx))

	var processedAt *time.Time
	var lastError *string
	var attempts int
	err = testInfra.DBPool.QueryRow(ctx, `SELECT processed_at, last_error, attempts FROM outbox WHERE id = $1`, id).
		Scan(&processedAt, &lastError, &attempts)
	require.NoError(t, err)
	assert.NotNil(t, processedAt)
	assert.NotNil(t, lastError)
	assert.Equal(t, 3, attempts)
}

// TestProperty_BatchSizeLimit confirms ClaimBatch never returns more
// than the requested limit, regardless of how many rows are pending.
func TestProperty_BatchSizeLimit(t *testing.T) {
	if testInfra == nil {
		t.Skip("test infrastructure not available")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("claimed rows never exceed the batch limit", prop.ForAll(
		func(numEvents, batchSize int) bool {
			ctx := context.Background()
			if err := testInfra.truncateAll(ctx); err != nil {
				return false
			}
			tenantID := uuid.New()
			payload, _ := json.Marshal(map[string]string{})
			for i := 0; i < numEvents; i++ {
				insertOutboxEvent(ctx, testInfra.DBPool, tenantID, "device.created", payload)
			}

			repo := NewRepository()
			tx, err := testInfra.DBPool.Begin(ctx)
			if err != nil {
				return false
			}
			defer tx.Rollback(ctx)

			events, err := repo.ClaimBatch(ctx, tx, batchSize)
			if err != nil {
				return false
			}
			expected := numEvents
			if batchSize < expected {
				expected = batchSize
			}
			return len(events) == expected
		},
		gen.IntRange(0, 15),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
