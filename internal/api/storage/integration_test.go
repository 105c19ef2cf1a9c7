//go:build integration

package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cuongbtq/tile-allocator/internal/api/domain"
	"github.com/cuongbtq/tile-allocator/internal/api/model"
	"github.com/cuongbtq/tile-allocator/shared/postgresql"
)

var testStorage *Storage

// TestMain starts one PostgreSQL container shared by every test in the package.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "tiles",
				"POSTGRES_PASSWORD": "tiles",
				"POSTGRES_DB":       "tiles",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}
	port, _ := strconv.Atoi(mappedPort.Port())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := postgresql.NewClient(&postgresql.Config{
		Host:         host,
		Port:         port,
		User:         "tiles",
		Password:     "tiles",
		Database:     "tiles",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	testStorage = NewStorage(client.GetDB(), logger)
	if err := testStorage.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}
	// Applying the schema twice must be harmless
	if err := testStorage.Migrate(ctx); err != nil {
		log.Fatalf("Failed to re-run migration: %v", err)
	}

	code := m.Run()

	_ = client.Close()
	_ = container.Terminate(ctx)

	os.Exit(code)
}

// uniqueName keeps tests independent while they share one database
func uniqueName(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func createUser(t *testing.T, name string) int64 {
	t.Helper()
	user, err := testStorage.CreateUser(context.Background(), name)
	require.NoError(t, err)
	return user.ID
}

func TestCreateJobSheet_DuplicateName(t *testing.T) {
	ctx := context.Background()
	name := uniqueName(t)

	id, err := testStorage.CreateJobSheet(ctx, name)
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = testStorage.CreateJobSheet(ctx, name)
	assert.ErrorIs(t, err, domain.ErrDuplicateSheetName)
}

func TestSaveJobs_SetsTotal(t *testing.T) {
	ctx := context.Background()
	name := uniqueName(t)

	sheetID, err := testStorage.CreateJobSheet(ctx, name)
	require.NoError(t, err)

	stored, err := testStorage.SaveJobs(ctx, sheetID, []model.NewJob{
		{TileID: "T1", RowData: map[string]string{"x": "1"}},
		{TileID: "T2", RowData: map[string]string{"x": "2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	sheets, err := testStorage.ListJobSheets(ctx)
	require.NoError(t, err)

	var found *model.JobSheet
	for i := range sheets {
		if sheets[i].ID == sheetID {
			found = &sheets[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, name, found.Name)
	assert.Equal(t, 2, found.TotalJobs)

	var jobs []model.Job
	require.NoError(t, testStorage.db.SelectContext(ctx, &jobs,
		`SELECT id, job_sheet_id, tile_id, row_data, assigned_user_id, status, assigned_at
		 FROM jobs WHERE job_sheet_id = $1 ORDER BY id`, sheetID))
	require.Len(t, jobs, 2)
	assert.Equal(t, "T1", jobs[0].TileID)
	assert.JSONEq(t, `{"x":"1"}`, string(jobs[0].RowData))
	assert.Equal(t, domain.JobStatusUnassigned, jobs[0].Status)
	assert.False(t, jobs[0].AssignedUserID.Valid)
	assert.False(t, jobs[0].AssignedAt.Valid)
}

func TestSaveJobs_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()

	sheetID, err := testStorage.CreateJobSheet(ctx, uniqueName(t))
	require.NoError(t, err)

	// The empty tile id violates the CHECK constraint halfway through
	_, err = testStorage.SaveJobs(ctx, sheetID, []model.NewJob{
		{TileID: "T1", RowData: map[string]string{}},
		{TileID: "", RowData: map[string]string{}},
	})
	require.Error(t, err)

	var count int
	require.NoError(t, testStorage.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM jobs WHERE job_sheet_id = $1`, sheetID))
	assert.Zero(t, count)

	var total int
	require.NoError(t, testStorage.db.GetContext(ctx, &total, `SELECT total_jobs FROM job_sheets WHERE id = $1`, sheetID))
	assert.Zero(t, total)
}

func TestSaveJobs_CanceledContextRollsBack(t *testing.T) {
	sheetID, err := testStorage.CreateJobSheet(context.Background(), uniqueName(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = testStorage.SaveJobs(ctx, sheetID, []model.NewJob{{TileID: "T1", RowData: map[string]string{}}})
	require.Error(t, err)

	var count int
	require.NoError(t, testStorage.db.GetContext(context.Background(), &count, `SELECT COUNT(*) FROM jobs WHERE job_sheet_id = $1`, sheetID))
	assert.Zero(t, count)
}

func TestAvailableTilesAndAssign(t *testing.T) {
	ctx := context.Background()
	aliceID := createUser(t, uniqueName(t)+"-alice")

	sheetID, err := testStorage.CreateJobSheet(ctx, uniqueName(t))
	require.NoError(t, err)
	_, err = testStorage.SaveJobs(ctx, sheetID, []model.NewJob{
		{TileID: "T1", RowData: map[string]string{"x": "1"}},
		{TileID: "T1", RowData: map[string]string{"x": "2"}},
		{TileID: "T1", RowData: map[string]string{"x": "3"}},
		{TileID: "T2", RowData: map[string]string{"x": "4"}},
	})
	require.NoError(t, err)

	tiles, err := testStorage.AvailableTiles(ctx, sheetID)
	require.NoError(t, err)
	assert.Equal(t, []model.TileCount{{TileID: "T1", Count: 3}, {TileID: "T2", Count: 1}}, tiles)

	assigned, err := testStorage.AssignTile(ctx, aliceID, sheetID, "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), assigned)

	tiles, err = testStorage.AvailableTiles(ctx, sheetID)
	require.NoError(t, err)
	assert.Equal(t, []model.TileCount{{TileID: "T2", Count: 1}}, tiles)

	assigned, err = testStorage.AssignTile(ctx, aliceID, sheetID, "T1")
	require.NoError(t, err)
	assert.Zero(t, assigned)

	assigned, err = testStorage.AssignTile(ctx, aliceID, sheetID, "missing")
	require.NoError(t, err)
	assert.Zero(t, assigned)
}

func TestAssignTile_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	aliceID := createUser(t, uniqueName(t)+"-alice")
	bobID := createUser(t, uniqueName(t)+"-bob")

	sheetID, err := testStorage.CreateJobSheet(ctx, uniqueName(t))
	require.NoError(t, err)

	jobs := make([]model.NewJob, 50)
	for i := range jobs {
		jobs[i] = model.NewJob{TileID: "T1", RowData: map[string]string{"i": strconv.Itoa(i)}}
	}
	_, err = testStorage.SaveJobs(ctx, sheetID, jobs)
	require.NoError(t, err)

	results := make([]int64, 2)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, userID := range []int64{aliceID, bobID} {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			<-start
			n, err := testStorage.AssignTile(ctx, userID, sheetID, "T1")
			assert.NoError(t, err)
			results[i] = n
		}(i, userID)
	}
	close(start)
	wg.Wait()

	assert.ElementsMatch(t, []int64{50, 0}, results)

	var owners, stamps int
	require.NoError(t, testStorage.db.GetContext(ctx, &owners,
		`SELECT COUNT(DISTINCT assigned_user_id) FROM jobs WHERE job_sheet_id = $1`, sheetID))
	require.NoError(t, testStorage.db.GetContext(ctx, &stamps,
		`SELECT COUNT(DISTINCT assigned_at) FROM jobs WHERE job_sheet_id = $1`, sheetID))
	assert.Equal(t, 1, owners)
	assert.Equal(t, 1, stamps)
}

func TestFindUserIDByName(t *testing.T) {
	ctx := context.Background()
	name := uniqueName(t)
	id := createUser(t, name)

	got, err := testStorage.FindUserIDByName(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = testStorage.FindUserIDByName(ctx, name+"-nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSearchUsers(t *testing.T) {
	ctx := context.Background()
	prefix := fmt.Sprintf("srch%d", time.Now().UnixNano())
	createUser(t, prefix+" Zed")
	createUser(t, prefix+" alice")
	createUser(t, prefix+"_100% literal")

	users, err := testStorage.SearchUsers(ctx, prefix, 10)
	require.NoError(t, err)
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.FullName
	}
	assert.ElementsMatch(t, []string{prefix + " Zed", prefix + " alice", prefix + "_100% literal"}, names)

	users, err = testStorage.SearchUsers(ctx, prefix+" ALICE", 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, prefix+" alice", users[0].FullName)

	users, err = testStorage.SearchUsers(ctx, "100%", 10)
	require.NoError(t, err)
	require.NotEmpty(t, users)
	for _, u := range users {
		assert.Contains(t, u.FullName, "100%")
	}

	users, err = testStorage.SearchUsers(ctx, prefix, 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
