package allocation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tile-allocator/internal/api/domain"
	"github.com/cuongbtq/tile-allocator/internal/events"
)

type tileKey struct {
	sheetID int64
	tileID  string
}

// fakeStore keeps unassigned job counts per tile and claims them under a lock
type fakeStore struct {
	mu         sync.Mutex
	users      map[string]int64
	unassigned map[tileKey]int64
	owners     map[tileKey]int64
	findErr    error
	assignErr  error
	assignCall int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[string]int64{"alice": 1, "bob": 2},
		unassigned: map[tileKey]int64{},
		owners:     map[tileKey]int64{},
	}
}

func (s *fakeStore) FindUserIDByName(_ context.Context, fullName string) (int64, error) {
	if s.findErr != nil {
		return 0, s.findErr
	}
	id, ok := s.users[fullName]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	return id, nil
}

func (s *fakeStore) AssignTile(_ context.Context, userID, sheetID int64, tileID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignCall++
	if s.assignErr != nil {
		return 0, s.assignErr
	}

	key := tileKey{sheetID, tileID}
	n := s.unassigned[key]
	if n > 0 {
		s.owners[key] = userID
	}
	s.unassigned[key] = 0
	return n, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []string
	total   int64
}

func (r *fakeRecorder) AllocationFinished(result string, assigned int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.total += assigned
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func newTestService(store Store) (*Service, *fakeRecorder, *fakePublisher) {
	recorder := &fakeRecorder{}
	publisher := &fakePublisher{}
	svc := NewService(&Config{
		Store:     store,
		Publisher: publisher,
		Recorder:  recorder,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return svc, recorder, publisher
}

func TestAssign_ClaimsAllUnassignedJobs(t *testing.T) {
	store := newFakeStore()
	store.unassigned[tileKey{5, "T1"}] = 3
	svc, recorder, publisher := newTestService(store)

	assigned, err := svc.Assign(context.Background(), "alice", 5, "T1")

	require.NoError(t, err)
	assert.Equal(t, int64(3), assigned)
	assert.Equal(t, int64(1), store.owners[tileKey{5, "T1"}])
	assert.Equal(t, []string{ResultAssigned}, recorder.results)
	assert.Equal(t, int64(3), recorder.total)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, events.TypeTileAllocated, publisher.events[0].Type)
	assert.Equal(t, events.TileAllocated{
		SheetID:       5,
		TileID:        "T1",
		UserID:        1,
		UserName:      "alice",
		AssignedCount: 3,
	}, publisher.events[0].Data)
}

// stuckPublisher never returns until released
type stuckPublisher struct {
	release chan struct{}
}

func (p *stuckPublisher) Publish(context.Context, events.Event) error {
	<-p.release
	return nil
}

func TestAssign_DoesNotWaitForSlowBroker(t *testing.T) {
	store := newFakeStore()
	store.unassigned[tileKey{5, "T1"}] = 2

	broker := &stuckPublisher{release: make(chan struct{})}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := events.NewAsyncPublisher(broker, 8, logger)

	svc := NewService(&Config{
		Store:     store,
		Publisher: publisher,
		Recorder:  &fakeRecorder{},
		Logger:    logger,
	})

	done := make(chan int64, 1)
	go func() {
		assigned, err := svc.Assign(context.Background(), "alice", 5, "T1")
		assert.NoError(t, err)
		done <- assigned
	}()

	select {
	case assigned := <-done:
		assert.Equal(t, int64(2), assigned)
	case <-time.After(2 * time.Second):
		t.Fatal("Assign waited on the broker")
	}

	close(broker.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, publisher.Close(ctx))
}

func TestAssign_FullyAssignedTile(t *testing.T) {
	store := newFakeStore()
	store.unassigned[tileKey{5, "T1"}] = 2
	svc, recorder, publisher := newTestService(store)

	_, err := svc.Assign(context.Background(), "alice", 5, "T1")
	require.NoError(t, err)

	_, err = svc.Assign(context.Background(), "bob", 5, "T1")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTileUnavailable)
	assert.Equal(t, "this tile is already assigned or not found", err.Error())
	assert.Equal(t, int64(1), store.owners[tileKey{5, "T1"}])
	assert.Equal(t, []string{ResultAssigned, ResultTileUnavailable}, recorder.results)
	assert.Len(t, publisher.events, 1)
}

func TestAssign_UnknownTile(t *testing.T) {
	svc, _, _ := newTestService(newFakeStore())

	_, err := svc.Assign(context.Background(), "alice", 5, "missing")

	assert.ErrorIs(t, err, domain.ErrTileUnavailable)
}

func TestAssign_UserNotFound(t *testing.T) {
	store := newFakeStore()
	store.unassigned[tileKey{5, "T1"}] = 1
	svc, recorder, _ := newTestService(store)

	_, err := svc.Assign(context.Background(), "mallory", 5, "T1")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Equal(t, 0, store.assignCall)
	assert.Equal(t, []string{ResultUserNotFound}, recorder.results)
}

func TestAssign_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		userName string
		sheetID  int64
		tileID   string
	}{
		{"blank user", " ", 1, "T1"},
		{"blank tile", "alice", 1, ""},
		{"zero sheet", "alice", 0, "T1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc, _, _ := newTestService(store)

			_, err := svc.Assign(context.Background(), tt.userName, tt.sheetID, tt.tileID)

			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, 0, store.assignCall)
		})
	}
}

func TestAssign_StoreErrors(t *testing.T) {
	t.Run("lookup fails", func(t *testing.T) {
		store := newFakeStore()
		store.findErr = errors.New("connection reset")
		svc, recorder, _ := newTestService(store)

		_, err := svc.Assign(context.Background(), "alice", 1, "T1")

		assert.EqualError(t, err, "connection reset")
		assert.Equal(t, []string{ResultError}, recorder.results)
	})

	t.Run("update fails", func(t *testing.T) {
		store := newFakeStore()
		store.assignErr = errors.New("deadlock detected")
		svc, recorder, publisher := newTestService(store)

		_, err := svc.Assign(context.Background(), "alice", 1, "T1")

		assert.EqualError(t, err, "deadlock detected")
		assert.Equal(t, []string{ResultError}, recorder.results)
		assert.Empty(t, publisher.events)
	})
}

func TestAssign_ConcurrentCallsHaveOneWinner(t *testing.T) {
	store := newFakeStore()
	store.unassigned[tileKey{7, "T1"}] = 4
	svc, recorder, _ := newTestService(store)

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "alice"
			if i%2 == 1 {
				user = "bob"
			}
			n, err := svc.Assign(context.Background(), user, 7, "T1")
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrTileUnavailable)
				return
			}
			assert.Equal(t, int64(4), n)
			mu.Lock()
			winners++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, int64(4), recorder.total)
}
