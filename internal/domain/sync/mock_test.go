package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockRemote is a mock implementation of the Remote interface for testing
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) StartSyncSession(ctx context.Context) (*Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Session), args.Error(1)
}

func (m *MockRemote) EndSyncSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockRemote) MarkSessionErrored(ctx context.Context, sessionID, message string) error {
	args := m.Called(ctx, sessionID, message)
	return args.Error(0)
}

func (m *MockRemote) Push(ctx context.Context, sessionID string, changes []Change, progress PushProgress) error {
	args := m.Called(ctx, sessionID, changes, progress)
	return args.Error(0)
}

func (m *MockRemote) CompletePush(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockRemote) InitiatePull(ctx context.Context, sessionID string, since Tick) (*PullWindow, error) {
	args := m.Called(ctx, sessionID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PullWindow), args.Error(1)
}

func (m *MockRemote) Pull(ctx context.Context, sessionID string, offset, limit int) ([]Change, error) {
	args := m.Called(ctx, sessionID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Change), args.Error(1)
}

// fakeStore keeps facts and session tables in memory. InTx restores facts and
// saved rows when fn fails.
type fakeStore struct {
	mu sync.Mutex

	facts    map[string]Tick
	outgoing []Change
	incoming map[string][]Change
	tables   map[string]bool
	saved    []Change

	writers     []*pendingWriter
	waitedTicks []Tick

	snapshotSince  []Tick
	snapshotCalled chan struct{}
	dropAllCalls   int
	deferredCalls  int
	updatedAfter   int
	saveErr        error
}

func newFakeStore(facts map[string]Tick) *fakeStore {
	if facts == nil {
		facts = map[string]Tick{}
	}
	return &fakeStore{
		facts:    facts,
		incoming: map[string][]Change{},
		tables:   map[string]bool{},
	}
}

func (s *fakeStore) fact(key string) Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.facts[key]; ok {
		return v
	}
	return NoTick
}

func (s *fakeStore) GetTick(_ context.Context, key string) (Tick, error) {
	return s.fact(key), nil
}

func (s *fakeStore) SetTick(_ context.Context, key string, tick Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[key] = tick
	return nil
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	facts := make(map[string]Tick, len(s.facts))
	for k, v := range s.facts {
		facts[k] = v
	}
	saved := len(s.saved)
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.facts = facts
		s.saved = s.saved[:saved]
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) WithDeferredSyncSafeguards(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.deferredCalls++
	s.mu.Unlock()
	return fn(ctx)
}

func (s *fakeStore) InsertIncomingChanges(_ context.Context, sessionID string, changes []Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tables[sessionID] {
		return fmt.Errorf("snapshot table for %s does not exist", sessionID)
	}
	s.incoming[sessionID] = append(s.incoming[sessionID], changes...)
	return nil
}

func (s *fakeStore) SnapshotOutgoingChanges(_ context.Context, _ []Model, since Tick) ([]Change, error) {
	s.mu.Lock()
	s.snapshotSince = append(s.snapshotSince, since)
	out := append([]Change(nil), s.outgoing...)
	called := s.snapshotCalled
	s.snapshotCalled = nil
	s.mu.Unlock()
	if called != nil {
		close(called)
	}
	return out, nil
}

func (s *fakeStore) DropAllSnapshotTables(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropAllCalls++
	s.tables = map[string]bool{}
	return nil
}

func (s *fakeStore) CreateSnapshotTable(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[sessionID] = true
	return nil
}

func (s *fakeStore) DropSnapshotTable(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, sessionID)
	delete(s.incoming, sessionID)
	return nil
}

func (s *fakeStore) CountRecordsUpdatedAfter(context.Context, string, []Model, Tick) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAfter, nil
}

func (s *fakeStore) SaveIncomingChanges(_ context.Context, sessionID string, _ []Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, s.incoming[sessionID]...)
	return s.saveErr
}

// pendingWriter незавершенная транзакция, пометившая строку тиком tick.
// Строка видна снимку только после commit.
type pendingWriter struct {
	tick      Tick
	change    Change
	committed chan struct{}
}

func (s *fakeStore) beginWrite(tick Tick, change Change) (commit func()) {
	w := &pendingWriter{tick: tick, change: change, committed: make(chan struct{})}
	s.mu.Lock()
	s.writers = append(s.writers, w)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.outgoing = append(s.outgoing, w.change)
		s.mu.Unlock()
		close(w.committed)
	}
}

func (s *fakeStore) WaitForPendingEdits(ctx context.Context, tick Tick, policy WaitPolicy) error {
	s.mu.Lock()
	s.waitedTicks = append(s.waitedTicks, tick)
	var pending []*pendingWriter
	for _, w := range s.writers {
		if w.tick == tick {
			pending = append(pending, w)
		}
	}
	s.mu.Unlock()

	return policy.Wait(ctx, func(ctx context.Context) error {
		for _, w := range pending {
			select {
			case <-w.committed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
}

// statusError ошибка, которую вернул центральный сервер
type statusError struct {
	code int
}

func (e statusError) Error() string     { return fmt.Sprintf("central responded %d", e.code) }
func (e statusError) RemoteStatus() int { return e.code }

func makeChanges(n int) []Change {
	out := make([]Change, n)
	for i := range out {
		out[i] = Change{
			RecordType: "patients",
			RecordID:   fmt.Sprintf("p-%03d", i),
			Data:       []byte(fmt.Sprintf(`{"id":"p-%03d"}`, i)),
		}
	}
	return out
}

func fixedLimiter(size int) LimiterConfig {
	return LimiterConfig{
		InitialLimit:          size,
		MinLimit:              size,
		MaxLimit:              size,
		OptimalTimePerPage:    DefaultLimiterConfig().OptimalTimePerPage,
		MaxLimitChangePerPage: 0.3,
	}
}
