package realtime

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// MockRepository is a mock implementation of the Repository interface for testing
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MockRepository) Lock(ctx context.Context, recordType, id string) error {
	args := m.Called(ctx, recordType, id)
	return args.Error(0)
}

func (m *MockRepository) Find(ctx context.Context, recordType, id string) (*Record, error) {
	args := m.Called(ctx, recordType, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Record), args.Error(1)
}

func (m *MockRepository) Save(ctx context.Context, recordType string, record Record) error {
	args := m.Called(ctx, recordType, record)
	return args.Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, recordType, id string) error {
	args := m.Called(ctx, recordType, id)
	return args.Error(0)
}

func TestService_Handle_SaveMergesExisting(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo, slog.Default())

	current := &Record{
		ID:       "p1",
		Fields:   map[string]any{"name": "Ann", "city": "Suva"},
		Modified: map[string]int64{"name": 5, "city": 5},
	}
	expected := Record{
		ID:       "p1",
		Fields:   map[string]any{"name": "Ann", "city": "Lautoka"},
		Modified: map[string]int64{"name": 5, "city": 9},
	}

	repo.On("Lock", mock.Anything, "patient", "p1").Return(nil)
	repo.On("Find", mock.Anything, "patient", "p1").Return(current, nil)
	repo.On("Save", mock.Anything, "patient", expected).Return(nil)

	out, err := service.Handle(context.Background(), Message{
		Action:     ActionSave,
		RecordType: "patient",
		Record: &Record{
			ID:       "p1",
			Fields:   map[string]any{"name": "Anne", "city": "Lautoka"},
			Modified: map[string]int64{"name": 4, "city": 9},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionSave, out.Action)
	assert.Equal(t, "p1", out.RecordID)
	assert.Equal(t, expected, *out.Record)

	repo.AssertExpectations(t)
}

func TestService_Handle_SaveCreatesNew(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo, slog.Default())

	record := Record{ID: "p2", Fields: map[string]any{"name": "Bo"}, Modified: map[string]int64{}}
	repo.On("Lock", mock.Anything, "patient", "p2").Return(nil)
	repo.On("Find", mock.Anything, "patient", "p2").Return(nil, ErrNotFound)
	repo.On("Save", mock.Anything, "patient", record).Return(nil)

	_, err := service.Handle(context.Background(), Message{Action: ActionSave, RecordType: "patient", Record: &record})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_Handle_Remove(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo, slog.Default())

	repo.On("Delete", mock.Anything, "patient", "p1").Return(ErrNotFound)

	out, err := service.Handle(context.Background(), Message{Action: ActionRemove, RecordType: "patient", RecordID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, ActionRemove, out.Action)
	repo.AssertExpectations(t)
}

func TestService_Handle_RepositoryError(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo, slog.Default())
	boom := errors.New("db down")

	repo.On("Lock", mock.Anything, "patient", "p1").Return(nil)
	repo.On("Find", mock.Anything, "patient", "p1").Return(nil, boom)

	_, err := service.Handle(context.Background(), Message{
		Action:     ActionSave,
		RecordType: "patient",
		Record:     &Record{ID: "p1"},
	})
	assert.ErrorIs(t, err, boom)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Handle_LockError(t *testing.T) {
	repo := new(MockRepository)
	service := NewService(repo, slog.Default())
	boom := errors.New("lock timeout")

	repo.On("Lock", mock.Anything, "patient", "p1").Return(boom)

	_, err := service.Handle(context.Background(), Message{
		Action:     ActionSave,
		RecordType: "patient",
		Record:     &Record{ID: "p1"},
	})
	assert.ErrorIs(t, err, boom)
	repo.AssertNotCalled(t, "Find", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

// memoryRepository хранит записи в памяти. Lock держит мьютекс записи до конца InTx,
// Find медлит, чтобы параллельные SAVE успели пересечься без блокировки.
type memoryRepository struct {
	mu      gosync.Mutex
	records map[string]Record
	locks   map[string]*gosync.Mutex
}

type heldLocksKey struct{}

func newMemoryRepository(records ...Record) *memoryRepository {
	r := &memoryRepository{records: map[string]Record{}, locks: map[string]*gosync.Mutex{}}
	for _, rec := range records {
		r.records["patient/"+rec.ID] = rec
	}
	return r
}

func (r *memoryRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var held []*gosync.Mutex
	err := fn(context.WithValue(ctx, heldLocksKey{}, &held))
	for _, l := range held {
		l.Unlock()
	}
	return err
}

func (r *memoryRepository) Lock(ctx context.Context, recordType, id string) error {
	held, ok := ctx.Value(heldLocksKey{}).(*[]*gosync.Mutex)
	if !ok {
		return errors.New("lock outside transaction")
	}
	r.mu.Lock()
	l, ok := r.locks[recordType+"/"+id]
	if !ok {
		l = &gosync.Mutex{}
		r.locks[recordType+"/"+id] = l
	}
	r.mu.Unlock()

	l.Lock()
	*held = append(*held, l)
	return nil
}

func (r *memoryRepository) Find(_ context.Context, recordType, id string) (*Record, error) {
	r.mu.Lock()
	rec, ok := r.records[recordType+"/"+id]
	r.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(rec)
	return &out, nil
}

func (r *memoryRepository) Save(_ context.Context, recordType string, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[recordType+"/"+record.ID] = clone(record)
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, recordType, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, recordType+"/"+id)
	return nil
}

func TestService_Handle_ConcurrentSavesKeepBothFields(t *testing.T) {
	repo := newMemoryRepository(Record{
		ID:       "p1",
		Fields:   map[string]any{"a": "a0", "b": "b0"},
		Modified: map[string]int64{"a": 1, "b": 1},
	})
	service := NewService(repo, slog.Default())

	saves := []Record{
		{ID: "p1", Fields: map[string]any{"a": "a-new"}, Modified: map[string]int64{"a": 10}},
		{ID: "p1", Fields: map[string]any{"b": "b-new"}, Modified: map[string]int64{"b": 10}},
	}

	var wg gosync.WaitGroup
	errs := make(chan error, len(saves))
	for i := range saves {
		wg.Add(1)
		go func(rec Record) {
			defer wg.Done()
			_, err := service.Handle(context.Background(), Message{Action: ActionSave, RecordType: "patient", Record: &rec})
			errs <- err
		}(saves[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.Find(context.Background(), "patient", "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "a-new", "b": "b-new"}, got.Fields)
	assert.Equal(t, map[string]int64{"a": 10, "b": 10}, got.Modified)
}

func TestService_Handle_InvalidMessages(t *testing.T) {
	service := NewService(new(MockRepository), slog.Default())

	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{name: "missing record type", msg: Message{Action: ActionRemove, RecordID: "x"}, want: ErrInvalidMessage},
		{name: "save without record", msg: Message{Action: ActionSave, RecordType: "patient"}, want: ErrInvalidMessage},
		{name: "remove without id", msg: Message{Action: ActionRemove, RecordType: "patient"}, want: ErrInvalidMessage},
		{name: "unknown action", msg: Message{Action: "PATCH", RecordType: "patient"}, want: ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Handle(context.Background(), tt.msg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
