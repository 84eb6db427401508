package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agntschat/internal/domain"
)

type memSourceStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.ContextSourceDescriptor
}

func newMemSourceStore() *memSourceStore {
	return &memSourceStore{rows: map[int64]domain.ContextSourceDescriptor{}}
}

func (m *memSourceStore) GetAll(context.Context) ([]domain.ContextSourceDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ContextSourceDescriptor, 0, len(m.rows))
	for _, d := range m.rows {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memSourceStore) Get(_ context.Context, id int64) (domain.ContextSourceDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return d, domain.ErrNotFound
	}
	return d, nil
}

func (m *memSourceStore) Save(_ context.Context, d domain.ContextSourceDescriptor) (domain.ContextSourceDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		m.nextID++
		d.ID = m.nextID
	}
	m.rows[d.ID] = d
	return d, nil
}

func (m *memSourceStore) SetEnabled(_ context.Context, id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Enabled = enabled
	m.rows[id] = d
	return nil
}

func (m *memSourceStore) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	delete(m.rows, id)
	return ok, nil
}

// nameValidator rejects descriptors whose name is listed.
type nameValidator map[string]bool

func (v nameValidator) ValidateDescriptor(_ context.Context, d domain.ContextSourceDescriptor) error {
	if v[d.Name] {
		return domain.NewDomainError("validate", domain.ErrInvalidInput, "file missing")
	}
	return nil
}

func newTestCatalog(reject nameValidator) (*SourceCatalog, *memSourceStore, *SourceAggregator, *recordingBus) {
	store := newMemSourceStore()
	factory := fakeFactory{
		"Notes":  domain.Built(&fakeSource{name: "Notes"}),
		"Ledger": domain.Built(&fakeSource{name: "Ledger"}),
	}
	agg := NewSourceAggregator(store, factory, SourceAggregatorConfig{}, newTestLogger())
	bus := &recordingBus{}
	return NewSourceCatalog(store, reject, agg, bus, newTestLogger()), store, agg, bus
}

func TestCatalog_AddValidatesAndRefreshes(t *testing.T) {
	cat, _, agg, _ := newTestCatalog(nameValidator{"Ledger": true})
	ctx := context.Background()

	saved, err := cat.Add(ctx, domain.ContextSourceDescriptor{Name: "Notes", Kind: domain.SourceLocalFiles, Enabled: true})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, []string{"Notes"}, agg.Active())

	_, err = cat.Add(ctx, domain.ContextSourceDescriptor{Name: "Ledger", Kind: domain.SourceLocalFiles, Enabled: true})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	all, err := cat.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCatalog_ValidateDeactivatesWithoutDeleting(t *testing.T) {
	reject := nameValidator{}
	cat, store, agg, bus := newTestCatalog(reject)
	ctx := context.Background()

	saved, err := cat.Add(ctx, domain.ContextSourceDescriptor{Name: "Notes", Kind: domain.SourceLocalFiles, Enabled: true})
	require.NoError(t, err)

	reason, err := cat.Validate(ctx, saved.ID)
	require.NoError(t, err)
	assert.NoError(t, reason)

	reject["Notes"] = true
	reason, err = cat.Validate(ctx, saved.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, reason, domain.ErrInvalidInput)

	d, err := store.Get(ctx, saved.ID)
	require.NoError(t, err, "still stored")
	assert.False(t, d.Enabled)
	assert.Empty(t, agg.Active())
	assert.Equal(t, []domain.EventType{domain.EventSourceDeactivated}, bus.types())
}

func TestCatalog_RevalidateAll(t *testing.T) {
	reject := nameValidator{}
	cat, store, agg, _ := newTestCatalog(reject)
	ctx := context.Background()

	for _, n := range []string{"Notes", "Ledger"} {
		_, err := cat.Add(ctx, domain.ContextSourceDescriptor{Name: n, Kind: domain.SourceLocalFiles, Enabled: true})
		require.NoError(t, err)
	}
	require.ElementsMatch(t, []string{"Notes", "Ledger"}, agg.Active())

	reject["Ledger"] = true
	n, err := cat.RevalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"Notes"}, agg.Active())

	all, _ := store.GetAll(ctx)
	assert.Len(t, all, 2)
}

func TestCatalog_EnableRevalidates(t *testing.T) {
	reject := nameValidator{}
	cat, _, agg, _ := newTestCatalog(reject)
	ctx := context.Background()

	saved, err := cat.Add(ctx, domain.ContextSourceDescriptor{Name: "Notes", Kind: domain.SourceLocalFiles})
	require.NoError(t, err)
	assert.Empty(t, agg.Active())

	reject["Notes"] = true
	assert.ErrorIs(t, cat.SetEnabled(ctx, saved.ID, true), domain.ErrInvalidInput)

	delete(reject, "Notes")
	require.NoError(t, cat.SetEnabled(ctx, saved.ID, true))
	assert.Equal(t, []string{"Notes"}, agg.Active())

	ok, err := cat.Delete(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, agg.Active())

	assert.True(t, errors.Is(cat.SetEnabled(ctx, saved.ID, true), domain.ErrNotFound))
}
