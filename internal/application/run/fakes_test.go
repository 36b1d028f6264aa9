package run

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/domain/repository"
	"z-novel-pipeline/internal/infrastructure/messaging"
)

type memRuns struct {
	mu     sync.Mutex
	runs   map[string]*entity.PipelineRun
	states []string
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[string]*entity.PipelineRun)}
}

func (m *memRuns) Create(_ context.Context, run *entity.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRuns) GetByID(_ context.Context, id string) (*entity.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *memRuns) GetByIdempotencyKey(_ context.Context, key string) (*entity.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.IdempotencyKey == key {
			cp := *run
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRuns) Update(ctx context.Context, run *entity.PipelineRun) error {
	return m.Create(ctx, run)
}

func (m *memRuns) UpdateState(_ context.Context, id string, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
	if run, ok := m.runs[id]; ok {
		run.State = state
	}
	return nil
}

func (m *memRuns) List(_ context.Context, filter *repository.PipelineRunFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.PipelineRun], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*entity.PipelineRun
	for _, run := range m.runs {
		if filter != nil && filter.StoryID != "" && run.StoryID != filter.StoryID {
			continue
		}
		items = append(items, run)
	}
	return repository.NewPagedResult(items, int64(len(items)), pagination), nil
}

type memWorldStates struct {
	mu    sync.Mutex
	saved map[string][]*entity.WorldState
}

func (m *memWorldStates) SaveChain(_ context.Context, runID string, states []*entity.WorldState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]*entity.WorldState)
	}
	m.saved[runID] = states
	return nil
}

func (m *memWorldStates) ListByRun(context.Context, string) ([]*entity.WorldStateSnapshot, error) {
	return nil, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeQueue struct {
	jobs []*messaging.PipelineJobMessage
	err  error
}

func (q *fakeQueue) PublishPipelineJob(_ context.Context, job *messaging.PipelineJobMessage) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return "1-0", nil
}

// fakeCache 仅缓存 loader 标记为可缓存的值
type fakeCache struct {
	entries map[string][]byte
	loads   int
	broken  bool
}

func (c *fakeCache) GetOrLoad(ctx context.Context, key string, _ time.Duration, loader func(ctx context.Context) (any, bool, error)) ([]byte, error) {
	if c.broken {
		return nil, errors.New("cache down")
	}
	if raw, ok := c.entries[key]; ok {
		return raw, nil
	}
	c.loads++
	v, cacheable, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if c.entries == nil {
			c.entries = make(map[string][]byte)
		}
		c.entries[key] = raw
	}
	return raw, nil
}

type checkpoint struct {
	state    string
	artifact any
}

type fakeCheckpoints struct {
	mu      sync.Mutex
	saved   []checkpoint
	deleted []string
}

func (f *fakeCheckpoints) Delete(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = nil
	f.deleted = append(f.deleted, runID)
	return nil
}

func (f *fakeCheckpoints) Save(_ context.Context, _ string, state string, artifact any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, checkpoint{state: state, artifact: artifact})
	return nil
}

func (f *fakeCheckpoints) states() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.saved))
	for _, c := range f.saved {
		out = append(out, c.state)
	}
	return out
}
