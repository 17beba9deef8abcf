// Package checkpoint defines the narrow persistence contract the workflow
// executor depends on to save and resume run state, plus an in-memory
// implementation suitable for tests and single-process deployments.
//
// The interface is deliberately narrow — Save, LoadLatest, List, with
// insertion-only records where the most recent per run wins — so storage
// backends (SQL, file, memory) can each satisfy it without implementing
// operations the executor never calls.
package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// Record is one saved point-in-time snapshot of a run's state.
type Record struct {
	ID            string
	RunID         string
	StepID        string
	StateSnapshot map[string]map[string]interface{}
	CreatedAt     time.Time
}

// Store is the contract the workflow executor depends on. Implementations
// must serialize writes per run_id; the executor never issues concurrent
// Save calls for the same run, but List/LoadLatest may be called
// concurrently with a Save for other runs.
type Store interface {
	// Save persists state as the new latest checkpoint for runID at stepID,
	// returning the new record's ID.
	Save(ctx context.Context, runID, stepID string, state map[string]map[string]interface{}) (string, error)

	// LoadLatest returns the most recently saved record for runID, or
	// (nil, nil) if the run has no checkpoints.
	LoadLatest(ctx context.Context, runID string) (*Record, error)

	// List returns every record saved for runID, oldest first.
	List(ctx context.Context, runID string) ([]Record, error)
}

// MemoryStore is an in-memory, insertion-only Store: every Save appends a
// new record rather than overwriting, and LoadLatest returns the one with
// the latest CreatedAt — matching the data model's "insertion-only; most
// recent record per run_id wins" rule.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]Record)}
}

func (m *MemoryStore) Save(ctx context.Context, runID, stepID string, state map[string]map[string]interface{}) (string, error) {
	select {
	case <-ctx.Done():
		return "", &apperrors.CheckpointError{RunID: runID, Op: "save", Cause: ctx.Err()}
	default:
	}

	snapshot := make(map[string]map[string]interface{}, len(state))
	for id, outputs := range state {
		snapshot[id] = outputs
	}

	rec := Record{
		ID:            uuid.NewString(),
		RunID:         runID,
		StepID:        stepID,
		StateSnapshot: snapshot,
		CreatedAt:     time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[runID] = append(m.records[runID], rec)
	return rec.ID, nil
}

func (m *MemoryStore) LoadLatest(ctx context.Context, runID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[runID]
	if len(recs) == 0 {
		return nil, nil
	}

	latest := recs[0]
	for _, r := range recs[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return &latest, nil
}

func (m *MemoryStore) List(ctx context.Context, runID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := append([]Record(nil), m.records[runID]...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}
