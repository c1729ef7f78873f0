package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"echowar/internal/domain"
	"echowar/internal/repo"
)

// WorldMetrics aggregates the health numbers probability and scoring formulas
// consume. Providers may serve stale values; the engine treats them as a
// read-only cache.
type WorldMetrics struct {
	Instability          float64
	ZoneStability        map[string]float64
	ZoneSecurity         map[string]int
	EmbassyEffectiveness map[string]float64
}

// MetricsProvider supplies per-world aggregate metrics.
type MetricsProvider interface {
	WorldMetrics(ctx context.Context, worldID string) (WorldMetrics, error)
}

// TransformRequest carries a source event through a bleed vector's lens into
// a target world's register.
type TransformRequest struct {
	SourceTitle       string
	SourceDescription string
	Vector            string
	LensPrompt        string
	TargetWorldName   string
	TargetProfile     string
}

type TransformResult struct {
	Title       string
	Description string
}

// ContentTransformer rewrites event content for the receiving world. Invoked
// only on echo approval, always under a fixed timeout.
type ContentTransformer interface {
	Transform(ctx context.Context, req TransformRequest) (TransformResult, error)
}

// InstanceCloner manages the isolated per-epoch world copies competition runs
// against. Clone is invoked at start, Archive at completion, Delete at cancel.
type InstanceCloner interface {
	Clone(ctx context.Context, epochID string, worldIDs []string) error
	Archive(ctx context.Context, epochID string) error
	Delete(ctx context.Context, epochID string) error
}

// --- default store-backed implementations ---

// StoreMetrics derives metrics directly from the entity store.
type StoreMetrics struct {
	Repo repo.Repo
}

func (m StoreMetrics) WorldMetrics(ctx context.Context, worldID string) (WorldMetrics, error) {
	zones, err := m.Repo.ListZones(ctx, worldID)
	if err != nil {
		return WorldMetrics{}, err
	}
	wm := WorldMetrics{
		ZoneStability:        make(map[string]float64, len(zones)),
		ZoneSecurity:         make(map[string]int, len(zones)),
		EmbassyEffectiveness: map[string]float64{},
	}
	var sum float64
	for _, z := range zones {
		wm.ZoneStability[z.ID] = z.Stability
		wm.ZoneSecurity[z.ID] = z.Security
		sum += z.Stability
	}
	if len(zones) > 0 {
		wm.Instability = 1 - sum/float64(len(zones))
	}
	embassies, err := m.Repo.ListEmbassies(ctx, worldID)
	if err != nil {
		return WorldMetrics{}, err
	}
	for _, e := range embassies {
		if e.Status == "active" {
			wm.EmbassyEffectiveness[e.TargetWorldID] = e.Effectiveness
		}
	}
	return wm, nil
}

// MetricsCache wraps a provider with a TTL. The cache is owned by the engine
// and carries its own clock so expiry is testable.
type MetricsCache struct {
	Provider MetricsProvider
	TTL      time.Duration
	Now      func() time.Time

	mu      sync.Mutex
	entries map[string]cachedMetrics
}

type cachedMetrics struct {
	metrics   WorldMetrics
	fetchedAt time.Time
}

func NewMetricsCache(provider MetricsProvider, ttl time.Duration) *MetricsCache {
	return &MetricsCache{
		Provider: provider,
		TTL:      ttl,
		Now:      time.Now,
		entries:  map[string]cachedMetrics{},
	}
}

func (c *MetricsCache) WorldMetrics(ctx context.Context, worldID string) (WorldMetrics, error) {
	now := c.Now()
	c.mu.Lock()
	if entry, ok := c.entries[worldID]; ok && now.Sub(entry.fetchedAt) < c.TTL {
		c.mu.Unlock()
		return entry.metrics, nil
	}
	c.mu.Unlock()

	metrics, err := c.Provider.WorldMetrics(ctx, worldID)
	if err != nil {
		return WorldMetrics{}, err
	}
	c.mu.Lock()
	c.entries[worldID] = cachedMetrics{metrics: metrics, fetchedAt: now}
	c.mu.Unlock()
	return metrics, nil
}

// Invalidate drops a world's cached metrics after a mutation.
func (c *MetricsCache) Invalidate(worldID string) {
	c.mu.Lock()
	delete(c.entries, worldID)
	c.mu.Unlock()
}

// LensTransformer is the default transformer: a deterministic rewrite that
// frames the source event through the vector's lens. Content quality is an
// external concern; callers swap in a richer implementation.
type LensTransformer struct{}

func (LensTransformer) Transform(_ context.Context, req TransformRequest) (TransformResult, error) {
	if strings.TrimSpace(req.SourceTitle) == "" {
		return TransformResult{}, fmt.Errorf("source title empty")
	}
	title := fmt.Sprintf("Word of %s reaches %s", strings.ToLower(strings.TrimRight(req.SourceTitle, ".")), req.TargetWorldName)
	desc := req.LensPrompt
	if req.SourceDescription != "" {
		desc = fmt.Sprintf("%s Accounts speak of: %s", req.LensPrompt, req.SourceDescription)
	}
	return TransformResult{Title: title, Description: desc}, nil
}

// StoreCloner records per-epoch world copies in the game_instances table.
type StoreCloner struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (c StoreCloner) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c StoreCloner) Clone(ctx context.Context, epochID string, worldIDs []string) error {
	tx, err := c.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := c.now().UTC().Format(time.RFC3339)
	for _, worldID := range worldIDs {
		gi := domain.GameInstance{
			ID:            uuid.New().String(),
			EpochID:       epochID,
			SourceWorldID: worldID,
			State:         "active",
			CreatedAt:     now,
		}
		if err := c.Repo.InsertGameInstance(ctx, tx, gi); err != nil {
			return fmt.Errorf("clone world %s: %w", worldID, err)
		}
	}
	return tx.Commit()
}

func (c StoreCloner) Archive(ctx context.Context, epochID string) error {
	return c.setState(ctx, epochID, "archived")
}

func (c StoreCloner) Delete(ctx context.Context, epochID string) error {
	return c.setState(ctx, epochID, "deleted")
}

func (c StoreCloner) setState(ctx context.Context, epochID, state string) error {
	tx, err := c.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := c.Repo.SetGameInstancesState(ctx, tx, epochID, state); err != nil {
		return err
	}
	return tx.Commit()
}
