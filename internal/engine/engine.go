package engine

import (
	"context"
	crand "crypto/rand"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"log"
	"math/rand"
	"time"

	"echowar/internal/battlelog"
	"echowar/internal/config"
	"echowar/internal/repo"
)

// transformTimeout bounds every content-transformation call.
const transformTimeout = 10 * time.Second

// Engine drives the epoch competition: lifecycle, resource ledger, missions,
// echo propagation and scoring. All cross-request coordination goes through
// the ledger's compare-and-swap; everything else is last-write-wins rows.
type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Log         battlelog.Writer
	Metrics     MetricsProvider
	Transformer ContentTransformer
	Cloner      InstanceCloner
	Logger      *log.Logger
	Now         func() time.Time
	Rand        func() float64
}

func New(db *sql.DB) Engine {
	r := repo.Repo{DB: db}
	rng := rand.New(rand.NewSource(cryptoSeed()))
	return Engine{
		DB:          db,
		Repo:        r,
		Log:         battlelog.Writer{DB: db},
		Metrics:     NewMetricsCache(StoreMetrics{Repo: r}, 30*time.Second),
		Transformer: LensTransformer{},
		Cloner:      StoreCloner{Repo: r},
		Logger:      log.Default(),
		Now:         time.Now,
		Rand:        rng.Float64,
	}
}

func cryptoSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) roll() float64 {
	if e.Rand != nil {
		return e.Rand()
	}
	return rand.Float64()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// EpochConfig loads and parses the epoch's config document.
func (e Engine) EpochConfig(ctx context.Context, epochID string) (config.EpochConfig, error) {
	ep, err := e.Repo.GetEpoch(ctx, epochID)
	if err != nil {
		return config.EpochConfig{}, err
	}
	return config.FromJSON([]byte(ep.ConfigJSON))
}

func marshalJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
