package server

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"echowar/internal/domain"
	"echowar/internal/engine"
	"echowar/internal/engine/auth"
	"echowar/internal/repo"
)

// streamPollInterval is how often the websocket stream checks for new rows.
const streamPollInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func registerBattleLog(api huma.API, router chi.Router, basePath string, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-battle-log",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/battlelog",
		Summary:     "Query battle log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID    string `path:"epoch_id"`
		WorldID    string `query:"world_id"`
		EventType  string `query:"event_type"`
		PublicOnly bool   `query:"public_only"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []BattleLogEntryResponse `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, auth.RoleObserver)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetEpoch(ctx, input.EpochID); err != nil {
			return nil, handleError(err)
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		// Observers only ever see the public record.
		publicOnly := input.PublicOnly || !principal.Role.AtLeast(auth.RolePlayer)
		items, err := e.Repo.ListBattleLog(ctx, input.EpochID, repo.BattleLogFilter{
			WorldID:    input.WorldID,
			EventType:  input.EventType,
			PublicOnly: publicOnly,
			Limit:      limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []BattleLogEntryResponse `json:"body"`
		}{Body: mapBattleLog(items)}, nil
	})

	// The live stream is a raw chi route; huma does not model websockets.
	streamPath := path.Join(basePath, "epochs/{epoch_id}/battlelog/stream")
	router.Get(streamPath, func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFromContext(r.Context())
		if !ok {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		epochID := chi.URLParam(r, "epoch_id")
		if _, err := e.Repo.GetEpoch(r.Context(), epochID); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go streamBattleLog(e, conn, epochID, !principal.Role.AtLeast(auth.RolePlayer))
	})
}

// streamBattleLog polls past a cursor and pushes new entries as JSON frames.
// The connection closes on the first write or poll error.
func streamBattleLog(e engine.Engine, conn *websocket.Conn, epochID string, publicOnly bool) {
	defer conn.Close()
	ctx := context.Background()

	// Drain client frames so pings and close messages are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Start past the newest existing row; the stream only carries new entries.
	var cursor int64
	if latest, err := e.Repo.ListBattleLog(ctx, epochID, repo.BattleLogFilter{Limit: 1}); err == nil && len(latest) > 0 {
		cursor = latest[0].ID
	}
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		entries, err := logEntriesAfter(ctx, e.Repo, epochID, cursor, publicOnly)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if err := conn.WriteJSON(battleLogResponse(entry)); err != nil {
				return
			}
			cursor = entry.ID
		}
	}
}

// logEntriesAfter returns entries newer than the cursor in log order. A zero
// cursor means the epoch had no rows yet; the newest-first listing is flipped
// so consumers still see log order.
func logEntriesAfter(ctx context.Context, r repo.Repo, epochID string, after int64, publicOnly bool) ([]domain.BattleLogEntry, error) {
	if after > 0 {
		return r.ListBattleLog(ctx, epochID, repo.BattleLogFilter{
			PublicOnly: publicOnly,
			AfterID:    after,
			Limit:      100,
		})
	}
	entries, err := r.ListBattleLog(ctx, epochID, repo.BattleLogFilter{PublicOnly: publicOnly, Limit: 100})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
