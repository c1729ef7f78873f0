package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"echowar/internal/engine"
	"echowar/internal/engine/auth"
)

func registerScores(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "leaderboard",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/leaderboard",
		Summary:     "Current leaderboard",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *epochPath) (*struct {
		Body []engine.LeaderboardRow `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		rows, err := e.Leaderboard(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		if rows == nil {
			rows = []engine.LeaderboardRow{}
		}
		return &struct {
			Body []engine.LeaderboardRow `json:"body"`
		}{Body: rows}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "final-standings",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/standings",
		Summary:     "Final standings with dimension titles",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *epochPath) (*struct {
		Body engine.Standings `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		standings, err := e.FinalStandings(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Standings `json:"body"`
		}{Body: standings}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "score-history",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/scores/{world_id}",
		Summary:     "Score history for a world",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string `path:"epoch_id"`
		WorldID string `path:"world_id"`
	}) (*struct {
		Body []SnapshotResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		items, err := e.ScoreHistory(ctx, input.EpochID, input.WorldID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SnapshotResponse `json:"body"`
		}{Body: mapSnapshots(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "compute-scores",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/scores/compute",
		Summary:     "Compute cycle scores",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *epochPath) (*struct {
		Body []SnapshotResponse `json:"body"`
	}, error) {
		min, err := moderationRole(ctx, e, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireRole(ctx, min); authErr != nil {
			return nil, authErr
		}
		snapshots, err := e.ComputeScores(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SnapshotResponse `json:"body"`
		}{Body: mapSnapshots(snapshots)}, nil
	})
}
