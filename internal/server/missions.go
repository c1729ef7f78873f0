package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"echowar/internal/engine"
	"echowar/internal/engine/auth"
)

func registerMissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "deploy-mission",
		Method:        http.MethodPost,
		Path:          "/epochs/{epoch_id}/missions",
		Summary:       "Deploy operative mission",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		EpochID string               `path:"epoch_id"`
		Body    DeployMissionRequest `json:"body"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		if input.Body.WorldID == "" || input.Body.AgentID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "world_id and agent_id are required", nil)
		}
		m, err := e.Deploy(ctx, engine.DeployRequest{
			EpochID:       input.EpochID,
			WorldID:       input.Body.WorldID,
			AgentID:       input.Body.AgentID,
			OperativeType: input.Body.OperativeType,
			TargetWorldID: input.Body.TargetWorldID,
			TargetZoneID:  input.Body.TargetZoneID,
			TargetID:      input.Body.TargetID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/missions",
		Summary:     "List missions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string `path:"epoch_id"`
		WorldID string `query:"world_id"`
		Status  string `query:"status" enum:",deploying,active,resolving,returning,success,failed,detected,captured"`
	}) (*struct {
		Body []MissionResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetEpoch(ctx, input.EpochID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMissions(ctx, input.EpochID, input.WorldID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MissionResponse `json:"body"`
		}{Body: mapMissions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/missions/{id}",
		Summary:     "Get mission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string `path:"epoch_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		m, err := e.Repo.GetMission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if m.EpochID != input.EpochID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "mission not found in epoch", nil)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recall-mission",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/missions/{id}/recall",
		Summary:     "Recall mission",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string `path:"epoch_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body MissionResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		m, err := e.Recall(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if m.EpochID != input.EpochID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "mission not found in epoch", nil)
		}
		return &struct {
			Body MissionResponse `json:"body"`
		}{Body: missionResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-pending-missions",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/missions/resolve-pending",
		Summary:     "Resolve due missions",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *epochPath) (*struct {
		Body []engine.MissionOutcome `json:"body"`
	}, error) {
		min, err := moderationRole(ctx, e, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireRole(ctx, min); authErr != nil {
			return nil, authErr
		}
		outcomes, err := e.ResolvePending(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		if outcomes == nil {
			outcomes = []engine.MissionOutcome{}
		}
		return &struct {
			Body []engine.MissionOutcome `json:"body"`
		}{Body: outcomes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "counter-intel",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/counter-intel",
		Summary:     "Run counter-intelligence sweep",
		Errors: []int{
			http.StatusConflict,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		EpochID string              `path:"epoch_id"`
		Body    CounterIntelRequest `json:"body"`
	}) (*struct {
		Body []MissionResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		caught, err := e.CounterIntel(ctx, input.EpochID, input.Body.WorldID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MissionResponse `json:"body"`
		}{Body: mapMissions(caught)}, nil
	})
}
