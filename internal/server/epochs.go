package server

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"echowar/internal/config"
	"echowar/internal/domain"
	"echowar/internal/engine"
	"echowar/internal/engine/auth"
	"echowar/internal/repo"
)

type epochPath struct {
	EpochID string `path:"epoch_id"`
}

func registerEpochs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-epoch",
		Method:        http.MethodPost,
		Path:          "/epochs",
		Summary:       "Create epoch",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateEpochRequest `json:"body"`
	}) (*struct {
		Body EpochResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		cfg := config.Default()
		if len(input.Body.Config) > 0 {
			var err error
			if cfg, err = config.FromJSON(input.Body.Config); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
		}
		ep, err := e.CreateEpoch(ctx, input.Body.Name, cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EpochResponse `json:"body"`
		}{Body: epochResponse(ep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-epochs",
		Method:      http.MethodGet,
		Path:        "/epochs",
		Summary:     "List epochs",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:",lobby,foundation,competition,reckoning,completed,cancelled"`
	}) (*struct {
		Body []EpochResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListEpochs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" {
			filtered := items[:0]
			for _, ep := range items {
				if ep.Status == input.Status {
					filtered = append(filtered, ep)
				}
			}
			items = filtered
		}
		return &struct {
			Body []EpochResponse `json:"body"`
		}{Body: mapEpochs(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-epoch",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}",
		Summary:     "Get epoch",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *epochPath) (*struct {
		Body EpochResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		ep, err := e.Repo.GetEpoch(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EpochResponse `json:"body"`
		}{Body: epochResponse(ep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-epoch-config",
		Method:      http.MethodPatch,
		Path:        "/epochs/{epoch_id}/config",
		Summary:     "Update epoch config",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string                   `path:"epoch_id"`
		Body    UpdateEpochConfigRequest `json:"body"`
	}) (*struct {
		Body EpochResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		cfg, err := config.FromJSON(input.Body.Config)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		ep, err := e.UpdateEpochConfig(ctx, input.EpochID, cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EpochResponse `json:"body"`
		}{Body: epochResponse(ep)}, nil
	})

	registerLifecycleOp(api, e, "start-epoch", "start", "Start epoch", e.Start)
	registerLifecycleOp(api, e, "advance-epoch", "advance", "Advance epoch phase", e.Advance)
	registerLifecycleOp(api, e, "cancel-epoch", "cancel", "Cancel epoch", e.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "resolve-cycle",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/resolve-cycle",
		Summary:     "Resolve cycle and grant resources",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *epochPath) (*struct {
		Body engine.CycleResult `json:"body"`
	}, error) {
		min, err := moderationRole(ctx, e, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireRole(ctx, min); authErr != nil {
			return nil, authErr
		}
		result, err := e.ResolveCycle(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CycleResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "join-epoch",
		Method:        http.MethodPost,
		Path:          "/epochs/{epoch_id}/join",
		Summary:       "Join epoch lobby",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string           `path:"epoch_id"`
		Body    JoinEpochRequest `json:"body"`
	}) (*struct {
		Body ParticipantResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		p, err := e.Join(ctx, input.EpochID, input.Body.WorldID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParticipantResponse `json:"body"`
		}{Body: participantResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "leave-epoch",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/leave",
		Summary:     "Leave epoch lobby",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string           `path:"epoch_id"`
		Body    JoinEpochRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		if err := e.Leave(ctx, input.EpochID, input.Body.WorldID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-participants",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/participants",
		Summary:     "List participants",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *epochPath) (*struct {
		Body []ParticipantResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetEpoch(ctx, input.EpochID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListParticipants(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ParticipantResponse, 0, len(items))
		for _, p := range items {
			res = append(res, participantResponse(p))
		}
		return &struct {
			Body []ParticipantResponse `json:"body"`
		}{Body: res}, nil
	})
}

// registerLifecycleOp registers one phase-machine POST endpoint. Lifecycle
// ops need the referee role when the epoch runs in referee mode.
func registerLifecycleOp(api huma.API, e engine.Engine, opID, action, summary string,
	fn func(context.Context, string) (domain.Epoch, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/" + action,
		Summary:     summary,
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *epochPath) (*struct {
		Body EpochResponse `json:"body"`
	}, error) {
		min, err := moderationRole(ctx, e, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireRole(ctx, min); authErr != nil {
			return nil, authErr
		}
		ep, err := fn(ctx, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EpochResponse `json:"body"`
		}{Body: epochResponse(ep)}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/epochs/{epoch_id}/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string            `path:"epoch_id"`
		Body    CreateTeamRequest `json:"body"`
	}) (*struct {
		Body TeamResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTeam(ctx, input.EpochID, input.Body.WorldID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamResponse `json:"body"`
		}{Body: teamResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "join-team",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/teams/{team_id}/join",
		Summary:     "Join team",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string          `path:"epoch_id"`
		TeamID  string          `path:"team_id"`
		Body    JoinTeamRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		if err := e.JoinTeam(ctx, input.EpochID, input.Body.WorldID, input.TeamID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "leave-team",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/teams/leave",
		Summary:     "Leave team",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string          `path:"epoch_id"`
		Body    JoinTeamRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		if err := e.LeaveTeam(ctx, input.EpochID, input.Body.WorldID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "issue-key",
		Method:        http.MethodPost,
		Path:          "/auth/keys",
		Summary:       "Issue API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body IssueKeyRequest `json:"body"`
	}) (*struct {
		Body struct {
			ID   string `json:"id"`
			Key  string `json:"key"`
			Role string `json:"role"`
		} `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleReferee); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		role := input.Body.Role
		if role == "" {
			role = auth.RolePlayer.String()
		}
		if _, err := auth.ParseRole(role); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		raw := make([]byte, 24)
		if _, err := crand.Read(raw); err != nil {
			return nil, handleError(err)
		}
		key := "ew_" + hex.EncodeToString(raw)
		id := uuid.New().String()
		if err := e.Repo.InsertAPIKey(ctx, domain.APIKey{
			ID:        id,
			ActorID:   input.Body.ActorID,
			Role:      role,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(key),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				ID   string `json:"id"`
				Key  string `json:"key"`
				Role string `json:"role"`
			} `json:"body"`
		}{}
		out.Body.ID = id
		out.Body.Key = key
		out.Body.Role = role
		return out, nil
	})
}
