package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"echowar/internal/engine"
	"echowar/internal/engine/auth"
)

func registerEchoes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-echoes",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/echoes",
		Summary:     "List echoes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string `path:"epoch_id"`
		WorldID string `query:"world_id"`
		Status  string `query:"status" enum:",pending,generating,completed,rejected,failed"`
	}) (*struct {
		Body []EchoResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetEpoch(ctx, input.EpochID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListEchoes(ctx, input.EpochID, input.WorldID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EchoResponse `json:"body"`
		}{Body: mapEchoes(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-echo",
		Method:      http.MethodGet,
		Path:        "/epochs/{epoch_id}/echoes/{id}",
		Summary:     "Get echo",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string `path:"epoch_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body EchoResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RoleObserver); authErr != nil {
			return nil, authErr
		}
		echo, err := e.Repo.GetEcho(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if echo.EpochID != input.EpochID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "echo not found in epoch", nil)
		}
		return &struct {
			Body EchoResponse `json:"body"`
		}{Body: echoResponse(echo)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-echo",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/echoes/{id}/approve",
		Summary:     "Approve pending echo",
		Errors: []int{
			http.StatusConflict,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		EpochID string `path:"epoch_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body EchoResponse `json:"body"`
	}, error) {
		min, err := moderationRole(ctx, e, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireRole(ctx, min); authErr != nil {
			return nil, authErr
		}
		echo, err := e.ApproveEcho(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EchoResponse `json:"body"`
		}{Body: echoResponse(echo)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-echo",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/echoes/{id}/reject",
		Summary:     "Reject pending echo",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EpochID string `path:"epoch_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body EchoResponse `json:"body"`
	}, error) {
		min, err := moderationRole(ctx, e, input.EpochID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireRole(ctx, min); authErr != nil {
			return nil, authErr
		}
		echo, err := e.RejectEcho(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EchoResponse `json:"body"`
		}{Body: echoResponse(echo)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "trigger-echo",
		Method:      http.MethodPost,
		Path:        "/epochs/{epoch_id}/echoes/trigger",
		Summary:     "Evaluate event for echoes",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		EpochID string             `path:"epoch_id"`
		Body    TriggerEchoRequest `json:"body"`
	}) (*struct {
		Body []EchoResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, auth.RolePlayer); authErr != nil {
			return nil, authErr
		}
		if input.Body.EventID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "event_id is required", nil)
		}
		created, err := e.EvaluateEvent(ctx, input.EpochID, input.Body.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EchoResponse `json:"body"`
		}{Body: mapEchoes(created)}, nil
	})
}
