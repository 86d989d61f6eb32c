package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/dgnsrekt/harrelay/internal/relay"
	"github.com/dgnsrekt/harrelay/internal/types"
)

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []relay.PairInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List bound tabs and their channels", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			out := &listTabsOutput{}
			out.Body.Tabs = svc.Snapshot()
			return out, nil
		})

	type requestHAROutput struct {
		Body struct {
			TabID    int64  `json:"tab_id"`
			ActionID string `json:"action_id"`
			Status   string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "request-har", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/har", Summary: "Ask a tab's devtools agent to export its HAR", Tags: []string{"Tabs"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *struct {
			TabID    int64  `path:"tab_id" minimum:"0" doc:"Browser tab id the devtools channel announced"`
			ActionID string `query:"action_id" doc:"Caller correlation id; generated when omitted"`
		}) (*requestHAROutput, error) {
			actionID := input.ActionID
			if actionID == "" {
				actionID = uuid.NewString()
			}
			rawID, err := json.Marshal(actionID)
			if err != nil {
				return nil, mapErr(err)
			}
			if err := dispatch(ctx, svc, input.TabID, types.ControlMessage{Action: types.ActionGetHAR, ActionID: rawID}); err != nil {
				return nil, err
			}
			out := &requestHAROutput{}
			out.Body.TabID = input.TabID
			out.Body.ActionID = actionID
			out.Body.Status = "requested"
			return out, nil
		})

	type listenerOutput struct {
		Body struct {
			TabID   int64 `json:"tab_id"`
			Enabled bool  `json:"enabled"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-request-listener", Method: http.MethodPut, Path: "/api/v1/tabs/{tab_id}/listener", Summary: "Turn per-request forwarding on or off", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			TabID int64 `path:"tab_id" minimum:"0"`
			Body  struct {
				Enabled bool `json:"enabled" doc:"true sends addRequestListener, false removeRequestListener"`
			}
		}) (*listenerOutput, error) {
			action := types.ActionRemoveRequestListener
			if input.Body.Enabled {
				action = types.ActionAddRequestListener
			}
			if err := dispatch(ctx, svc, input.TabID, types.ControlMessage{Action: action}); err != nil {
				return nil, err
			}
			out := &listenerOutput{}
			out.Body.TabID = input.TabID
			out.Body.Enabled = input.Body.Enabled
			return out, nil
		})
}

func dispatch(ctx context.Context, svc Service, tab int64, msg types.ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return mapErr(err)
	}
	return mapErr(svc.Dispatch(ctx, types.TabID(tab), data))
}
