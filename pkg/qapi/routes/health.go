package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qlaunch/pkg/qapi/services"
)

type HealthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok" doc:"Health status"`
	}
}

func RegisterHealth(api huma.API, svcs *services.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the daemon and its database",
		Tags:        []string{TagHealth.String()},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		if svcs != nil && svcs.DB != nil {
			if err := svcs.DB.PingContext(ctx); err != nil {
				return nil, huma.Error503ServiceUnavailable("database unavailable", err)
			}
		}
		resp := &HealthOutput{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}
