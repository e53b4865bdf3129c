package qapi

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Api struct {
	Api    huma.API
	Router *chi.Mux
}

// NewApi builds the router and the huma API on top of it. version is
// reported in the OpenAPI document.
func NewApi(version string) *Api {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	config := huma.DefaultConfig("qlaunch", version)
	config.Info.Description = "Launches orchestrator runs as Google Cloud Run job executions."

	api := humachi.New(router, config)

	return &Api{Api: api, Router: router}
}
