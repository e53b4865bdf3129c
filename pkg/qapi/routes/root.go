package routes

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qlaunch/pkg/qapi/services"
)

// RegisterAPI registers every route. A nil svcs registers the operations
// without backing services, which is enough to render the OpenAPI document.
func RegisterAPI(api huma.API, svcs *services.Services) {
	RegisterHealth(api, svcs)
	RegisterRuns(api, svcs)
}
