package router

import (
	"path/filepath"

	"github.com/gin-gonic/gin"

	"loopsync/backend/pkg/validator"
)

// AddOpenAPIValidation validates requests on group against the schema at
// schemaPath and serves the schema under /api/docs. A schema that fails to
// load disables validation.
func (r *Router) AddOpenAPIValidation(group *gin.RouterGroup, schemaPath string) {
	v, err := validator.NewOpenAPIValidator(schemaPath)
	if err != nil {
		r.Logger.LogError(err, "Failed to initialize OpenAPI validator, skipping validation", "path", schemaPath)
		return
	}

	group.Use(v.Middleware())
	r.Logger.Info("OpenAPI validation enabled", "schema", schemaPath)

	r.Engine.StaticFile("/api/docs/"+filepath.Base(schemaPath), schemaPath)
}
