package router

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	handler := r.Container.Health.Handler()

	// Register both health endpoint paths for compatibility
	r.Engine.GET("/health", handler)
	r.Engine.GET("/api/health", handler)
}
