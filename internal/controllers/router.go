package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *RunsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/runs", c.RequireAuth(c.handleCreateRun))
	mux.HandleFunc("POST /api/runs/preview", c.RequireAuth(c.handlePreview))
	mux.HandleFunc("GET /api/runs/{id}", c.RequireAuth(c.handleGetRunById))
	mux.HandleFunc("GET /api/runs", c.RequireAuth(c.handleListRuns))
}
func (c *DigestController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/digest/settings", c.RequireAuth(c.handleGetSettings))
	mux.HandleFunc("PUT /api/digest/settings", c.RequireAuth(c.handlePutSettings))
}
