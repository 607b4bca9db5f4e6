package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"poolwatch/pkg/logger"
	"poolwatch/pkg/reconcile"
)

// FilterHandler exposes the filter state machine
type FilterHandler struct {
	engine *reconcile.Engine
}

// NewFilterHandler creates a new filter handler
func NewFilterHandler(engine *reconcile.Engine) *FilterHandler {
	return &FilterHandler{engine: engine}
}

// FilterResponse is returned by every filter mutation
type FilterResponse struct {
	Changed bool                     `json:"changed"`
	Filters reconcile.FilterSnapshot `json:"filters"`
}

func (h *FilterHandler) respond(c *gin.Context, changed bool, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, FilterResponse{Changed: changed, Filters: h.engine.FilterSnapshot()})
}

// Get returns the filter state
// @Router /api/v1/filters [get]
func (h *FilterHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.FilterSnapshot())
}

// Add includes a label
// @Router /api/v1/filters/{kind}/add/{label} [post]
func (h *FilterHandler) Add(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	changed, err := h.engine.AddFilter(kind, c.Param("label"))
	h.respond(c, changed, err)
}

// Remove drops a label. Under show-all this switches to every other known label.
// @Router /api/v1/filters/{kind}/remove/{label} [post]
func (h *FilterHandler) Remove(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	changed, err := h.engine.RemoveFilter(kind, c.Param("label"))
	h.respond(c, changed, err)
}

// Toggle flips show-all
// @Router /api/v1/filters/{kind}/toggle [post]
func (h *FilterHandler) Toggle(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	err := h.engine.ToggleShowAll(kind)
	if err == nil {
		logger.DebugCtx(c.Request.Context(), "toggled show-all for %s", kind)
	}
	h.respond(c, err == nil, err)
}

// Clear empties the include list of one kind
// @Router /api/v1/filters/{kind}/clear [post]
func (h *FilterHandler) Clear(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	changed, err := h.engine.ClearFilter(kind)
	h.respond(c, changed, err)
}

// ClearAll empties the include list of every kind
// @Router /api/v1/filters/clear [post]
func (h *FilterHandler) ClearAll(c *gin.Context) {
	h.respond(c, h.engine.ClearAllFilters(), nil)
}
