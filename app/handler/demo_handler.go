package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"poolwatch/pkg/demo"
)

// DemoHandler controls the demo event generator
type DemoHandler struct {
	generator *demo.Generator
}

// NewDemoHandler creates a demo handler. A nil generator answers 503.
func NewDemoHandler(generator *demo.Generator) *DemoHandler {
	return &DemoHandler{generator: generator}
}

// Delete removes a demo resource; it is reported once more as Terminating
// @Router /api/v1/demo/{kind}/{name} [delete]
func (h *DemoHandler) Delete(c *gin.Context) {
	if h.generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "demo generator is disabled"})
		return
	}
	kind, ok := kindParam(c)
	if !ok {
		return
	}

	if err := h.generator.Delete(c.Request.Context(), kind, c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "name": c.Param("name"), "deleted": true})
}
