package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"sigs.k8s.io/yaml"

	"poolwatch/pkg/events"
	"poolwatch/pkg/logger"
	"poolwatch/pkg/reconcile"
)

// ResourceHandler serves the reconciled snapshot
type ResourceHandler struct {
	engine *reconcile.Engine
}

// NewResourceHandler creates a new resource handler
func NewResourceHandler(engine *reconcile.Engine) *ResourceHandler {
	return &ResourceHandler{engine: engine}
}

// ListResponse is the body of a list call
type ListResponse struct {
	Kind     events.Kind        `json:"kind"`
	Items    []reconcile.Entity `json:"items"`
	Count    int                `json:"count"`
	Revision uint64             `json:"revision"`
}

// List lists entities of a kind
// @Summary List resources
// @Description Entities of a kind sorted by label. Only those passing the filter unless all=true.
// @Tags Resources
// @Produce json
// @Param kind path string true "applications, datasets, workerpools or taskqueues"
// @Param all query bool false "Ignore the filter"
// @Success 200 {object} ListResponse
// @Router /api/v1/resources/{kind} [get]
func (h *ResourceHandler) List(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}

	all, _ := strconv.ParseBool(c.Query("all"))
	revision := h.engine.Revision()

	var (
		items []reconcile.Entity
		err   error
	)
	if all {
		items, err = h.engine.ListAll(kind)
	} else {
		items, err = h.engine.ListVisible(kind)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{Kind: kind, Items: items, Count: len(items), Revision: revision})
}

func (h *ResourceHandler) lookup(c *gin.Context) (reconcile.Entity, bool) {
	kind, ok := kindParam(c)
	if !ok {
		return nil, false
	}
	label := c.Param("label")

	entity, found, err := h.engine.GetOne(kind, label)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found", "kind": kind, "label": label})
		return nil, false
	}
	return entity, true
}

// Get returns one entity
// @Summary Get resource
// @Tags Resources
// @Produce json
// @Param kind path string true "Resource kind"
// @Param label path string true "Resource label"
// @Router /api/v1/resources/{kind}/{label} [get]
func (h *ResourceHandler) Get(c *gin.Context) {
	entity, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, entity)
}

// GetYAML renders one entity as YAML (similar to kubectl get -o yaml)
// @Router /api/v1/resources/{kind}/{label}/yaml [get]
func (h *ResourceHandler) GetYAML(c *gin.Context) {
	entity, ok := h.lookup(c)
	if !ok {
		return
	}

	data, err := yaml.Marshal(entity)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to render %s %s as yaml: %v",
			entity.EntityKind(), entity.EntityLabel(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", data)
}

// WorkerPoolModel returns the per-worker queue model of a pool
// @Router /api/v1/workerpools/{label}/model [get]
func (h *ResourceHandler) WorkerPoolModel(c *gin.Context) {
	label := c.Param("label")
	if _, found, _ := h.engine.GetOne(events.KindWorkerPools, label); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker pool not found", "label": label})
		return
	}
	c.JSON(http.StatusOK, h.engine.WorkerPoolModel(label))
}

// Status reports engine counters and stream errors
// @Router /api/v1/status [get]
func (h *ResourceHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status())
}
