package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"poolwatch/pkg/events"
	"poolwatch/pkg/logger"
	"poolwatch/pkg/stream"
)

// MaxEventBody bounds one ingested message
const MaxEventBody = 1 << 20

// StreamHandler accepts events pushed by producers over HTTP or a websocket
// and forwards them, unchanged, to the configured publisher
type StreamHandler struct {
	publisher stream.Publisher
	limits    events.Limits
	upgrader  websocket.Upgrader
}

// NewStreamHandler creates a new stream ingestion handler validating with limits
func NewStreamHandler(publisher stream.Publisher, limits events.Limits) *StreamHandler {
	return &StreamHandler{
		publisher: publisher,
		limits:    limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// IngestResponse acknowledges one ingested message
type IngestResponse struct {
	Stream   events.StreamKind `json:"stream"`
	Accepted int               `json:"accepted"`
	Error    string            `json:"error,omitempty"`
}

// ingest validates data and publishes it unchanged, returning the number of events it holds
func (h *StreamHandler) ingest(c *gin.Context, st events.StreamKind, data []byte) (int, error) {
	evs, err := events.DecodeWithLimits(st, data, h.limits)
	if err != nil {
		return 0, err
	}
	if err := h.publisher.Publish(c.Request.Context(), st, data); err != nil {
		return 0, err
	}
	return len(evs), nil
}

// Ingest accepts one message (an event object or a batch array)
// @Summary Ingest events
// @Tags Streams
// @Accept json
// @Produce json
// @Param stream path string true "datasets, queues, pools or applications"
// @Success 202 {object} IngestResponse
// @Router /api/v1/streams/{stream}/events [post]
func (h *StreamHandler) Ingest(c *gin.Context) {
	st, err := events.ParseStreamKind(c.Param("stream"))
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxEventBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.ingest(c, st, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, IngestResponse{Stream: st, Accepted: n})
}

// Socket accepts a stream of messages over a websocket. Every message is
// acknowledged with an IngestResponse; invalid messages do not close the socket.
// @Router /api/v1/streams/{stream}/ws [get]
func (h *StreamHandler) Socket(c *gin.Context) {
	st, err := events.ParseStreamKind(c.Param("stream"))
	if err != nil {
		respondError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(MaxEventBody)

	logger.InfoCtx(c.Request.Context(), "producer connected on %s stream from %s", st, c.ClientIP())
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WarnCtx(c.Request.Context(), "producer on %s stream disconnected: %v", st, err)
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		ack := IngestResponse{Stream: st}
		ack.Accepted, err = h.ingest(c, st, data)
		if err != nil {
			ack.Error = err.Error()
		}
		if err := ws.WriteJSON(ack); err != nil {
			logger.WarnCtx(c.Request.Context(), "failed to acknowledge %s message: %v", st, err)
			return
		}
	}
}
