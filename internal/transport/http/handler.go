// Package http implements the /eval HTTP front end.
package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Potat-Industries/eval-server/internal/submission"
	"github.com/Potat-Industries/eval-server/internal/transport"
)

const maxBodyBytes = 20 << 20 // ~20 MiB

const unauthorizedMessage = "not today my little bish xqcL"

// evalRequest is the POST /eval body.
type evalRequest struct {
	Code string                 `json:"code"`
	Msg  map[string]interface{} `json:"msg"`
}

// Handler wires the /eval route onto a gin engine.
type Handler struct {
	pipeline *submission.Pipeline
	token    string
}

func NewHandler(pipeline *submission.Pipeline, token string) *Handler {
	return &Handler{pipeline: pipeline, token: token}
}

// Register mounts POST /eval on router.
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/eval", h.handleEval)
}

func (h *Handler) handleEval(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	if !transport.CheckToken(h.token, bearerToken(c.Request.Header.Get("Authorization"))) {
		c.JSON(http.StatusTeapot, submission.Response{
			Data:       []string{},
			StatusCode: http.StatusTeapot,
			Duration:   0,
			Errors:     []submission.ErrorDetail{{Message: unauthorizedMessage}},
		})
		return
	}

	var req evalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, submission.Response{
			Data:       []string{},
			StatusCode: http.StatusBadRequest,
			Errors:     []submission.ErrorDetail{{Message: err.Error()}},
		})
		return
	}

	resp := h.pipeline.Submit(c.Request.Context(), req.Code, req.Msg)
	c.JSON(resp.StatusCode, resp)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
