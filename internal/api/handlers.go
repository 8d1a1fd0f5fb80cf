// handlers.go - HTTP handlers for reconciliation and category assembly.

package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/ai"
	"github.com/bosocmputer/lab_report_reconciler/internal/category"
	"github.com/bosocmputer/lab_report_reconciler/internal/common"
	"github.com/bosocmputer/lab_report_reconciler/internal/dictionary"
	"github.com/bosocmputer/lab_report_reconciler/internal/jsonrecover"
	"github.com/bosocmputer/lab_report_reconciler/internal/merge"
	"github.com/bosocmputer/lab_report_reconciler/internal/pipeline"
	"github.com/bosocmputer/lab_report_reconciler/internal/record"
	"github.com/gin-gonic/gin"
)

// RequestTimeout bounds one reconcile request end to end.
const RequestTimeout = 5 * time.Minute

// ImagePayload is one base64-encoded page image.
type ImagePayload struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// ReconcileRequest is the body of POST /api/v1/reconcile.
type ReconcileRequest struct {
	Text string `json:"text"`
	// Candidates may be JSON strings holding raw model output or inline JSON values.
	Candidates []json.RawMessage `json:"candidates"`
	Categorize bool              `json:"categorize"`
	Images     []ImagePayload    `json:"images"`
}

// Handler serves the reconciliation API.
type Handler struct {
	engine  *pipeline.Engine
	dict    *dictionary.Dictionary
	policy  merge.Policy
	timeout time.Duration
}

// NewHandler wires the handlers to a shared engine and dictionary.
func NewHandler(engine *pipeline.Engine, dict *dictionary.Dictionary, policy merge.Policy) *Handler {
	return &Handler{engine: engine, dict: dict, policy: policy, timeout: RequestTimeout}
}

// NewRouter builds the gin engine with CORS and every route registered.
func NewRouter(h *Handler, extra ...func(*gin.Engine)) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware(configs.ALLOWED_ORIGINS))

	// Root endpoint for SSL verification
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/health", h.HealthHandler)

	v1 := router.Group("/api/v1")
	v1.POST("/reconcile", h.ReconcileHandler)
	v1.POST("/categorize", h.CategorizeHandler)
	v1.GET("/dictionary", h.DictionaryHandler)

	for _, register := range extra {
		register(router)
	}
	return router
}

func corsMiddleware(origins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origins)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// HealthHandler reports liveness and the size of the loaded dictionary.
func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"service":          "lab-report-reconciler",
		"version":          "1.0.0",
		"dictionary_names": h.dict.Len(),
	})
}

// DictionaryHandler reports the size of each dictionary subset.
func (h *Handler) DictionaryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"names":       h.dict.Len(),
		"heart":       len(h.dict.Heart()),
		"urine":       len(h.dict.Urine()),
		"other_fluid": len(h.dict.OtherFluid()),
		"blood":       len(h.dict.Blood()),
	})
}

// ReconcileHandler runs the full pipeline over the posted report text.
func (h *Handler) ReconcileHandler(c *gin.Context) {
	var req ReconcileRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if strings.TrimSpace(req.Text) == "" && len(req.Candidates) == 0 && len(req.Images) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Missing input",
			"details": "at least one of text, candidates or images is required",
		})
		return
	}

	images, err := decodeImages(req.Images)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid image payload",
			"details": err.Error(),
		})
		return
	}

	reqCtx := common.NewRequestContext("api/reconcile")
	reqCtx.LogInfo("📥 Reconcile request: %d chars, %d candidates, %d images",
		len(req.Text), len(req.Candidates), len(images))

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	result, err := h.engine.Run(ctx, pipeline.Request{
		Text:       req.Text,
		Images:     images,
		Candidates: candidateTexts(req.Candidates),
		Categorize: req.Categorize,
	}, reqCtx)
	if err != nil {
		status, message := http.StatusInternalServerError, "Reconciliation failed"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status, message = http.StatusRequestTimeout, "Request timeout"
		case errors.Is(err, context.Canceled):
			// nginx convention for client closed request
			status, message = 499, "Request cancelled"
		}
		reqCtx.LogWarning("⏱️ %s: %v", message, err)
		c.JSON(status, gin.H{
			"error":   message,
			"details": ai.UserFriendlyError(err),
			"partial": reqCtx.GetPartialSummary(),
		})
		return
	}

	summary := reqCtx.GetSummary()
	response := gin.H{
		"result": result.Output(),
		"stats":  result.Stats,
		"metadata": gin.H{
			"request_id":   reqCtx.RequestID,
			"processed_at": time.Now().Format(time.RFC3339),
			"duration_sec": summary["total_duration_sec"],
			"token_usage":  summary["token_usage"],
		},
	}
	if len(result.Previews) > 0 {
		response["previews"] = result.Previews
	}
	if result.EmptyReason != "" {
		response["empty_reason"] = result.EmptyReason
	}
	c.JSON(http.StatusOK, response)
}

// CategorizeRequest is the body of POST /api/v1/categorize.
type CategorizeRequest struct {
	// Data is raw model output (a JSON string) or an inline JSON value.
	Data json.RawMessage `json:"data"`
}

// CategorizeHandler groups an arbitrary extracted payload into categories.
func (h *Handler) CategorizeHandler(c *gin.Context) {
	var req CategorizeRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if len(req.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Missing input",
			"details": "data is required",
		})
		return
	}

	res := jsonrecover.Recover(c.Request.Context(), rawText(req.Data), ai.SchemaHint, jsonrecover.LocalRepair)
	if res.Value == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Unparseable data",
			"details": res.Preview,
		})
		return
	}

	cats := category.Assemble(res.Value, h.dict, h.policy)
	if cats == nil {
		cats = []*record.Category{}
	}
	c.JSON(http.StatusOK, gin.H{
		"result":  record.CategorizedResult{Tests: cats},
		"outcome": res.Outcome,
	})
}

// rawText unwraps a JSON string to its contents; any other JSON value is used as-is.
func rawText(msg json.RawMessage) string {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	return string(msg)
}

func candidateTexts(msgs []json.RawMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if text := rawText(msg); strings.TrimSpace(text) != "" && text != "null" {
			out = append(out, text)
		}
	}
	return out
}

func decodeImages(payloads []ImagePayload) ([]ai.BinaryFile, error) {
	files := make([]ai.BinaryFile, 0, len(payloads))
	for i, p := range payloads {
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, fmt.Errorf("image %d: invalid base64: %w", i, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("image %d: empty data", i)
		}
		mimeType := p.MIMEType
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		files = append(files, ai.BinaryFile{Name: p.Name, MIMEType: mimeType, Data: data})
	}
	return files, nil
}
