// Package api exposes the usage gate, the upload ingestor and the
// completion service over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiliankoe/promptgate/internal/completion"
	"github.com/kiliankoe/promptgate/internal/ingest"
	"github.com/kiliankoe/promptgate/internal/prompt"
	"github.com/kiliankoe/promptgate/internal/uploads"
	"github.com/kiliankoe/promptgate/internal/usage"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	Gate     *usage.Gate
	Service  *completion.Service
	Uploads  *uploads.Store
	MaxBytes int64
}

type setKeyReq struct {
	APIKey string `json:"api_key"`
}

type callReq struct {
	SystemPrompt string         `json:"system_prompt"`
	UserPrompt   string         `json:"user_prompt"`
	Sources      prompt.Sources `json:"sources"`
}

type callWithSourceReq struct {
	SystemPrompt  string `json:"system_prompt"`
	UserPrompt    string `json:"user_prompt"`
	ProcessedData string `json:"processed_data"`
}

// Register mounts every /api route and /health on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	g := r.Group("/api")
	g.POST("/set-api-key", h.setAPIKey)
	g.POST("/remove-api-key", h.removeAPIKey)
	g.GET("/check-api-key", h.checkAPIKey)
	g.POST("/reset-count", h.resetCount)
	g.GET("/get-count", h.getCount)
	g.POST("/upload", h.upload)
	g.POST("/call-model", h.callModel)
	g.POST("/call-model-with-source", h.callModelWithSource)
}

func (h *Handler) setAPIKey(c *gin.Context) {
	var req setKeyReq
	if err := c.ShouldBindJSON(&req); err != nil || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	h.Gate.SetOverride(req.APIKey)
	log.Info().Str("key", usage.MaskKey(req.APIKey)).Msg("custom api key set")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) removeAPIKey(c *gin.Context) {
	h.Gate.ClearOverride()
	log.Info().Msg("custom api key removed")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) checkAPIKey(c *gin.Context) {
	c.JSON(http.StatusOK, h.Gate.Status())
}

func (h *Handler) resetCount(c *gin.Context) {
	h.Gate.Reset()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) getCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.Gate.Count()})
}

// multipartSlack covers form fields and part headers on top of the file.
const multipartSlack = 64 << 10

func (h *Handler) upload(c *gin.Context) {
	if h.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBytes+multipartSlack)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		if tooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file part"})
		return
	}
	if fh.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
		return
	}
	if h.MaxBytes > 0 && fh.Size > h.MaxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	kind, err := ingest.ParseType(c.PostForm("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	path, err := h.Uploads.Save(fh.Filename, data)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, uploads.ErrInvalidName) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	processed, err := ingest.Ingest(data, kind)
	if err != nil {
		log.Warn().Err(err).Str("file", fh.Filename).Str("type", string(kind)).Msg("ingest failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("file", fh.Filename).Str("type", string(kind)).Str("mime", ingest.Detect(data)).
		Int("chars", len(processed)).Msg("upload processed")
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"filename":       fh.Filename,
		"filepath":       path,
		"processed_data": processed,
	})
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// badBody rejects an undecodable completion request before it reaches the
// gate, so it is not charged against the quota.
func badBody(c *gin.Context, route string, err error) {
	log.Debug().Err(err).Str("route", route).Msg("unreadable request body")
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error(), "success": false})
}

// Completion routes answer 200 once the body is decoded; callers branch on
// success.
func (h *Handler) callModel(c *gin.Context) {
	var req callReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, "call-model", err)
		return
	}
	res := h.Service.Call(c.Request.Context(), req.SystemPrompt, req.UserPrompt, req.Sources)
	respond(c, res)
}

func (h *Handler) callModelWithSource(c *gin.Context) {
	var req callWithSourceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, "call-model-with-source", err)
		return
	}
	res := h.Service.CallWithSource(c.Request.Context(), req.SystemPrompt, req.UserPrompt, req.ProcessedData)
	respond(c, res)
}

func respond(c *gin.Context, res completion.Result) {
	c.SetCookie("session_active", "true", 0, "/", "", false, false)
	c.JSON(http.StatusOK, res)
}
