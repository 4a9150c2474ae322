package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docrelay/internal/models"
	"docrelay/internal/relay"
	"docrelay/internal/workspace"
)

const (
	maxPromptBytes    = 1 << 20
	multipartOverhead = 1 << 20
)

var (
	errNoFile       = errors.New("No file uploaded")
	errTooManyFiles = errors.New("exactly one file must be uploaded")
)

type proxyUpload struct {
	file      *spooledFile
	prompt    string
	hasPrompt bool
}

func (h *Handler) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", h.allowOrigin)
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition")
		c.Next()
	}
}

func (h *Handler) preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

func methodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
}

// processUpload buffers the single uploaded file to disk, relays it with the
// prompt and answers with the webhook's document or text.
func (h *Handler) processUpload(c *gin.Context) {
	session, ok := h.currentSessionOrAbort(c)
	if !ok {
		return
	}
	logger := requestLogger(c)

	// Hard cap on the raw body; the file ceiling proper is enforced while spooling.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.relay.MaxBytes()+multipartOverhead)

	upload, err := h.readUpload(c)
	if upload != nil && upload.file != nil {
		defer upload.file.Remove()
	}
	if err != nil {
		h.rejectUpload(c, err)
		return
	}

	info := upload.file.Info()
	if info.Size > h.proxyMaxBytes {
		h.rejectOversize(c, info.Size)
		return
	}
	if err := relay.Validate(info, h.proxyMaxBytes); err != nil {
		h.metrics.ProxyRejected("invalid")
		c.JSON(relay.HTTPStatus(err), gin.H{"success": false, "error": relay.Describe(err)})
		return
	}

	body, err := upload.file.Open()
	if err != nil {
		logger.Error("reopen spooled upload failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read uploaded file"})
		return
	}
	defer body.Close()

	promptText := upload.prompt
	if !upload.hasPrompt {
		promptText = h.workspaces.EffectivePrompt(session.ID)
	}
	job := &models.UploadJob{File: info, Prompt: promptText, Body: body, StartedAt: time.Now().UTC()}

	logger.Info("relaying upload", "file", info.Name, "size", info.Size, "mime", info.MimeType)
	result, err := h.workspaces.Run(c.Request.Context(), session.ID, job, h.relay.Submit)
	if err != nil {
		if errors.Is(err, workspace.ErrBusy) {
			h.metrics.ProxyRejected("busy")
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	h.writeResult(c, result)
}

func (h *Handler) writeResult(c *gin.Context, result *models.RelayResult) {
	switch result.Kind {
	case models.ResultBinary:
		contentType := result.ContentType
		if contentType == "" {
			contentType = "application/pdf"
		}
		c.Header("Content-Disposition", attachmentDisposition(result.SuggestedFilename))
		c.Data(http.StatusOK, contentType, result.Bytes)
	case models.ResultText:
		if result.ParsedAsJSON {
			c.JSON(http.StatusOK, gin.H{"success": true, "result": json.RawMessage(result.Content)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "result": result.Content})
	default:
		requestLogger(c).Warn("relay failed", "error", result.Err)
		c.JSON(relay.HTTPStatus(result.Err), gin.H{"success": false, "error": result.Message})
	}
}

// readUpload walks the multipart body, spooling the file part and keeping the
// prompt field. The returned upload may hold a file even when err is set.
func (h *Handler) readUpload(c *gin.Context) (*proxyUpload, error) {
	reader, err := c.Request.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("read multipart body: %w", err)
	}
	upload := &proxyUpload{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return upload, fmt.Errorf("read multipart part: %w", err)
		}
		switch part.FormName() {
		case "file":
			if upload.file != nil {
				part.Close()
				return upload, errTooManyFiles
			}
			upload.file, err = spool(h.tempDir, part, h.proxyMaxBytes)
			part.Close()
			if err != nil {
				return upload, err
			}
		case "prompt":
			data, err := io.ReadAll(io.LimitReader(part, maxPromptBytes))
			part.Close()
			if err != nil {
				return upload, fmt.Errorf("read prompt field: %w", err)
			}
			upload.prompt = string(data)
			upload.hasPrompt = true
		default:
			part.Close()
		}
	}
	if upload.file == nil {
		return upload, errNoFile
	}
	return upload, nil
}

func (h *Handler) rejectUpload(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		// The body was cut off mid-file, so the file's size is unknown.
		h.rejectOversize(c, -1)
	case errors.Is(err, errNoFile):
		h.metrics.ProxyRejected("no_file")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": errNoFile.Error()})
	case errors.Is(err, errTooManyFiles):
		h.metrics.ProxyRejected("too_many_files")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		h.metrics.ProxyRejected("not_multipart")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "request must be multipart/form-data"})
	default:
		requestLogger(c).Error("buffer upload failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to buffer upload"})
	}
}

// rejectOversize answers 413. A negative size leaves file_size out.
func (h *Handler) rejectOversize(c *gin.Context, size int64) {
	h.metrics.ProxyRejected("oversize")
	body := gin.H{
		"success":  false,
		"error":    "File too large",
		"max_size": relay.FormatLimit(h.proxyMaxBytes),
	}
	if size >= 0 {
		body["file_size"] = relay.FormatMB(size)
	}
	c.JSON(http.StatusRequestEntityTooLarge, body)
}

// attachmentDisposition quotes name for a Content-Disposition header,
// replacing characters that would break the quoted string.
func attachmentDisposition(name string) string {
	safe := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf(`attachment; filename="%s"`, safe)
}
