package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heartrisk-server/internal/analysis"
	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/export"
	"github.com/heartrisk-server/internal/service"
)

// maxImportSize bounds the size of an uploaded history document.
const maxImportSize = 32 << 20

// AbnormalRequest is the body of POST /api/v1/abnormal.
type AbnormalRequest struct {
	Feature string `json:"feature" binding:"required"`
	Value   any    `json:"value"`
}

// AbnormalResponse reports the classification of one value.
type AbnormalResponse struct {
	Feature  string          `json:"feature"`
	Value    any             `json:"value"`
	Abnormal bool            `json:"abnormal"`
	Status   analysis.Status `json:"status"`
	Range    *analysis.Range `json:"range,omitempty"`
}

// handleHealth reports service and storage health.
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	storage := "ok"
	code := http.StatusOK
	if err := s.history.Ping(c.Request.Context()); err != nil {
		s.log.WithError(err).Warn("Storage health check failed")
		status = "degraded"
		storage = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"storage":   storage,
		"timestamp": time.Now().UTC(),
		"version":   s.version,
	})
}

// handleReference returns the reference tables used for analysis.
func (s *Server) handleReference(c *gin.Context) {
	ref := s.assessments.Reference()
	c.JSON(http.StatusOK, gin.H{
		"features":         ref.FeatureList(),
		"numeric_features": ref.Numeric,
		"baseline":         ref.BaselineValues(),
		"normal_ranges":    s.assessments.Classifier().Table().Map(),
		"categories":       service.CategoricalValues(),
	})
}

// handleAnalyze runs a full assessment for one submission.
func (s *Server) handleAnalyze(c *gin.Context) {
	var input map[string]any
	if err := c.ShouldBindJSON(&input); err != nil {
		s.badRequest(c, "Request body must be a JSON object of feature values", err)
		return
	}

	assessment, err := s.assessments.Assess(c.Request.Context(), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// handleAnalysis explains an existing prediction result. The reference
// baseline is used when the result carries none.
func (s *Server) handleAnalysis(c *gin.Context) {
	var result domain.PredictionResult
	if err := c.ShouldBindJSON(&result); err != nil {
		s.badRequest(c, "Request body must be a prediction result", err)
		return
	}
	if result.Prediction != "" {
		if err := result.Validate(); err != nil {
			s.respondError(c, err)
			return
		}
	}
	if len(result.Baseline) == 0 {
		result.Baseline = s.assessments.Reference().BaselineValues()
	}

	c.JSON(http.StatusOK, s.assessments.Analyze(&result))
}

// handleAbnormal classifies a single value.
func (s *Server) handleAbnormal(c *gin.Context) {
	var req AbnormalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Request body must contain a feature and a value", err)
		return
	}

	abnormal, status := s.assessments.CheckAbnormal(req.Feature, req.Value)
	resp := AbnormalResponse{
		Feature:  req.Feature,
		Value:    req.Value,
		Abnormal: abnormal,
		Status:   status,
	}
	if r, ok := s.assessments.Classifier().Table().Lookup(req.Feature); ok {
		resp.Range = &r
	}
	c.JSON(http.StatusOK, resp)
}

// handleListHistory returns a page of history records.
func (s *Server) handleListHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", service.DefaultPageSize)
	if err != nil {
		s.badRequest(c, "limit must be an integer", err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		s.badRequest(c, "offset must be an integer", err)
		return
	}

	page, err := s.history.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// handleGetHistory returns one record.
func (s *Server) handleGetHistory(c *gin.Context) {
	entry, err := s.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// handleDeleteHistory removes one record.
func (s *Server) handleDeleteHistory(c *gin.Context) {
	id := c.Param("id")
	if err := s.history.Delete(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// handleDeleteAllHistory removes every record.
func (s *Server) handleDeleteAllHistory(c *gin.Context) {
	n, err := s.history.DeleteAll(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// handleExportHistory downloads the history as JSON or XLSX.
func (s *Server) handleExportHistory(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	stamp := time.Now().UTC().Format("20060102-150405")

	switch format {
	case "json":
		var buf bytes.Buffer
		if err := s.history.ExportJSON(c.Request.Context(), &buf); err != nil {
			s.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="heartrisk-history-%s.json"`, stamp))
		c.Data(http.StatusOK, "application/json", buf.Bytes())
	case "xlsx":
		data, err := s.history.ExportXLSX(c.Request.Context())
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="heartrisk-history-%s.xlsx"`, stamp))
		c.Data(http.StatusOK, export.ContentType, data)
	default:
		s.badRequest(c, "format must be json or xlsx", nil)
	}
}

// handleImportHistory loads a JSON export, either as the raw request body or
// as a multipart "file" field.
func (s *Server) handleImportHistory(c *gin.Context) {
	var reader io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			s.badRequest(c, "multipart upload must contain a file field", err)
			return
		}
		f, err := fh.Open()
		if err != nil {
			s.badRequest(c, "could not read uploaded file", err)
			return
		}
		defer f.Close()
		reader = f
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxImportSize))
	if err != nil {
		s.badRequest(c, "could not read request body", err)
		return
	}
	if !json.Valid(data) {
		s.badRequest(c, "import document must be valid JSON", nil)
		return
	}

	imported, skipped, err := s.history.ImportJSON(c.Request.Context(), bytes.NewReader(data))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
