package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartrisk-server/internal/config"
	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/export"
	"github.com/heartrisk-server/internal/history"
	"github.com/heartrisk-server/internal/prediction"
	"github.com/heartrisk-server/internal/reference"
	"github.com/heartrisk-server/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPredictor struct {
	result *prediction.Prediction
	err    error
}

func (p *stubPredictor) Predict(ctx context.Context, features map[string]any) (*prediction.Prediction, error) {
	return p.result, p.err
}

type testEnv struct {
	handler   http.Handler
	store     *history.SQLiteStore
	predictor *stubPredictor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("HEARTRISK_RATE_LIMIT_ENABLED", "false")

	cfg, err := config.NewManager()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	predictor := &stubPredictor{
		result: &prediction.Prediction{Probability: 0.82, Risk: domain.HighRisk, Confidence: 0.82},
	}
	ref := reference.Default()
	assessments, err := service.NewAssessmentService(ref, predictor, store, logger)
	require.NoError(t, err)
	historySvc, err := service.NewHistoryService(store, ref, logger)
	require.NoError(t, err)

	srv := NewServer(cfg, assessments, historySvc, logger)
	return &testEnv{handler: srv.Handler(), store: store, predictor: predictor}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func submission() map[string]any {
	return map[string]any{
		"Age":            54,
		"RestingBP":      150,
		"Cholesterol":    195,
		"MaxHR":          122,
		"Oldpeak":        1.5,
		"FastingBS":      0,
		"Sex":            "M",
		"ChestPainType":  "ASY",
		"RestingECG":     "Normal",
		"ExerciseAngina": "Y",
		"ST_Slope":       "Flat",
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error domain.APIError `json:"error"`
	}
	decode(t, w, &body)
	return body.Error.Code
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["storage"])
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestHealth_StorageDown(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	w := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestReference(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/reference", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Features []string                  `json:"features"`
		Baseline map[string]any            `json:"baseline"`
		Ranges   map[string]map[string]any `json:"normal_ranges"`
	}
	decode(t, w, &body)
	assert.Len(t, body.Features, 11)
	assert.Equal(t, float64(180), body.Baseline["Cholesterol"])
	assert.Equal(t, float64(200), body.Ranges["Cholesterol"]["max"])
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/analyze", submission())

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var a service.Assessment
	decode(t, w, &a)
	assert.Equal(t, domain.HighRisk, a.Result.Prediction)
	assert.NotEmpty(t, a.RecordID)
	require.Len(t, a.ContributingFactors, 5)
	assert.Equal(t, "RestingBP", a.ContributingFactors[0].Feature)
	assert.True(t, a.AbnormalFlags["RestingBP"])
	assert.NotEmpty(t, a.Suggestions)

	count, err := env.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		predErr  error
		wantCode int
		wantErr  string
	}{
		{
			name:     "not an object",
			body:     []int{1, 2},
			wantCode: http.StatusBadRequest,
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name: "validation failure",
			body: func() map[string]any {
				s := submission()
				s["Sex"] = "X"
				return s
			}(),
			wantCode: http.StatusBadRequest,
			wantErr:  domain.ErrValidation,
		},
		{
			name:     "prediction service down",
			body:     submission(),
			predErr:  domain.ErrPredictionUnavailable,
			wantCode: http.StatusBadGateway,
			wantErr:  domain.ErrPrediction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.predErr != nil {
				env.predictor.result = nil
				env.predictor.err = tt.predErr
			}

			w := env.do(t, http.MethodPost, "/api/v1/analyze", tt.body)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantErr, errorCode(t, w))
		})
	}
}

func TestAnalysis(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/analysis", map[string]any{
		"prediction": "Low Risk",
		"confidence": 0.6,
		"input":      map[string]any{"Age": 40, "Cholesterol": 200},
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		TotalDeviation      float64 `json:"total_deviation"`
		ContributingFactors []struct {
			Feature    string  `json:"feature"`
			Percentage float64 `json:"percentage"`
		} `json:"contributing_factors"`
	}
	decode(t, w, &body)
	assert.InDelta(t, 30, body.TotalDeviation, 1e-9, "baseline falls back to the reference")
	assert.Equal(t, "Cholesterol", body.ContributingFactors[0].Feature)
	assert.InDelta(t, 66.7, body.ContributingFactors[0].Percentage, 1e-9)
}

func TestAnalysis_InvalidPrediction(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/analysis", map[string]any{
		"prediction": "Medium Risk",
		"input":      map[string]any{"Age": 40},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrInvalidInput, errorCode(t, w))
}

func TestAbnormal(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		body         map[string]any
		wantAbnormal bool
		wantStatus   string
		wantRange    bool
	}{
		{map[string]any{"feature": "Cholesterol", "value": 201}, true, "abnormal", true},
		{map[string]any{"feature": "Cholesterol", "value": 200}, false, "normal", true},
		{map[string]any{"feature": "Age", "value": "old"}, false, "unknown", true},
		{map[string]any{"feature": "Sex", "value": "M"}, false, "no_range", false},
	}

	for _, tt := range tests {
		w := env.do(t, http.MethodPost, "/api/v1/abnormal", tt.body)
		require.Equal(t, http.StatusOK, w.Code)

		var body AbnormalResponse
		decode(t, w, &body)
		assert.Equal(t, tt.wantAbnormal, body.Abnormal, "%v", tt.body)
		assert.Equal(t, tt.wantStatus, string(body.Status), "%v", tt.body)
		assert.Equal(t, tt.wantRange, body.Range != nil, "%v", tt.body)
	}

	w := env.do(t, http.MethodPost, "/api/v1/abnormal", map[string]any{"value": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func seed(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.Save(ctx, &domain.HistoryRecord{
		ID: "older", Prediction: domain.LowRisk, Confidence: 0.7,
		Input: map[string]any{"Age": 70.0}, CreatedAt: base,
	}))
	require.NoError(t, env.store.Save(ctx, &domain.HistoryRecord{
		ID: "newer", Prediction: domain.HighRisk, Confidence: 0.9,
		Input: map[string]any{"Age": 70.0}, CreatedAt: base.Add(time.Hour),
	}))
}

func TestHistory_ListGetDelete(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)

	w := env.do(t, http.MethodGet, "/api/v1/history?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Records []struct {
			ID            string          `json:"id"`
			AbnormalFlags map[string]bool `json:"abnormal_flags"`
		} `json:"records"`
		Total int64 `json:"total"`
	}
	decode(t, w, &page)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "newer", page.Records[0].ID)
	assert.True(t, page.Records[0].AbnormalFlags["Age"])
	assert.Nil(t, page.Records[1].AbnormalFlags)

	w = env.do(t, http.MethodGet, "/api/v1/history/older", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/history/older", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/history/older", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrNotFoundCode, errorCode(t, w))

	w = env.do(t, http.MethodDelete, "/api/v1/history/older", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistory_InvalidPaging(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/history?limit=ten", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistory_DeleteAll(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)

	w := env.do(t, http.MethodDelete, "/api/v1/history", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted": 2}`, w.Body.String())
}

func TestHistory_Export(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env)

	w := env.do(t, http.MethodGet, "/api/v1/history/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".json")
	assert.Contains(t, w.Body.String(), `"count": 2`)

	w = env.do(t, http.MethodGet, "/api/v1/history/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = env.do(t, http.MethodGet, "/api/v1/history/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistory_Import(t *testing.T) {
	src := newTestEnv(t)
	seed(t, src)
	exported := src.do(t, http.MethodGet, "/api/v1/history/export", nil).Body.Bytes()

	dst := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/history/import", bytes.NewReader(exported))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	dst.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"imported": 2, "skipped": 0}`, w.Body.String())

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", "history.json")
	require.NoError(t, err)
	_, err = part.Write(exported)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req = httptest.NewRequest(http.MethodPost, "/api/v1/history/import", &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = httptest.NewRecorder()
	dst.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"imported": 0, "skipped": 2}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/v1/history/import", bytes.NewBufferString("{oops"))
	w = httptest.NewRecorder()
	dst.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}
