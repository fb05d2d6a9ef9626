package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/labels"
)

func stub(t *testing.T, classes ...int) *StubPredictor {
	t.Helper()
	enc, err := labels.NewEncoder(classes)
	require.NoError(t, err)
	return &StubPredictor{Encoder: enc}
}

func TestStubPredictor(t *testing.T) {
	p := stub(t, 1, 5, 8, 13, 21)

	got, err := p.Predict(context.Background(), Input{Text: "a fishing vessel at dawn"})
	require.NoError(t, err)
	require.Len(t, got.Labels, 3)
	require.Len(t, got.Scores, 3)

	assert.True(t, sort.IsSorted(sort.Reverse(sort.Float64Slice(got.Scores))))
	for i, id := range got.Labels {
		assert.Contains(t, []int{1, 5, 8, 13, 21}, id)
		assert.GreaterOrEqual(t, got.Scores[i], 0.0)
		assert.Less(t, got.Scores[i], 1.0)
	}

	again, err := p.Predict(context.Background(), Input{Text: "a fishing vessel at dawn"})
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestStubPredictorLimits(t *testing.T) {
	p := stub(t, 2, 4)
	p.TopK = 10

	got, err := p.Predict(context.Background(), Input{Image: []byte{0x89, 'P', 'N', 'G'}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{2, 4}, got.Labels)

	empty := stub(t)
	got, err = empty.Predict(context.Background(), Input{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, got.Labels)

	_, err = p.Predict(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	s := &Server{Predictor: stub(t, 1, 5, 8), Version: "1.2.3"}
	return s.NewMux()
}

func multipartBody(t *testing.T, fileField string, file []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, "photo.jpg")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodePrediction(t *testing.T, rr *httptest.ResponseRecorder) Prediction {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var p Prediction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestProbesAndVersion(t *testing.T) {
	mux := newTestMux(t)

	for path, body := range map[string]string{"/healthz": "ok", "/readyz": "ready"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, body, rr.Body.String())
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.JSONEq(t, `{"version":"1.2.3"}`, rr.Body.String())
}

func TestReadyzFailure(t *testing.T) {
	s := &Server{Predictor: stub(t, 1), Ready: func(context.Context) error { return errors.New("db down") }}
	rr := httptest.NewRecorder()
	s.NewMux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestPredictText(t *testing.T) {
	mux := newTestMux(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/models/text/predict", strings.NewReader(`{"text":"trawler"}`))
	mux.ServeHTTP(rr, req)
	p := decodePrediction(t, rr)
	assert.Len(t, p.Labels, 3)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/models/text/predict", strings.NewReader(`{"text":""}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/models/text/predict", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPredictImage(t *testing.T) {
	mux := newTestMux(t)

	body, ctype := multipartBody(t, "file", []byte("jpeg bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/models/image/predict", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	p := decodePrediction(t, rr)
	assert.Len(t, p.Scores, 3)

	body, ctype = multipartBody(t, "", nil, map[string]string{"text": "no file"})
	req = httptest.NewRequest(http.MethodPost, "/models/image/predict", body)
	req.Header.Set("Content-Type", ctype)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPredictMultimodal(t *testing.T) {
	mux := newTestMux(t)

	body, ctype := multipartBody(t, "image", []byte("jpeg bytes"), map[string]string{"text": "longliner"})
	req := httptest.NewRequest(http.MethodPost, "/models/multimodal/predict", body)
	req.Header.Set("Content-Type", ctype)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	multi := decodePrediction(t, rr)

	imageOnly, err := stub(t, 1, 5, 8).Predict(context.Background(), Input{Image: []byte("jpeg bytes")})
	require.NoError(t, err)
	assert.NotEqual(t, imageOnly.Scores, multi.Scores, "text must contribute to the score")

	body, ctype = multipartBody(t, "image", []byte("jpeg bytes"), nil)
	req = httptest.NewRequest(http.MethodPost, "/models/multimodal/predict", body)
	req.Header.Set("Content-Type", ctype)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestMux(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/models/text/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
