package main

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMedia struct {
	keys []string
}

func (f *fakeMedia) Store(_ context.Context, key, _ string, _ []byte) (string, error) {
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func multipartUpload(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleUploadStoresAndReturnsRef(t *testing.T) {
	media := &fakeMedia{}
	s := &Server{log: zap.NewNop().Sugar(), media: media}

	rec := httptest.NewRecorder()
	s.handleUpload(rec, multipartUpload(t, []byte("small file")))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, media.keys, 1)
	require.Contains(t, rec.Body.String(), media.keys[0])
}

func TestHandleUploadRejectsOversize(t *testing.T) {
	media := &fakeMedia{}
	s := &Server{log: zap.NewNop().Sugar(), media: media}

	rec := httptest.NewRecorder()
	s.handleUpload(rec, multipartUpload(t, bytes.Repeat([]byte("x"), maxUploadBytes+1)))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Empty(t, media.keys)
}

func TestHandleUploadUnconfigured(t *testing.T) {
	s := &Server{log: zap.NewNop().Sugar()}

	rec := httptest.NewRecorder()
	s.handleUpload(rec, multipartUpload(t, []byte("x")))
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}
