package outbound_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haiku-connector/gateway/internal/fileparts"
	"github.com/haiku-connector/gateway/internal/outbound"
)

func TestDoPlainRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "v", r.Header.Get("k"))
		w.WriteHeader(201)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := outbound.New(zap.NewNop())
	status, body, err := e.Do(context.Background(), srv.URL, "GET", map[string]string{"k": "v"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 201, status)
	assert.Equal(t, "ok", string(body))
}

func TestDoFilePartsEncodesTextFieldsAndFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "1", r.FormValue("a"))

		fhs := r.MultipartForm.File["file"]
		require.Len(t, fhs, 1)
		assert.Equal(t, "x.txt", fhs[0].Filename)

		f, err := fhs[0].Open()
		require.NoError(t, err)
		defer f.Close()
		got, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "hi", string(got))

		w.WriteHeader(200)
	}))
	defer srv.Close()

	e := outbound.New(zap.NewNop())
	parts := fileparts.FileParts{{FileName: "x.txt", MimeStr: "text/plain", Bytes: []byte("hi")}}
	status, _, err := e.DoFileParts(context.Background(), srv.URL, "POST", nil, []byte(`{"a":"1"}`), parts)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
}

func TestDoFilePartsSkipsUnparseableMIME(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		assert.Empty(t, r.MultipartForm.File["file"])
		w.WriteHeader(200)
	}))
	defer srv.Close()

	e := outbound.New(zap.NewNop())
	parts := fileparts.FileParts{{FileName: "bad", MimeStr: "not a mime;;;===", Bytes: []byte("x")}}
	_, _, err := e.DoFileParts(context.Background(), srv.URL, "POST", nil, nil, parts)
	require.NoError(t, err)
}
