package httpserver

import (
	"bytes"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newCtx(t *testing.T) *fasthttp.RequestCtx {
	t.Helper()
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/e?a=1&b=2")
	return ctx
}

func TestQueryParams(t *testing.T) {
	ctx := newCtx(t)
	got := queryParams(ctx)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
}

func TestHeaderMap(t *testing.T) {
	ctx := newCtx(t)
	ctx.Request.Header.Set("X-Thing", "v1")
	got := headerMap(ctx)
	assert.Equal(t, []string{"v1"}, got["X-Thing"])
}

func TestDecodeMultipartBuildsTextFieldsAndParts(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("a", "1"))
	fw, err := w.CreateFormFile("file", "x.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/u")
	ctx.Request.Header.SetContentType(w.FormDataContentType())
	ctx.Request.SetBody(buf.Bytes())

	body, parts, err := decodeMultipart(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"1"}`, string(body))
	require.Len(t, parts, 1)
	assert.Equal(t, "x.txt", parts[0].FileName)
	assert.Equal(t, []byte("hi"), parts[0].Bytes)
}

func TestDecodeMultipartRejectsOversizedBody(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/u")
	ctx.Request.SetBody(make([]byte, maxMultipartBytes+1))

	_, _, err := decodeMultipart(ctx)
	assert.ErrorIs(t, err, errTooLarge)
}
