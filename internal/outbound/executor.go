// Package outbound implements the guest-initiated outbound HTTP calls
// issued through the haiku-connector host callbacks.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"go.uber.org/zap"

	"github.com/haiku-connector/gateway/internal/fileparts"
)

// timeout is the total per-request deadline; a fresh client is built per
// call, matching spec §4.6's "fresh client per call is acceptable".
const timeout = 120 * time.Second

// filePartsFieldName is the multipart field every FilePart is encoded
// under, regardless of its own FileName.
const filePartsFieldName = "file"

// Executor performs outbound HTTP requests on the guest's behalf. It
// satisfies guest.Executor.
type Executor struct {
	log *zap.Logger
}

// New returns an Executor that logs the failures of its async variants
// through log; the synchronous variants return their errors instead.
func New(log *zap.Logger) *Executor {
	return &Executor{log: log}
}

// Do performs a plain (non-multipart) outbound request and returns its
// status and body.
func (e *Executor) Do(ctx context.Context, url, method string, headers map[string]string, body []byte) (int, []byte, error) {
	return e.do(ctx, url, method, headers, bytes.NewReader(body), "")
}

// DoAsync performs Do on a detached background goroutine and discards the
// outcome, save for a log line on failure.
func (e *Executor) DoAsync(ctx context.Context, url, method string, headers map[string]string, body []byte) {
	go func() {
		if _, _, err := e.Do(ctx, url, method, headers, body); err != nil {
			e.log.Warn("async outbound request failed", zap.String("url", url), zap.Error(err))
		}
	}()
}

// DoFileParts performs a multipart/form-data outbound request: body is
// decoded as a JSON object contributing string-valued text fields, and
// each FilePart becomes a "file" field part.
func (e *Executor) DoFileParts(ctx context.Context, url, method string, headers map[string]string, body []byte, parts fileparts.FileParts) (int, []byte, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if err := writeTextFields(w, body); err != nil {
		return 0, nil, fmt.Errorf("outbound: encoding text fields: %w", err)
	}
	if err := writeFileParts(w, parts); err != nil {
		return 0, nil, fmt.Errorf("outbound: encoding file parts: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, nil, fmt.Errorf("outbound: closing multipart writer: %w", err)
	}

	return e.do(ctx, url, method, headers, buf, w.FormDataContentType())
}

// DoAsyncFileParts performs DoFileParts on a detached background goroutine.
func (e *Executor) DoAsyncFileParts(ctx context.Context, url, method string, headers map[string]string, body []byte, parts fileparts.FileParts) {
	go func() {
		if _, _, err := e.DoFileParts(ctx, url, method, headers, body, parts); err != nil {
			e.log.Warn("async outbound fileparts request failed", zap.String("url", url), zap.Error(err))
		}
	}()
}

func (e *Executor) do(ctx context.Context, url, method string, headers map[string]string, body io.Reader, contentType string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("outbound: building request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("outbound: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("outbound: reading response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// writeTextFields decodes raw as a JSON object and writes each
// string-valued entry as a multipart text field. Non-string values are
// ignored, per spec §4.6.
func writeTextFields(w *multipart.Writer, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil // body isn't a JSON object; no text fields, not an error
	}

	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		if err := w.WriteField(k, s); err != nil {
			return err
		}
	}
	return nil
}

// writeFileParts writes each FilePart as a "file" field part, skipping any
// part whose MIME string fails to parse.
func writeFileParts(w *multipart.Writer, parts fileparts.FileParts) error {
	for _, p := range parts {
		if _, _, err := mime.ParseMediaType(p.MimeStr); err != nil {
			continue
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, filePartsFieldName, p.FileName))
		header.Set("Content-Type", p.MimeStr)

		part, err := w.CreatePart(header)
		if err != nil {
			return err
		}
		if _, err := part.Write(p.Bytes); err != nil {
			return err
		}
	}
	return nil
}
