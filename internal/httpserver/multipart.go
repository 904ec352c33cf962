package httpserver

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/valyala/fasthttp"

	"github.com/haiku-connector/gateway/internal/fileparts"
)

// maxMultipartBytes is the multipart body cap of spec §4.5 step 5; requests over
// this size fail at the HTTP-server layer with 413 before reaching the
// dispatcher.
const maxMultipartBytes = 10 << 20

// decodeMultipart splits a multipart/form-data request body into the JSON
// text-field object and FileParts list the dispatcher expects as (body,
// parts). Each form field with both a filename and content-type becomes a
// FilePart; every other field is stored as a text entry.
func decodeMultipart(ctx *fasthttp.RequestCtx) ([]byte, fileparts.FileParts, error) {
	if len(ctx.PostBody()) > maxMultipartBytes {
		return nil, nil, errTooLarge
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		return nil, nil, fmt.Errorf("decoding multipart form: %w", err)
	}

	fields := make(map[string]string, len(form.Value))
	for name, values := range form.Value {
		if len(values) == 0 {
			continue
		}
		fields[name] = values[0]
	}

	var parts fileparts.FileParts
	for name, headers := range form.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, nil, fmt.Errorf("opening uploaded file %q: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, nil, fmt.Errorf("reading uploaded file %q: %w", fh.Filename, err)
			}
			mimeStr := fh.Header.Get("Content-Type")
			if mimeStr == "" {
				fields[name] = string(data)
				continue
			}
			parts = append(parts, fileparts.FilePart{
				FileName: fh.Filename,
				MimeStr:  mimeStr,
				Bytes:    data,
			})
		}
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding multipart text fields: %w", err)
	}
	return body, parts, nil
}

// errTooLarge signals a multipart body over maxMultipartBytes; the caller
// turns it into an HTTP 413.
var errTooLarge = fmt.Errorf("multipart body exceeds %d bytes", maxMultipartBytes)
