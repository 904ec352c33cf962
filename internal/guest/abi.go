package guest

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/haiku-connector/gateway/internal/fileparts"
	"github.com/haiku-connector/gateway/internal/wireproto"
)

// importModuleName is the import namespace the guest links the four host
// callbacks under.
const importModuleName = "haiku-connector"

// Executor performs the guest-initiated outbound HTTP/multipart requests
// issued through the haiku-connector host callbacks. outbound.Executor
// implements this.
type Executor interface {
	Do(ctx context.Context, url, method string, headers map[string]string, body []byte) (status int, respBody []byte, err error)
	DoAsync(ctx context.Context, url, method string, headers map[string]string, body []byte)
	DoFileParts(ctx context.Context, url, method string, headers map[string]string, body []byte, parts fileparts.FileParts) (status int, respBody []byte, err error)
	DoAsyncFileParts(ctx context.Context, url, method string, headers map[string]string, body []byte, parts fileparts.FileParts)
}

// trapError panics carry one of these two ABI error codes. wazero recovers
// a panicking host function and surfaces it as an error from the caller's
// Call(), which is how "the VM trap code" of spec §7 reaches the host side
// of the boundary; what (if anything) a given guest toolchain can do with
// that trap is outside the host's control.
type trapError struct {
	code byte
	msg  string
}

func (e trapError) Error() string { return e.msg }

const (
	// trapTerminate is returned when guest input could not be decoded:
	// bad UTF-8, bad JSON shape, an out-of-bounds memory access, or an
	// unrecognized method byte.
	trapTerminate = 1
	// trapFail is returned for a transport-level outbound failure.
	trapFail = 2
)

func terminate(msg string) { panic(trapError{code: trapTerminate, msg: msg}) }
func fail(msg string)      { panic(trapError{code: trapFail, msg: msg}) }

// registerHostABI instantiates the haiku-connector host module exposing
// the four callbacks of spec §4.2 against exec, and returns the resulting
// module so it can be closed alongside the guest's other runtime modules.
func registerHostABI(ctx context.Context, r wazero.Runtime, exec Executor) (api.Closer, error) {
	b := r.NewHostModuleBuilder(importModuleName)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, m api.Module, stack []uint64) {
			url, method, headers, body := decodeRequestParams(m.Memory(), stack)
			status, respBody, err := exec.Do(ctx, url, method, headers, body)
			stack[0] = uint64(settleCallbackResult(ctx, m.ExportedFunction(allocateExportName), m.Memory(), status, respBody, err))
		}), i32Types(7), i32Types(1)).
		Export("send_request")

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, m api.Module, stack []uint64) {
			url, method, headers, body := decodeRequestParams(m.Memory(), stack)
			exec.DoAsync(detach(ctx), url, method, headers, body)
		}), i32Types(7), nil).
		Export("send_async_request")

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, m api.Module, stack []uint64) {
			url, method, headers, body := decodeRequestParams(m.Memory(), stack)
			parts := decodeFilePartsParam(m.Memory(), stack)
			status, respBody, err := exec.DoFileParts(ctx, url, method, headers, body, parts)
			stack[0] = uint64(settleCallbackResult(ctx, m.ExportedFunction(allocateExportName), m.Memory(), status, respBody, err))
		}), i32Types(9), i32Types(1)).
		Export("send_fileparts_request")

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, m api.Module, stack []uint64) {
			url, method, headers, body := decodeRequestParams(m.Memory(), stack)
			parts := decodeFilePartsParam(m.Memory(), stack)
			exec.DoAsyncFileParts(detach(ctx), url, method, headers, body, parts)
		}), i32Types(9), nil).
		Export("send_async_fileparts_request")

	return b.Instantiate(ctx)
}

func i32Types(n int) []api.ValueType {
	t := make([]api.ValueType, n)
	for i := range t {
		t[i] = api.ValueTypeI32
	}
	return t
}

// decodeRequestParams decodes the common 7-i32 parameter prefix shared by
// all four callbacks: (url_ptr, url_len, method_byte, headers_ptr,
// headers_len, body_ptr, body_len). A zero pointer for headers or body
// means absent.
func decodeRequestParams(mem api.Memory, stack []uint64) (url, method string, headers map[string]string, body []byte) {
	urlPtr, urlLen := uint32(stack[0]), uint32(stack[1])
	methodByte := byte(stack[2])
	headersPtr, headersLen := uint32(stack[3]), uint32(stack[4])
	bodyPtr, bodyLen := uint32(stack[5]), uint32(stack[6])

	url, ok := readString(mem, urlPtr, urlLen)
	if !ok {
		terminate("send_request: invalid url")
	}

	wm := wireproto.DecodeMethod(methodByte)
	if wm == wireproto.Unknown {
		terminate("send_request: unknown method byte")
	}
	method = wm.HTTPMethod()

	if headersPtr == 0 {
		headers = nil
	} else {
		raw, ok := readBytes(mem, headersPtr, headersLen)
		if !ok {
			terminate("send_request: invalid headers pointer")
		}
		headers, ok = decodeHeadersJSON(raw)
		if !ok {
			terminate("send_request: invalid headers JSON")
		}
	}

	if bodyPtr == 0 {
		body = nil
	} else {
		raw, ok := readBytes(mem, bodyPtr, bodyLen)
		if !ok {
			terminate("send_request: invalid body pointer")
		}
		body = raw
	}

	return url, method, headers, body
}

// decodeFilePartsParam decodes the trailing (fileparts_ptr, fileparts_len)
// pair present on the 9-arg callback forms.
func decodeFilePartsParam(mem api.Memory, stack []uint64) fileparts.FileParts {
	partsPtr, partsLen := uint32(stack[7]), uint32(stack[8])
	if partsPtr == 0 {
		return nil
	}
	raw, ok := readBytes(mem, partsPtr, partsLen)
	if !ok {
		terminate("send_fileparts_request: invalid fileparts pointer")
	}
	return fileparts.Decode(raw)
}

// decodeHeadersJSON parses a UTF-8 JSON object of string->string. Values
// that are not strings become the empty string. A top-level non-object or
// parse failure is reported via the bool result.
func decodeHeadersJSON(raw []byte) (map[string]string, bool) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false
	}

	out := make(map[string]string, len(generic))
	for k, v := range generic {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = ""
		}
		out[k] = s
	}
	return out, true
}

// settleCallbackResult writes the reply trailer for a successful outbound
// call, or traps with FAIL when err is non-nil.
func settleCallbackResult(ctx context.Context, allocateFn api.Function, mem api.Memory, status int, body []byte, err error) uint32 {
	if err != nil {
		fail(err.Error())
	}
	ptr, werr := writeReplyTrailer(ctx, allocateFn, mem, int32(status), body)
	if werr != nil {
		terminate(werr.Error())
	}
	return ptr
}

// detach returns a context that keeps the caller's values but is not
// cancelled when the originating inbound request's context is, so
// fire-and-forget async callbacks can outlive the request that spawned
// them.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
