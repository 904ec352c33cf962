// Package dispatch implements the Handler Dispatcher: per-request
// marshalling into the guest, export invocation, and response settlement.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haiku-connector/gateway/internal/config"
	"github.com/haiku-connector/gateway/internal/fileparts"
	"github.com/haiku-connector/gateway/internal/guest"
	"github.com/haiku-connector/gateway/internal/wireproto"
)

// guestInvoker is the subset of *guest.Instance the dispatcher depends on,
// so tests can exercise routing and status-interpretation logic against a
// fake guest without a real .wasm binary.
type guestInvoker interface {
	Invoke(ctx context.Context, funcName, headers, queries string, body, parts []byte) (guest.HandlerResult, error)
}

// Request is one inbound HTTP request already reduced to the dispatcher's
// input shape. Parts is nil for non-multipart routes.
type Request struct {
	Method  config.Method
	Path    string
	Queries map[string]string
	Headers map[string][]string
	Body    []byte
	Parts   fileparts.FileParts
}

// Response is the settled reply to write back to the HTTP client.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Dispatcher matches inbound requests against the route table and carries
// out the five-step dispatch behavior against the single guest instance.
type Dispatcher struct {
	routes  *config.File
	acquire func() (guestInvoker, error)
	release func(guestInvoker) error
	log     *zap.Logger
}

// New builds a Dispatcher backed by holder's single guest instance.
func New(routes *config.File, holder *guest.Holder, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		routes: routes,
		acquire: func() (guestInvoker, error) {
			return holder.Acquire()
		},
		release: func(inv guestInvoker) error {
			inst, ok := inv.(*guest.Instance)
			if !ok {
				return fmt.Errorf("dispatch: release: unexpected invoker type %T", inv)
			}
			return holder.Release(inst)
		},
		log: log,
	}
}

// Dispatch matches req against the route table and, on a match, marshals
// its inputs into the guest, invokes the matched export, and settles the
// result into a Response. A false second result means no route matched
// (HTTP 404, per spec §7).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, bool, error) {
	route, ok := d.routes.Match(req.Method, req.Path)
	if !ok {
		return Response{}, false, nil
	}

	reqID := uuid.New().String()
	log := d.log.With(zap.String("request_id", reqID), zap.String("func", route.FuncName))

	headersStr := stringifyHeaders(req.Headers)
	queriesStr, err := encodeQueriesJSON(req.Queries)
	if err != nil {
		return Response{}, true, fmt.Errorf("dispatch: encoding queries: %w", err)
	}

	var partsBlob []byte
	if route.IsMultipart() {
		partsBlob = fileparts.Encode(req.Parts)
	}

	inst, err := d.acquire()
	if err != nil {
		return Response{}, true, fmt.Errorf("dispatch: acquiring guest instance: %w", err)
	}
	defer func() {
		if err := d.release(inst); err != nil {
			log.Warn("releasing guest instance", zap.Error(err))
		}
	}()

	result, err := inst.Invoke(ctx, route.FuncName, headersStr, queriesStr, req.Body, partsBlob)
	if err != nil {
		log.Warn("guest invocation failed", zap.Error(err))
		return Response{Status: 500, Body: []byte(err.Error())}, true, nil
	}

	if result.Status == wireproto.StatusAsyncDispatch && route.HasAsync() {
		log.Info("dispatching async twin", zap.String("async_func", route.AsyncFuncName))
		d.scheduleAsync(route.AsyncFuncName, headersStr, queriesStr, req.Body, partsBlob, log)
	}

	headers, err := parseResponseHeaders(result.Headers)
	if err != nil {
		log.Warn("invalid guest response headers", zap.Error(err))
		return Response{Status: 500, Body: []byte(err.Error())}, true, nil
	}

	status := int(result.Status)
	if result.Status == wireproto.StatusAsyncDispatch && route.HasAsync() {
		status = 200
	}

	return Response{Status: status, Headers: headers, Body: result.Body}, true, nil
}

// scheduleAsync invokes the async twin export with the same marshalled
// inputs on a detached goroutine; its outcome is discarded save for a log
// line, per spec §4.6.
func (d *Dispatcher) scheduleAsync(funcName, headersStr, queriesStr string, body, parts []byte, log *zap.Logger) {
	go func() {
		ctx := context.Background()

		inst, err := d.acquire()
		if err != nil {
			log.Warn("async twin: acquiring guest instance", zap.Error(err))
			return
		}
		defer func() {
			if err := d.release(inst); err != nil {
				log.Warn("async twin: releasing guest instance", zap.Error(err))
			}
		}()

		if _, err := inst.Invoke(ctx, funcName, headersStr, queriesStr, body, parts); err != nil {
			log.Warn("async twin invocation failed", zap.Error(err))
		}
	}()
}
