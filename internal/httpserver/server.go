// Package httpserver is the HTTP front door: a fasthttp server that scans
// the route table and hands matched requests to the dispatcher.
package httpserver

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/haiku-connector/gateway/internal/config"
	"github.com/haiku-connector/gateway/internal/dispatch"
	"github.com/haiku-connector/gateway/internal/fileparts"
)

// Server binds the route table to a fasthttp listener.
type Server struct {
	routes *config.File
	disp   *dispatch.Dispatcher
	log    *zap.Logger
	fast   *fasthttp.Server
}

// New builds a Server for routes, handing matched requests to disp.
func New(routes *config.File, disp *dispatch.Dispatcher, log *zap.Logger) *Server {
	s := &Server{routes: routes, disp: disp, log: log}
	s.fast = &fasthttp.Server{
		Handler: s.handle,
		Name:    "haiku-connector",
		// Default fasthttp.Server caps request bodies well below the 10 MiB
		// multipart ceiling of spec §4.5 step 5; raise it to that ceiling.
		// fasthttp then answers any larger body with 413 itself, on every
		// route, before decodeMultipart's own size check is reached.
		MaxRequestBodySize: maxMultipartBytes,
	}
	return s
}

// ListenAndServe binds addr (typically "127.0.0.1:$PORT") and serves until
// the listener is closed or an unrecoverable error occurs.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	return s.fast.ListenAndServe(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.fast.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	method, ok := config.MethodFromHTTP(string(ctx.Method()))
	if !ok {
		ctx.Error("Not found", fasthttp.StatusNotFound)
		return
	}
	path := string(ctx.Path())

	route, ok := s.routes.Match(method, path)
	if !ok {
		ctx.Error("Not found", fasthttp.StatusNotFound)
		return
	}

	body, parts, err := s.readBody(ctx, route)
	if err != nil {
		if err == errTooLarge {
			ctx.Error(err.Error(), fasthttp.StatusRequestEntityTooLarge)
			return
		}
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}

	req := dispatch.Request{
		Method:  method,
		Path:    path,
		Queries: queryParams(ctx),
		Headers: headerMap(ctx),
		Body:    body,
		Parts:   parts,
	}

	resp, matched, err := s.disp.Dispatch(ctx, req)
	if err != nil {
		s.log.Error("dispatch failed", zap.Error(err))
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	if !matched {
		ctx.Error("Not found", fasthttp.StatusNotFound)
		return
	}

	for k, v := range resp.Headers {
		ctx.Response.Header.Set(k, v)
	}
	ctx.SetStatusCode(resp.Status)
	ctx.SetBody(resp.Body)
}

func (s *Server) readBody(ctx *fasthttp.RequestCtx, route config.Route) ([]byte, fileparts.FileParts, error) {
	if !route.IsMultipart() {
		return ctx.PostBody(), nil, nil
	}
	return decodeMultipart(ctx)
}

func queryParams(ctx *fasthttp.RequestCtx) map[string]string {
	out := map[string]string{}
	ctx.QueryArgs().VisitAll(func(key, value []byte) {
		out[string(key)] = string(value)
	})
	return out
}

func headerMap(ctx *fasthttp.RequestCtx) map[string][]string {
	out := map[string][]string{}
	ctx.Request.Header.VisitAll(func(key, value []byte) {
		k := string(key)
		out[k] = append(out[k], string(value))
	})
	return out
}
