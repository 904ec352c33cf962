// Package config loads and validates the TOML route table that maps HTTP
// method+path pairs to guest export names.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// Method is the config-file HTTP method enum. Its values double as bit
// positions in a method bitmask, per spec.
type Method uint16

const (
	Delete  Method = 1 << 1 // 2
	Get     Method = 1 << 2 // 4
	Head    Method = 1 << 3 // 8
	Options Method = 1 << 4 // 16
	Patch   Method = 1 << 5 // 32
	Post    Method = 1 << 6 // 64
	Put     Method = 1 << 7 // 128
	Trace   Method = 1 << 8 // 256
)

var methodNames = map[string]Method{
	"DELETE":  Delete,
	"GET":     Get,
	"HEAD":    Head,
	"OPTIONS": Options,
	"PATCH":   Patch,
	"POST":    Post,
	"PUT":     Put,
	"TRACE":   Trace,
}

// UnmarshalText implements encoding.TextUnmarshaler so go-toml can decode
// the `method = "GET"` style string directly into the bitmask enum.
func (m *Method) UnmarshalText(text []byte) error {
	v, ok := methodNames[string(text)]
	if !ok {
		return fmt.Errorf("config: unknown route method %q", text)
	}
	*m = v
	return nil
}

// String renders the method back to its canonical config-file spelling.
func (m Method) String() string {
	for name, v := range methodNames {
		if v == m {
			return name
		}
	}
	return "UNKNOWN"
}

// ContentType is the optional per-route content-type hint. Only Multipart
// changes dispatcher behavior; the others are accepted for config
// compatibility but do not affect marshalling.
type ContentType int

const (
	ContentTypeUnset ContentType = iota
	ContentTypePlain
	ContentTypeJSON
	ContentTypeFormURLEncoded
	ContentTypeMultipart
)

var contentTypeNames = map[string]ContentType{
	"text/plain":                        ContentTypePlain,
	"application/json":                  ContentTypeJSON,
	"application/x-www-form-urlencoded": ContentTypeFormURLEncoded,
	"multipart/form-data":               ContentTypeMultipart,
}

func (c *ContentType) UnmarshalText(text []byte) error {
	v, ok := contentTypeNames[string(text)]
	if !ok {
		return fmt.Errorf("config: unknown route content_type %q", text)
	}
	*c = v
	return nil
}

// Route is a single declarative mapping of an HTTP method+path to a guest
// export name, decoded from one `[[route]]` table.
type Route struct {
	FuncName      string      `toml:"func_name"`
	Path          string      `toml:"path"`
	Method        Method      `toml:"method"`
	ContentType   ContentType `toml:"content_type"`
	AsyncFuncName string      `toml:"async_func_name"`
}

// IsMultipart reports whether this route's body must be parsed as
// multipart/form-data rather than passed through as a raw byte body.
func (r Route) IsMultipart() bool {
	return r.ContentType == ContentTypeMultipart
}

// HasAsync reports whether the route declares an async twin export.
func (r Route) HasAsync() bool {
	return r.AsyncFuncName != ""
}

// File is the root of the TOML route configuration document.
type File struct {
	Route []Route `toml:"route"`
}

// Load reads and parses the route configuration at path, validating that
// every route names a func_name and a path. log receives a warning for
// each duplicate (path, method) pair: the data model allows it (first
// route wins), but it is almost always a config mistake.
func Load(path string, log *zap.Logger) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	type key struct {
		path   string
		method Method
	}
	seen := make(map[key]int, len(f.Route))

	for i, r := range f.Route {
		if r.FuncName == "" {
			return nil, fmt.Errorf("config: route[%d] missing func_name", i)
		}
		if r.Path == "" {
			return nil, fmt.Errorf("config: route[%d] missing path", i)
		}

		k := key{path: r.Path, method: r.Method}
		if first, ok := seen[k]; ok {
			log.Warn("duplicate route (path, method); first match wins",
				zap.String("path", r.Path),
				zap.String("method", r.Method.String()),
				zap.Int("first_route", first),
				zap.Int("shadowed_route", i),
			)
		} else {
			seen[k] = i
		}
	}

	return &f, nil
}

// Match returns the first route whose method and path equal the request,
// per the "first matching route wins" rule. The second result is false
// when no route matches.
func (f *File) Match(method Method, path string) (Route, bool) {
	for _, r := range f.Route {
		if r.Path == path && r.Method == method {
			return r, true
		}
	}
	return Route{}, false
}

// MethodFromHTTP maps a net/http-style method string to the config
// bitmask enum, or (0, false) if it is not one of the eight supported
// methods.
func MethodFromHTTP(s string) (Method, bool) {
	m, ok := methodNames[s]
	return m, ok
}
