// Package guest owns the single loaded WebAssembly module: its compilation,
// the haiku-connector host ABI it links against, and the lifecycle of the
// one long-lived instance executing handler exports under concurrent HTTP
// load.
package guest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const (
	allocateExportName = "allocate"
	initExportName     = "init"

	// handlerResultLen is the size of the 20-byte (status, headers_ptr,
	// headers_len, body_ptr, body_len) structure a handler export's single
	// i32 result points to. This is the host's concrete realization of the
	// spec's deliberately abstract "bindings helper" for the top-level
	// handler call -- see DESIGN.md.
	handlerResultLen = 20
)

// Module is a compiled guest module together with the WASI and
// haiku-connector host modules it is linked against.
type Module struct {
	runtime  wazero.Runtime
	wasi     api.Closer
	abi      api.Closer
	compiled wazero.CompiledModule
}

// New compiles code and wires its WASI and haiku-connector imports. exec
// serves the outbound HTTP calls the guest may make through the ABI.
func New(ctx context.Context, code []byte, exec Executor) (*Module, error) {
	r := wazero.NewRuntime(ctx)

	wasi, err := wasi_snapshot_preview1.Instantiate(ctx, r)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("guest: instantiating WASI: %w", err)
	}

	abi, err := registerHostABI(ctx, r, exec)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("guest: registering host ABI: %w", err)
	}

	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("guest: compiling module: %w", err)
	}

	if _, ok := compiled.ExportedFunctions()[allocateExportName]; !ok {
		r.Close(ctx)
		return nil, errors.New("guest: module does not export allocate(i32)->i32")
	}

	return &Module{runtime: r, wasi: wasi, abi: abi, compiled: compiled}, nil
}

// Instantiate creates the single instance of the module: its own linear
// memory, with WASI configured with empty argv, envp, and no preopens.
// init(), if exported, is invoked once with no arguments; a failure there
// is returned to the caller to log, not treated as fatal by this layer.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	// Default ModuleConfig already carries empty argv and envp and no
	// preopens; WithStartFunctions suppresses wazero's automatic _start
	// invocation since init (if any) is called explicitly below.
	cfg := wazero.NewModuleConfig().WithStartFunctions()

	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("guest: instantiating module: %w", err)
	}

	allocateFn := mod.ExportedFunction(allocateExportName)
	if allocateFn == nil {
		_ = mod.Close(ctx)
		return nil, errors.New("guest: module does not export allocate(i32)->i32")
	}

	inst := &Instance{mod: mod, allocateFn: allocateFn}

	var initErr error
	if initFn := mod.ExportedFunction(initExportName); initFn != nil {
		if _, initErr = initFn.Call(ctx); initErr != nil {
			initErr = fmt.Errorf("guest: init() failed: %w", initErr)
		}
	}

	return inst, initErr
}

// Close releases the compiled module and its linked host/WASI modules.
// Instances must be closed first.
func (m *Module) Close(ctx context.Context) error {
	var err error
	if m.abi != nil {
		err = errors.Join(err, m.abi.Close(ctx))
	}
	if m.wasi != nil {
		err = errors.Join(err, m.wasi.Close(ctx))
	}
	return errors.Join(err, m.runtime.Close(ctx))
}

// Instance is the single instantiation of a Module, with its own linear
// memory and allocate export.
type Instance struct {
	mod        api.Module
	allocateFn api.Function
}

// Close closes the underlying wazero module.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// HandlerResult is the guest export's tri-tuple return value.
type HandlerResult struct {
	Status  uint16
	Headers string
	Body    []byte
}

// Invoke marshals headers/queries/body (and, when parts is non-nil, the
// encoded fileparts blob) into the guest's linear memory and calls its
// exported funcName. A non-nil parts (even an empty encoding) selects the
// 4-argument multipart handler signature; a nil parts selects the
// 3-argument form. A missing export or a failed call is returned as an
// ordinary error carrying its message; a malformed result -- wrong result
// arity, an out-of-bounds result pointer -- surfaces as
// ErrInvalidReturnValues.
func (i *Instance) Invoke(ctx context.Context, funcName, headers, queries string, body, parts []byte) (HandlerResult, error) {
	fn := i.mod.ExportedFunction(funcName)
	if fn == nil {
		return HandlerResult{}, fmt.Errorf("guest: no exported function %q", funcName)
	}

	mem := i.mod.Memory()

	headersPtr, err := writeBytes(ctx, i.allocateFn, mem, []byte(headers))
	if err != nil {
		return HandlerResult{}, err
	}
	queriesPtr, err := writeBytes(ctx, i.allocateFn, mem, []byte(queries))
	if err != nil {
		return HandlerResult{}, err
	}
	bodyPtr, err := writeBytes(ctx, i.allocateFn, mem, body)
	if err != nil {
		return HandlerResult{}, err
	}

	params := []uint64{
		uint64(headersPtr), uint64(len(headers)),
		uint64(queriesPtr), uint64(len(queries)),
		uint64(bodyPtr), uint64(len(body)),
	}

	if parts != nil {
		partsPtr, err := writeBytes(ctx, i.allocateFn, mem, parts)
		if err != nil {
			return HandlerResult{}, err
		}
		params = append(params, uint64(partsPtr), uint64(len(parts)))
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return HandlerResult{}, fmt.Errorf("guest: invoking %q: %w", funcName, err)
	}
	if len(results) != 1 {
		return HandlerResult{}, ErrInvalidReturnValues
	}

	return decodeHandlerResult(mem, uint32(results[0]))
}

// ErrInvalidReturnValues is returned when the guest's handler export
// didn't produce a well-formed (status, headers, body) result.
var ErrInvalidReturnValues = errors.New("Invalid return values")

func decodeHandlerResult(mem api.Memory, resultPtr uint32) (HandlerResult, error) {
	raw, ok := readBytes(mem, resultPtr, handlerResultLen)
	if !ok {
		return HandlerResult{}, ErrInvalidReturnValues
	}

	status := binary.LittleEndian.Uint32(raw[0:4])
	headersPtr := binary.LittleEndian.Uint32(raw[4:8])
	headersLen := binary.LittleEndian.Uint32(raw[8:12])
	bodyPtr := binary.LittleEndian.Uint32(raw[12:16])
	bodyLen := binary.LittleEndian.Uint32(raw[16:20])

	headers, ok := readString(mem, headersPtr, headersLen)
	if !ok {
		return HandlerResult{}, ErrInvalidReturnValues
	}
	body, ok := readBytes(mem, bodyPtr, bodyLen)
	if !ok {
		return HandlerResult{}, ErrInvalidReturnValues
	}
	if status > 0xFFFF {
		return HandlerResult{}, ErrInvalidReturnValues
	}

	return HandlerResult{Status: uint16(status), Headers: headers, Body: body}, nil
}

// Holder serializes access to the single GuestInstance so that at most one
// goroutine runs guest code at any instant. It adapts the teacher's
// ring-buffer-backed Pool down to a slot of exactly one: Acquire/Release
// reproduce mutex semantics using the same queueing primitive rather than
// introducing a bare sync.Mutex.
type Holder struct {
	slot *queue.RingBuffer
}

// NewHolder wraps inst in a single-slot holder, ready for Acquire.
func NewHolder(inst *Instance) (*Holder, error) {
	rb := queue.NewRingBuffer(1)
	ok, err := rb.Offer(inst)
	if err != nil {
		return nil, fmt.Errorf("guest: seeding instance holder: %w", err)
	}
	if !ok {
		return nil, errors.New("guest: could not seed instance holder")
	}
	return &Holder{slot: rb}, nil
}

// Acquire blocks until the instance is available. There is deliberately no
// request-level timeout here: a runaway guest stalls all subsequent
// requests, per spec §5.
func (h *Holder) Acquire() (*Instance, error) {
	v, err := h.slot.Poll(365 * 24 * time.Hour)
	if err != nil {
		return nil, fmt.Errorf("guest: acquiring instance: %w", err)
	}
	inst, ok := v.(*Instance)
	if !ok {
		return nil, errors.New("guest: holder slot did not contain an *Instance")
	}
	return inst, nil
}

// Release returns the instance to the slot.
func (h *Holder) Release(inst *Instance) error {
	ok, err := h.slot.Offer(inst)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("guest: cannot return instance to full holder")
	}
	return nil
}

// Dispose tears down the holder; it does not close the instance itself.
func (h *Holder) Dispose() {
	h.slot.Dispose()
}
