// Package predicate provides a WASM-backed quality predicate.
// The upstream system stubbed model verification to always-accept; here
// the screen is a sandboxed module supplied by the operator, so accuracy
// or poisoning heuristics can be swapped in without touching the engine.
package predicate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"

	"FedMint/internal/model"
)

// checkExport is the function a screen module must export.
// Signature: check() -> i32. Zero accepts the update; any other value
// rejects it with that status code.
const checkExport = "check"

var (
	// ErrNoCheckExport is returned when the module does not export check.
	ErrNoCheckExport = errors.New("module does not export check")

	// ErrRejected is returned when the module rejects an update.
	ErrRejected = errors.New("update rejected by quality screen")
)

// Screen runs submissions through a compiled WASM module.
// The module is compiled once; each check instantiates a fresh instance,
// so a misbehaving module cannot carry state between submissions.
type Screen struct {
	runtime  wazero.Runtime        // runtime is the wazero runtime instance
	compiled wazero.CompiledModule // compiled is the screen module
	moduleID [32]byte              // moduleID is the blake3 hash of the module bytes
	mu       sync.Mutex            // mu serializes instantiation
}

// checkContext holds the state of a single check invocation.
type checkContext struct {
	input  []byte     // input is the encoded local update
	memory api.Memory // memory is the WASM linear memory
}

// NewScreen compiles the given WASM module into a Screen.
func NewScreen(wasmBytes []byte) (*Screen, error) {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("compile screen module:\n%w", err)
	}

	return &Screen{
		runtime:  runtime,
		compiled: compiled,
		moduleID: blake3.Sum256(wasmBytes),
	}, nil
}

// ModuleID returns the blake3 hash of the screen module bytes.
func (s *Screen) ModuleID() [32]byte {
	return s.moduleID
}

// Check implements validate.QualityPredicate.
// The update is encoded and exposed to the module through the env host
// functions; a nonzero status from check rejects the submission.
func (s *Screen) Check(ctx context.Context, u *model.LocalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkCtx := &checkContext{input: model.EncodeLocalUpdate(u)}

	hostModule, err := s.buildHostModule(ctx, checkCtx)
	if err != nil {
		return fmt.Errorf("build host module:\n%w", err)
	}
	defer hostModule.Close(ctx)

	instance, err := s.runtime.InstantiateModule(ctx, s.compiled, wazero.NewModuleConfig())
	if err != nil {
		return fmt.Errorf("instantiate screen module:\n%w", err)
	}
	defer instance.Close(ctx)

	checkCtx.memory = instance.Memory()

	checkFn := instance.ExportedFunction(checkExport)
	if checkFn == nil {
		return ErrNoCheckExport
	}

	results, err := checkFn.Call(ctx)
	if err != nil {
		return fmt.Errorf("run check:\n%w", err)
	}

	if len(results) > 0 && uint32(results[0]) != 0 {
		return fmt.Errorf("%w: status %d", ErrRejected, uint32(results[0]))
	}

	return nil
}

// buildHostModule creates the "env" module exposing the update bytes.
func (s *Screen) buildHostModule(ctx context.Context, checkCtx *checkContext) (api.Module, error) {
	return s.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(context.Context) uint32 {
			return uint32(len(checkCtx.input))
		}).
		Export("input_len").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, ptr uint32) {
			if checkCtx.memory != nil && len(checkCtx.input) > 0 {
				checkCtx.memory.Write(ptr, checkCtx.input)
			}
		}).
		Export("read_input").
		Instantiate(ctx)
}

// Close releases the runtime and the compiled module.
func (s *Screen) Close() error {
	ctx := context.Background()

	s.compiled.Close(ctx)

	return s.runtime.Close(ctx)
}
