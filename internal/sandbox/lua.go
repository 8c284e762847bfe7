package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// maxStringBytes caps a single string.rep result.
const maxStringBytes = 16 << 20

// LuaRunner executes candidate programs in an embedded Lua VM with only the
// base, table, string and math libraries loaded. There is no access to the
// filesystem, the environment or other processes.
//
// The VM shares the caller's heap, so a program that keeps growing strings or
// tables can still exhaust it. Untrusted programs go through an
// IsolatedLuaRunner, which runs this runner in a memory capped child.
type LuaRunner struct {
	timeout     time.Duration
	maxOutput   int
	callStack   int
	registryMax int
	maxString   int
}

type LuaOption func(*LuaRunner)

func WithLuaTimeout(d time.Duration) LuaOption {
	return func(r *LuaRunner) {
		r.timeout = d
	}
}

func WithLuaMaxOutput(n int) LuaOption {
	return func(r *LuaRunner) {
		r.maxOutput = n
	}
}

func NewLuaRunner(opts ...LuaOption) *LuaRunner {
	r := &LuaRunner{
		timeout:     DefaultTimeout,
		maxOutput:   DefaultMaxOutputBytes,
		callStack:   256,
		registryMax: 256 * 1024,
		maxString:   maxStringBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *LuaRunner) Run(ctx context.Context, source string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   r.callStack,
		RegistryMaxSize: r.registryMax,
	})
	defer L.Close()

	out := newLimitedBuffer(r.maxOutput)
	openSafeLibs(L, out, r.maxString)
	L.SetContext(runCtx)

	started := time.Now()
	err := L.DoString(source)
	elapsed := time.Since(started)

	var outcome Outcome
	switch {
	case err == nil:
		outcome = Success(out.String())
	case ctx.Err() != nil:
		// the caller gave up; this is not the program's fault
		return Outcome{}, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome = Failure(fmt.Sprintf("timed out after %s", r.timeout), out.String())
	default:
		outcome = Failure(luaErrorReason(err), out.String())
	}
	outcome.Duration = elapsed
	return outcome, nil
}

func luaErrorReason(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

// openSafeLibs loads only the safe standard libraries and routes print to out.
func openSafeLibs(L *lua.LState, out *limitedBuffer, maxString int) {
	lua.OpenBase(L)

	// Remove dangerous base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("collectgarbage", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if str, ok := L.GetGlobal("string").(*lua.LTable); ok {
		L.SetField(str, "rep", L.NewFunction(cappedRep(maxString)))
	}

	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		_, _ = out.Write([]byte(strings.Join(parts, "\t") + "\n"))
		return 0
	}))
}

// cappedRep is string.rep refusing results longer than limit bytes.
func cappedRep(limit int) lua.LGFunction {
	return func(L *lua.LState) int {
		s := L.CheckString(1)
		n := L.CheckInt(2)
		if n <= 0 || s == "" {
			L.Push(lua.LString(""))
			return 1
		}
		if n > limit/len(s) {
			L.RaiseError("string.rep result larger than %d bytes", limit)
			return 0
		}
		L.Push(lua.LString(strings.Repeat(s, n)))
		return 1
	}
}
