package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// scriptProber evaluates a user-authored Lua script. Every execution gets a
// fresh interpreter that is closed afterwards, so no state survives between
// executions or leaks across checks. The interpreter is opened with a minimal
// library surface and the only way out of the sandbox is the injected http
// table, which performs requests host-side.
type scriptProber struct {
	source string
	client *http.Client
}

func newScriptProber(path string, client *http.Client) (*scriptProber, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %q: %w", path, err)
	}
	return &scriptProber{source: string(src), client: client}, nil
}

// sandboxLibs is the whitelist of Lua standard libraries loaded into each
// interpreter. No io, no os, no package: scripts cannot touch the filesystem
// or spawn processes.
var sandboxLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// Probe runs the script once. The script controls the pass/fail boundary
// itself: raising an error fails the check with the error text as message,
// returning normally passes it, and a returned string becomes the message.
func (p *scriptProber) Probe(ctx context.Context) (string, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	for _, lib := range sandboxLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return "", fmt.Errorf("loading lua lib %q: %w", lib.name, err)
		}
	}
	// The base lib drags in file loaders; strip them.
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)

	L.SetGlobal("http", p.httpModule(ctx, L))

	if err := L.DoString(p.source); err != nil {
		return "", err
	}

	if L.GetTop() > 0 {
		if s, ok := L.Get(-1).(lua.LString); ok {
			return string(s), nil
		}
	}
	return "", nil
}

// httpModule builds the capability table exposed to the script as the global
// "http". All three functions block until the response arrives and return
// (status, body); transport failures return (0, error text).
func (p *scriptProber) httpModule(ctx context.Context, L *lua.LState) *lua.LTable {
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			return pushResponse(L, p.roundTrip(ctx, http.MethodGet, L.CheckString(1), "", ""))
		},
		"post": func(L *lua.LState) int {
			url := L.CheckString(1)
			body := L.CheckString(2)
			contentType := L.OptString(3, "text/plain")
			return pushResponse(L, p.roundTrip(ctx, http.MethodPost, url, body, contentType))
		},
		"request": func(L *lua.LState) int {
			method := strings.ToUpper(L.CheckString(1))
			url := L.CheckString(2)
			body := L.OptString(3, "")
			return pushResponse(L, p.roundTrip(ctx, method, url, body, ""))
		},
	})
}

type bridgeResponse struct {
	status int
	body   string
}

func pushResponse(L *lua.LState, r bridgeResponse) int {
	L.Push(lua.LNumber(r.status))
	L.Push(lua.LString(r.body))
	return 2
}

func (p *scriptProber) roundTrip(ctx context.Context, method, url, body, contentType string) bridgeResponse {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return bridgeResponse{0, err.Error()}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return bridgeResponse{0, err.Error()}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return bridgeResponse{0, err.Error()}
	}
	return bridgeResponse{resp.StatusCode, string(b)}
}
