// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Func is a host-callable function. Lua functions leaving a context become
// Funcs bound to that context; Funcs entering a context become Lua functions.
type Func func(ctx context.Context, args ...any) ([]any, error)

// Exporter is implemented by host values that present themselves to plugin
// code as a table of fields and functions.
type Exporter interface {
	Export() map[string]any
}

// Invoker is implemented by Exporters whose table can be called directly.
type Invoker interface {
	Invoke(ctx context.Context, args ...any) ([]any, error)
}

// hostErrorType names the metatable of userdata carrying host errors.
const hostErrorType = "marktime.error"

// FromGo converts a host value into a Lua value owned by this context.
//
// Supported: nil, bool, all integer and float kinds, string, Func, Exporter,
// slices and arrays (as sequences), maps with string keys, and lua.LValue
// values (passed through). Anything else is wrapped in userdata so it can be
// handed back to the host unchanged.
func (c *Context) FromGo(v any) lua.LValue {
	L := c.state
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case Func:
		return L.NewFunction(c.hostFunction(val, nil))
	case func(ctx context.Context, args ...any) ([]any, error):
		return L.NewFunction(c.hostFunction(val, nil))
	case Exporter:
		t := c.tableFromMap(val.Export())
		if inv, ok := val.(Invoker); ok {
			mt := L.CreateTable(0, 1)
			mt.RawSetString("__call", L.NewFunction(c.hostFunction(inv.Invoke, t)))
			L.SetMetatable(t, mt)
		}
		return t
	case map[string]any:
		return c.tableFromMap(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(c.FromGo(item))
		}
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Slice, reflect.Array:
		t := L.CreateTable(rv.Len(), 0)
		for i := range rv.Len() {
			t.Append(c.FromGo(rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			t := L.CreateTable(0, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				t.RawSetString(iter.Key().String(), c.FromGo(iter.Value().Interface()))
			}
			return t
		}
	}

	ud := L.NewUserData()
	ud.Value = v
	return ud
}

// tableFromMap builds a table whose function fields accept both t.fn(...)
// and t:fn(...) call styles.
func (c *Context) tableFromMap(m map[string]any) *lua.LTable {
	L := c.state
	t := L.CreateTable(0, len(m))

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch fn := m[k].(type) {
		case Func:
			t.RawSetString(k, L.NewFunction(c.hostFunction(fn, t)))
		case func(ctx context.Context, args ...any) ([]any, error):
			t.RawSetString(k, L.NewFunction(c.hostFunction(fn, t)))
		default:
			t.RawSetString(k, c.FromGo(fn))
		}
	}
	return t
}

// hostFunction adapts fn into a Lua function. When receiver is set and the
// first argument is that table, it is dropped (method-call syntax). Errors
// are raised as userdata so the host error survives the trip through Lua.
func (c *Context) hostFunction(fn Func, receiver *lua.LTable) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		start := 1
		if receiver != nil && top >= 1 && L.Get(1) == receiver {
			start = 2
		}

		args := make([]any, 0, top)
		for i := start; i <= top; i++ {
			v, err := c.ToGo(L.Get(i))
			if err != nil {
				c.raise(L, err)
				return 0
			}
			args = append(args, v)
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		out, err := fn(ctx, args...)
		if err != nil {
			c.raise(L, err)
			return 0
		}
		for _, v := range out {
			L.Push(c.FromGo(v))
		}
		return len(out)
	}
}

// ToGo converts a Lua value owned by this context into a host value.
//
// Sequences (tables whose keys are exactly 1..n) become []any, other tables
// become map[string]any with keys rendered as strings, numbers become
// float64, Lua functions become Funcs bound to this context, and userdata
// yields its wrapped host value. Cyclic tables are rejected.
func (c *Context) ToGo(v lua.LValue) (any, error) {
	return c.toGo(v, make(map[*lua.LTable]bool))
}

func (c *Context) toGo(v lua.LValue, visiting map[*lua.LTable]bool) (any, error) {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		return float64(val), nil
	case lua.LString:
		return string(val), nil
	case *lua.LUserData:
		return val.Value, nil
	case *lua.LFunction:
		return c.boundFunc(val), nil
	case *lua.LTable:
		return c.tableToGo(val, visiting)
	default:
		return nil, oops.In("sandbox").With("sandbox", c.name).With("type", v.Type().String()).
			New("value cannot leave the sandbox")
	}
}

func (c *Context) tableToGo(t *lua.LTable, visiting map[*lua.LTable]bool) (any, error) {
	if visiting[t] {
		return nil, oops.In("sandbox").With("sandbox", c.name).New("cyclic table cannot leave the sandbox")
	}
	visiting[t] = true
	defer delete(visiting, t)

	// Keys are distinct, so positive integer keys whose maximum equals their
	// count are exactly 1..n, whether they live in the array or hash part.
	count, maxKey := 0, 0
	sequence := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		n, ok := k.(lua.LNumber)
		if !ok || float64(n) != float64(int(n)) || int(n) < 1 {
			sequence = false
			return
		}
		maxKey = max(maxKey, int(n))
	})
	if sequence && count > 0 && maxKey != count {
		sequence = false
	}

	var firstErr error
	if sequence {
		out := make([]any, count)
		for i := 1; i <= count; i++ {
			item, err := c.toGo(t.RawGetInt(i), visiting)
			if err != nil {
				return nil, err
			}
			out[i-1] = item
		}
		return out, nil
	}

	out := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		if firstErr != nil {
			return
		}
		item, err := c.toGo(v, visiting)
		if err != nil {
			firstErr = err
			return
		}
		out[keyString(k)] = item
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func keyString(k lua.LValue) string {
	if n, ok := k.(lua.LNumber); ok {
		return fmt.Sprint(float64(n))
	}
	return k.String()
}

// boundFunc proxies calls back into this context.
func (c *Context) boundFunc(fn *lua.LFunction) Func {
	return func(ctx context.Context, args ...any) ([]any, error) {
		return c.Call(ctx, fn, args...)
	}
}

func (c *Context) raise(L *lua.LState, err error) {
	ud := L.NewUserData()
	ud.Value = err
	L.SetMetatable(ud, errorMetatable(L))
	L.Error(ud, 1)
}

func errorMetatable(L *lua.LState) *lua.LTable {
	mt := L.NewTypeMetatable(hostErrorType)
	if mt.RawGetString("__tostring") == lua.LNil {
		mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
			ud := L.CheckUserData(1)
			if err, ok := ud.Value.(error); ok {
				L.Push(lua.LString(err.Error()))
				return 1
			}
			L.Push(lua.LString(hostErrorType))
			return 1
		}))
	}
	return mt
}

// hostError extracts a host error raised through Lua, if err carries one.
func hostError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return nil
	}
	ud, ok := apiErr.Object.(*lua.LUserData)
	if !ok {
		return nil
	}
	herr, _ := ud.Value.(error)
	return herr
}
