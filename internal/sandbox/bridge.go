package sandbox

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/Potat-Industries/eval-server/internal/potatctx"
	"github.com/Potat-Industries/eval-server/internal/sandboxfetch"
)

// installBridge injects store, fetch, command, permissions, and the
// process.exit thrower onto the guest global object, then freezes the
// capability handles so guest code cannot reassign them.
func installBridge(vm *goja.Runtime, bridge Bridge, callerCtx *potatctx.Context, ids IdsArg, callerMsg map[string]interface{}) {
	store := vm.NewObject()
	installStoreMethods(vm, store, bridge.Store, ids)
	_ = vm.Set("store", store)
	_ = vm.Set("s", store)

	permissions := vm.NewObject()
	_ = permissions.Set("user", int(1<<2))
	_ = permissions.Set("command", int(1<<1))
	_ = permissions.Set("channel", int(1<<3))
	_ = vm.Set("permissions", permissions)
	_ = vm.Set("p", permissions)

	_ = vm.Set("fetch", makeFetchFunc(vm, bridge.Fetch, callerCtx))

	if bridge.Command != nil {
		_ = vm.Set("command", makeCommandFunc(vm, bridge.Command, callerMsg))
	}

	process := vm.NewObject()
	_ = process.Set("exit", func(goja.FunctionCall) goja.Value {
		panic(vm.ToValue("process.exit is disabled in guest code"))
	})
	_ = vm.Set("process", process)

	freeze(vm, "store")
	freeze(vm, "permissions")
	freeze(vm, "fetch")
	if bridge.Command != nil {
		freeze(vm, "command")
	}
}

func freeze(vm *goja.Runtime, name string) {
	_, _ = vm.RunString(`Object.freeze(` + name + `);`)
}

func installStoreMethods(vm *goja.Runtime, store *goja.Object, ops StoreOps, ids IdsArg) {
	_ = store.Set("get", func(call goja.FunctionCall) goja.Value {
		if ops == nil {
			panic(vm.ToValue("store is not available"))
		}
		key := call.Argument(0).String()
		flag := parseScopeFlag(call, 1)
		value, err := ops.Get(context.Background(), key, flag, ids)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(value)
	})

	_ = store.Set("set", func(call goja.FunctionCall) goja.Value {
		if ops == nil {
			panic(vm.ToValue("store is not available"))
		}
		key := call.Argument(0).String()
		value := call.Argument(1).Export()
		flag := parseScopeFlag(call, 2)
		ex := 0
		if len(call.Arguments) > 3 {
			ex = int(call.Argument(3).ToInteger())
		}
		if err := ops.Set(context.Background(), key, value, flag, ids, ex); err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return goja.Undefined()
	})

	_ = store.Set("del", func(call goja.FunctionCall) goja.Value {
		if ops == nil {
			panic(vm.ToValue("store is not available"))
		}
		key := call.Argument(0).String()
		flag := parseScopeFlag(call, 1)
		if err := ops.Del(context.Background(), key, flag, ids); err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return goja.Undefined()
	})

	_ = store.Set("len", func(call goja.FunctionCall) goja.Value {
		if ops == nil {
			panic(vm.ToValue("store is not available"))
		}
		flag := parseScopeFlag(call, 0)
		n, err := ops.Len(context.Background(), flag, ids)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(n)
	})

	_ = store.Set("ex", func(call goja.FunctionCall) goja.Value {
		if ops == nil {
			panic(vm.ToValue("store is not available"))
		}
		key := call.Argument(0).String()
		seconds := int(call.Argument(1).ToInteger())
		flag := parseScopeFlag(call, 2)
		ok, err := ops.Ex(context.Background(), key, seconds, flag, ids)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(ok)
	})

	aliases := map[string]string{"g": "get", "s": "set", "d": "del", "l": "len"}
	for alias, target := range aliases {
		_ = store.Set(alias, store.Get(target))
	}
}

// parseScopeFlag reads the optional trailing scope bitfield argument guest
// code passes to a store method (e.g. store.get(key, permissions.user)).
func parseScopeFlag(call goja.FunctionCall, startIdx int) *int {
	if len(call.Arguments) <= startIdx {
		return nil
	}
	arg := call.Argument(startIdx)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return nil
	}
	if n, ok := arg.Export().(int64); ok {
		v := int(n)
		return &v
	}
	if f, ok := arg.Export().(float64); ok {
		v := int(f)
		return &v
	}
	return nil
}

func makeFetchFunc(vm *goja.Runtime, fetcher *sandboxfetch.Fetcher, callerCtx *potatctx.Context) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if fetcher == nil {
			panic(vm.ToValue("fetch is not available"))
		}
		rawURL := call.Argument(0).String()

		var opts sandboxfetch.Options
		if len(call.Arguments) > 1 {
			if m, ok := call.Argument(1).Export().(map[string]interface{}); ok {
				if method, ok := m["method"].(string); ok {
					opts.Method = method
				}
				if b, ok := m["body"].(string); ok {
					opts.Body = b
				}
				if withData, ok := m["withDataHeaders"].(bool); ok {
					opts.WithDataHeaders = withData
				}
				if headers, ok := m["headers"].(map[string]interface{}); ok {
					opts.Headers = make(map[string]string, len(headers))
					for k, v := range headers {
						if s, ok := v.(string); ok {
							opts.Headers[k] = s
						}
					}
				}
			}
		}

		result, err := fetcher.Do(context.Background(), rawURL, opts, callerCtx)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(map[string]interface{}{
			"body":   result.Body,
			"status": result.Status,
		})
	}
}

func makeCommandFunc(vm *goja.Runtime, cmd CommandFunc, callerMsg map[string]interface{}) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.ToValue("command name is required"))
		}
		name := call.Argument(0).String()

		args := make([]string, 0, len(call.Arguments)-1)
		for _, a := range call.Arguments[1:] {
			v := a.Export()
			s, ok := v.(string)
			if !ok {
				panic(vm.ToValue("command arguments must be strings"))
			}
			args = append(args, s)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msg := make(map[string]interface{}, len(callerMsg)+1)
		for k, v := range callerMsg {
			msg[k] = v
		}
		msg["text"] = strings.Join(args, " ")

		reply, err := cmd(ctx, name, args, msg)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(reply)
	}
}

// installUtilities injects the random-utility guest helpers named in §4.4.
// These are exposed but not part of the core.
func installUtilities(vm *goja.Runtime) {
	_ = vm.Set("randomString", func(call goja.FunctionCall) goja.Value {
		length := 8
		if len(call.Arguments) > 0 {
			length = int(call.Argument(0).ToInteger())
		}
		const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		out := make([]byte, length)
		for i := range out {
			out[i] = charset[rand.Intn(len(charset))]
		}
		return vm.ToValue(string(out))
	})

	_ = vm.Set("randomInt", func(call goja.FunctionCall) goja.Value {
		min := int(call.Argument(0).ToInteger())
		max := int(call.Argument(1).ToInteger())
		if max <= min {
			return vm.ToValue(min)
		}
		return vm.ToValue(min + rand.Intn(max-min))
	})

	_ = vm.Set("shuffleArray", func(call goja.FunctionCall) goja.Value {
		arr, ok := call.Argument(0).Export().([]interface{})
		if !ok {
			return call.Argument(0)
		}
		shuffled := make([]interface{}, len(arr))
		copy(shuffled, arr)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		return vm.ToValue(shuffled)
	})

	_ = vm.Set("shuffleString", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		runes := []rune(s)
		rand.Shuffle(len(runes), func(i, j int) {
			runes[i], runes[j] = runes[j], runes[i]
		})
		return vm.ToValue(string(runes))
	})

	_ = vm.Set("splitArray", func(call goja.FunctionCall) goja.Value {
		arr, ok := call.Argument(0).Export().([]interface{})
		if !ok {
			return vm.ToValue([]interface{}{})
		}
		size := int(call.Argument(1).ToInteger())
		if size <= 0 {
			size = 1
		}
		var chunks []interface{}
		for i := 0; i < len(arr); i += size {
			end := i + size
			if end > len(arr) {
				end = len(arr)
			}
			chunks = append(chunks, arr[i:end])
		}
		return vm.ToValue(chunks)
	})

	_ = vm.Set("randomSlice", func(call goja.FunctionCall) goja.Value {
		arr, ok := call.Argument(0).Export().([]interface{})
		if !ok || len(arr) == 0 {
			return vm.ToValue([]interface{}{})
		}
		n := int(call.Argument(1).ToInteger())
		if n <= 0 || n > len(arr) {
			n = len(arr)
		}
		shuffled := make([]interface{}, len(arr))
		copy(shuffled, arr)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		return vm.ToValue(shuffled[:n])
	})

	_ = vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64Decode(call.Argument(0).String()))
	})

	_ = vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64Encode(call.Argument(0).String()))
	})

	_ = vm.Set("humanizeDuration", func(call goja.FunctionCall) goja.Value {
		ms := call.Argument(0).ToInteger()
		return vm.ToValue(humanizeDuration(time.Duration(ms) * time.Millisecond))
	})
}

func humanizeDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}
	parts := []string{}
	hrs := d / time.Hour
	d -= hrs * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	secs := d / time.Second

	if hrs > 0 {
		parts = append(parts, pluralize(int64(hrs), "hour"))
	}
	if mins > 0 {
		parts = append(parts, pluralize(int64(mins), "minute"))
	}
	if secs > 0 || len(parts) == 0 {
		parts = append(parts, pluralize(int64(secs), "second"))
	}
	return strings.Join(parts, ", ")
}

func pluralize(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return itoa(n) + " " + unit + "s"
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
