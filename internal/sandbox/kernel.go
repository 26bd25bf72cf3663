// Package sandbox hosts the per-submission guest lifecycle: goja runtime
// creation, prelude injection, capability bridging, timeout enforcement,
// and result stringification. One Kernel evaluates one submission at a
// time; a fresh runtime is created and disposed on every call.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/Potat-Industries/eval-server/internal/potatctx"
	"github.com/Potat-Industries/eval-server/internal/sandboxfetch"
)

// guestMaxCallStackSize bounds goja's interpreter recursion depth. goja
// exposes no API to cap a Runtime's heap usage directly (there is no
// SetMemoryLimit on *goja.Runtime in this pinned version); the call-stack
// bound is the only guest resource ceiling goja itself offers, so it is the
// closest available guard against a guest exhausting memory via unbounded
// recursion. The §4.4 8 MiB figure is therefore a target, not an enforced
// ceiling: nothing in this process currently bounds guest heap allocation
// directly.
const guestMaxCallStackSize = 256

// Config controls per-evaluation limits.
type Config struct {
	VMTimeout time.Duration // default guest cap, e.g. 14s
}

// Bridge is the set of host collaborators installed into every guest.
type Bridge struct {
	Fetch   *sandboxfetch.Fetcher
	Command CommandFunc
	Store   StoreOps
}

// CommandFunc issues a reverse call to a connected socket client and waits
// for the reply or a 10s timeout.
type CommandFunc func(ctx context.Context, name string, args []string, callerMsg map[string]interface{}) (map[string]interface{}, error)

// StoreOps is the subset of the KV facade the bridge exposes to the guest.
type StoreOps interface {
	Get(ctx context.Context, key string, flag *int, ids IdsArg) (string, error)
	Set(ctx context.Context, key string, value interface{}, flag *int, ids IdsArg, ex int) error
	Del(ctx context.Context, key string, flag *int, ids IdsArg) error
	Len(ctx context.Context, flag *int, ids IdsArg) (int64, error)
	Ex(ctx context.Context, key string, seconds int, flag *int, ids IdsArg) (bool, error)
}

// IdsArg carries the identifiers needed for scoped key derivation, pulled
// from the submission's msg payload.
type IdsArg struct {
	UserID    string
	CommandID string
	ChannelID string
}

// Kernel evaluates untrusted code under a fresh goja runtime per call.
type Kernel struct {
	cfg    Config
	bridge Bridge
}

func New(cfg Config, bridge Bridge) *Kernel {
	if cfg.VMTimeout <= 0 {
		cfg.VMTimeout = 14 * time.Second
	}
	return &Kernel{cfg: cfg, bridge: bridge}
}

// Evaluate runs code against msg and returns the stringified result. It
// never returns a guest error to the caller as an error value: guest
// failures are returned as a "🚫 Name: message" string per §4.4.
func (k *Kernel) Evaluate(ctx context.Context, code string, msg map[string]interface{}, maxResultLen int) string {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.SetMaxCallStackSize(guestMaxCallStackSize)
	defer vm.ClearInterrupt()

	vm.Set("global", vm.GlobalObject())

	callerCtx := potatctx.Build(msg)
	ids := extractIdsArg(msg)

	installUtilities(vm)
	installBridge(vm, k.bridge, callerCtx, ids, msg)

	msgJSON, err := marshalGuestMsg(msg)
	if err != nil {
		return truncate(fmt.Sprintf("🚫 TypeError: %s", err.Error()), maxResultLen)
	}

	prelude := buildPrelude(msgJSON)
	if _, err := vm.RunString(prelude); err != nil {
		return truncate(fmt.Sprintf("🚫 %s", describeGojaError(err)), maxResultLen)
	}

	wrapped, isAsync := wrapCode(code)

	deadline := k.cfg.VMTimeout + 1000*time.Millisecond
	done := make(chan struct{})
	timer := time.AfterFunc(deadline, func() {
		vm.Interrupt("execution timeout")
	})
	defer timer.Stop()

	evalCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	go func() {
		select {
		case <-evalCtx.Done():
			vm.Interrupt("execution timeout")
		case <-done:
		}
	}()

	value, err := vm.RunString(wrapped)
	close(done)

	if err != nil {
		return truncate(fmt.Sprintf("🚫 %s", describeGojaError(err)), maxResultLen)
	}

	if isAsync {
		result, err := resolvePromise(vm, value, deadline)
		if err != nil {
			return truncate(fmt.Sprintf("🚫 %s", describeGojaError(err)), maxResultLen)
		}
		return truncate(result, maxResultLen)
	}

	return truncate(value.String(), maxResultLen)
}

// extractIdsArg pulls the scoped-key identifiers out of a submission's msg
// payload: user.id, command.id, channel.id.
func extractIdsArg(msg map[string]interface{}) IdsArg {
	var ids IdsArg
	if msg == nil {
		return ids
	}
	if user, ok := msg["user"].(map[string]interface{}); ok {
		ids.UserID = idString(user["id"])
	}
	if cmd, ok := msg["command"].(map[string]interface{}); ok {
		ids.CommandID = idString(cmd["id"])
	}
	if channel, ok := msg["channel"].(map[string]interface{}); ok {
		ids.ChannelID = idString(channel["id"])
	}
	return ids
}

func idString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%g", val)
	case int:
		return fmt.Sprintf("%d", val)
	default:
		return ""
	}
}

func resolvePromise(vm *goja.Runtime, value goja.Value, deadline time.Duration) (string, error) {
	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return value.String(), nil
	}

	deadlineAt := time.Now().Add(deadline)
	for promise.State() == goja.PromiseStatePending {
		if time.Now().After(deadlineAt) {
			return "", fmt.Errorf("Error: execution timeout")
		}
		if _, err := vm.RunString("1"); err != nil {
			return "", err
		}
		time.Sleep(time.Millisecond)
	}

	if promise.State() == goja.PromiseStateRejected {
		reason := promise.Result()
		return "", &guestRejection{msg: stringifyValue(vm, reason)}
	}

	return stringifyValue(vm, promise.Result()), nil
}

// guestRejection carries a rejected promise's reason, already stringified
// by the guest toString helper (an Error becomes "Name: message").
type guestRejection struct{ msg string }

func (e *guestRejection) Error() string { return e.msg }

func describeGojaError(err error) string {
	if rej, ok := err.(*guestRejection); ok {
		return rej.msg
	}
	if exc, ok := err.(*goja.Exception); ok {
		val := exc.Value()
		if obj, ok := val.(*goja.Object); ok {
			name := obj.Get("name")
			message := obj.Get("message")
			if name != nil && message != nil {
				return fmt.Sprintf("%s: %s", name.String(), message.String())
			}
		}
		return val.String()
	}
	if strings.Contains(err.Error(), "timeout") {
		return "Error: execution timeout"
	}
	return fmt.Sprintf("Error: %s", err.Error())
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		limit = 10_000
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
