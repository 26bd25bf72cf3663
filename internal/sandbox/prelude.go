package sandbox

import (
	"encoding/json"
	"strings"

	"github.com/dop251/goja"
)

// buildPrelude returns the guest bootstrap script: a toString helper and a
// parsed msg constant. toString handles strings, Error-likes, thenables,
// arrays, and falls back to JSON for everything else.
func buildPrelude(msgJSON string) string {
	var b strings.Builder
	b.WriteString("const msg = ")
	b.WriteString(msgJSON)
	b.WriteString(";\n")
	b.WriteString(`
function toString(value) {
	if (typeof value === "string") {
		return value;
	}
	if (value instanceof Error) {
		return value.name + ": " + value.message;
	}
	if (value && typeof value.then === "function") {
		return value.then(toString);
	}
	if (Array.isArray(value)) {
		return value.map(toString).join(",");
	}
	try {
		return JSON.stringify(value);
	} catch (e) {
		return String(value);
	}
}
`)
	return b.String()
}

// wrapCode detects async form via a naive substring check on "return" or
// "await" and wraps accordingly. This mirrors the original protocol: both
// substrings trigger async wrapping even inside identifiers such as
// "returnValue" or "awaited" — that false-positive is intentional and
// preserved, not fixed.
func wrapCode(code string) (string, bool) {
	if strings.Contains(code, "return") || strings.Contains(code, "await") {
		return "toString((async function evaluate(){ " + code + " })())", true
	}
	return "toString(eval(\"" + escapeForEval(code) + "\"))", false
}

func escapeForEval(code string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `'`, `\'`)
	return replacer.Replace(code)
}

func marshalGuestMsg(msg map[string]interface{}) (string, error) {
	if msg == nil {
		return "{}", nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func stringifyValue(vm *goja.Runtime, value goja.Value) string {
	fn, ok := goja.AssertFunction(vm.Get("toString"))
	if !ok {
		return value.String()
	}
	result, err := fn(goja.Undefined(), value)
	if err != nil {
		return value.String()
	}
	return result.String()
}
