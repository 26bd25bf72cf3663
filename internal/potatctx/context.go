// Package potatctx builds the filtered submission context exposed to guest
// code and carried on outbound fetch headers.
package potatctx

import "encoding/json"

// Context is the filtered, serialisable view of a submission's msg payload.
// It is immutable once built and lives for the duration of one submission.
type Context struct {
	User      map[string]interface{} `json:"user,omitempty"`
	Channel   map[string]interface{} `json:"channel,omitempty"`
	ID        string                 `json:"id"`
	Timestamp float64                `json:"timestamp"`
	Platform  string                 `json:"platform"`
	IsSilent  bool                   `json:"isSilent"`
	Emotes    []interface{}          `json:"emotes"`
	Fragments []interface{}          `json:"fragments"`
	Parent    *Context               `json:"parent,omitempty"`
}

// Build strips channel.commands, channel.blocks, and command.description
// from a raw msg mapping and produces the exported Context tree.
func Build(raw map[string]interface{}) *Context {
	if raw == nil {
		return nil
	}

	ctx := &Context{
		ID:        stringField(raw, "id"),
		Platform:  stringField(raw, "platform"),
		Timestamp: numberField(raw, "timestamp"),
		Emotes:    sliceField(raw, "emotes"),
		Fragments: sliceField(raw, "fragments"),
	}

	if cmd, ok := raw["command"].(map[string]interface{}); ok {
		ctx.IsSilent = boolField(cmd, "silent")
	}

	if user, ok := raw["user"].(map[string]interface{}); ok {
		ctx.User = cloneMap(user)
	}

	if channel, ok := raw["channel"].(map[string]interface{}); ok {
		stripped := cloneMap(channel)
		delete(stripped, "commands")
		delete(stripped, "blocks")
		ctx.Channel = stripped
	}

	if parentRaw, ok := raw["parent"].(map[string]interface{}); ok {
		ctx.Parent = Build(parentRaw)
	}

	return ctx
}

// Depth counts this context and all ancestors, used to number
// x-potat-data headers (outermost ancestor gets the largest suffix).
func (c *Context) Depth() int {
	depth := 0
	for cur := c; cur != nil; cur = cur.Parent {
		depth++
	}
	return depth
}

// MarshalChain returns this context and every ancestor as JSON, ordered
// from this context (index 0) outward to the oldest ancestor.
func (c *Context) MarshalChain() ([][]byte, error) {
	var out [][]byte
	for cur := c; cur != nil; cur = cur.Parent {
		b, err := json.Marshal(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func numberField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func boolField(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func sliceField(m map[string]interface{}, key string) []interface{} {
	if v, ok := m[key].([]interface{}); ok {
		return v
	}
	return []interface{}{}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
