// Package kvstore implements the guest-visible scoped key-value facade
// backed by a Redis hash per scoped key.
package kvstore

import "fmt"

// ScopeFlags is the bitfield controlling scoped key derivation.
type ScopeFlags int

const (
	ScopeCommand ScopeFlags = 1 << 1
	ScopeUser    ScopeFlags = 1 << 2
	ScopeChannel ScopeFlags = 1 << 3
)

// Ids carries the identifiers a scoped key may need, taken from the
// submission's msg payload.
type Ids struct {
	UserID    string
	CommandID string
	ChannelID string
}

// DeriveKey builds the scoped key string. Segments are emitted in fixed
// order (user, command, channel) for each set bit. If flag is nil or not a
// valid bitfield, the key defaults to user:<id>:channel:<id>.
func DeriveKey(flag *ScopeFlags, ids Ids) (string, error) {
	if flag == nil {
		return defaultKey(ids)
	}

	f := *flag
	if f <= 0 {
		return defaultKey(ids)
	}

	var segments []string
	if f&ScopeUser != 0 {
		if ids.UserID == "" {
			return "", fmt.Errorf("userID is required for user scope")
		}
		segments = append(segments, "user", ids.UserID)
	}
	if f&ScopeCommand != 0 {
		if ids.CommandID == "" {
			return "", fmt.Errorf("commandID is required for command scope")
		}
		segments = append(segments, "command", ids.CommandID)
	}
	if f&ScopeChannel != 0 {
		if ids.ChannelID == "" {
			return "", fmt.Errorf("channelID is required for channel scope")
		}
		segments = append(segments, "channel", ids.ChannelID)
	}

	if len(segments) == 0 {
		return defaultKey(ids)
	}

	key := segments[0]
	for i := 1; i < len(segments); i++ {
		key += ":" + segments[i]
	}
	return key, nil
}

func defaultKey(ids Ids) (string, error) {
	return fmt.Sprintf("user:%s:channel:%s", ids.UserID, ids.ChannelID), nil
}
