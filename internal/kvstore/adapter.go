package kvstore

import (
	"context"

	"github.com/Potat-Industries/eval-server/internal/sandbox"
)

// BridgeAdapter exposes a Store as a sandbox.StoreOps, translating the
// guest's raw int scope flag into this package's ScopeFlags and the
// submission's msg-derived IdsArg into Ids.
type BridgeAdapter struct {
	store *Store
}

func NewBridgeAdapter(store *Store) *BridgeAdapter {
	return &BridgeAdapter{store: store}
}

func (a *BridgeAdapter) Get(ctx context.Context, key string, flag *int, ids sandbox.IdsArg) (string, error) {
	return a.store.Get(ctx, key, toScopeFlags(flag), toIds(ids))
}

func (a *BridgeAdapter) Set(ctx context.Context, key string, value interface{}, flag *int, ids sandbox.IdsArg, ex int) error {
	return a.store.Set(ctx, key, value, toScopeFlags(flag), toIds(ids), ex)
}

func (a *BridgeAdapter) Del(ctx context.Context, key string, flag *int, ids sandbox.IdsArg) error {
	return a.store.Del(ctx, key, toScopeFlags(flag), toIds(ids))
}

func (a *BridgeAdapter) Len(ctx context.Context, flag *int, ids sandbox.IdsArg) (int64, error) {
	return a.store.Len(ctx, toScopeFlags(flag), toIds(ids))
}

func (a *BridgeAdapter) Ex(ctx context.Context, key string, seconds int, flag *int, ids sandbox.IdsArg) (bool, error) {
	return a.store.Ex(ctx, key, seconds, toScopeFlags(flag), toIds(ids))
}

func toScopeFlags(flag *int) *ScopeFlags {
	if flag == nil {
		return nil
	}
	f := ScopeFlags(*flag)
	return &f
}

func toIds(ids sandbox.IdsArg) Ids {
	return Ids{UserID: ids.UserID, CommandID: ids.CommandID, ChannelID: ids.ChannelID}
}

var _ sandbox.StoreOps = (*BridgeAdapter)(nil)
