package repository

import (
	"context"
	"encoding/json"
	"fmt"
)

// BindingsKey is the key under which the task id to notification handle map is stored.
const BindingsKey = "task_notification_ids"

// BindingRepository persists the whole task id -> notification handle map
// as a single JSON value.
type BindingRepository struct {
	kv KVStore
}

func NewBindingRepository(kv KVStore) *BindingRepository {
	return &BindingRepository{kv: kv}
}

// Load returns the stored map; a missing key yields an empty map.
func (r *BindingRepository) Load(ctx context.Context) (map[string]string, error) {
	raw, ok, err := r.kv.Get(ctx, BindingsKey)
	if err != nil {
		return map[string]string{}, err
	}
	bindings := map[string]string{}
	if !ok || raw == "" {
		return bindings, nil
	}
	if err := json.Unmarshal([]byte(raw), &bindings); err != nil {
		return map[string]string{}, fmt.Errorf("decode bindings: %w", err)
	}
	return bindings, nil
}

// Save replaces the stored map.
func (r *BindingRepository) Save(ctx context.Context, bindings map[string]string) error {
	if bindings == nil {
		bindings = map[string]string{}
	}
	data, err := json.Marshal(bindings)
	if err != nil {
		return fmt.Errorf("encode bindings: %w", err)
	}
	return r.kv.Set(ctx, BindingsKey, string(data))
}

// Clear removes the stored map.
func (r *BindingRepository) Clear(ctx context.Context) error {
	return r.kv.Delete(ctx, BindingsKey)
}
