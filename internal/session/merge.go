package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dialogdesk/dialogdesk/internal/models"
)

// applyUpdate produces the state that results from deep-merging a partial
// update into the current state. Scalars and arrays in the update replace
// the stored value wholesale; nested objects are merged key by key,
// recursively, so keys the update omits are preserved.
//
// lastActivityAt is always stamped to now. messageCount is incremented
// unless the update sets it explicitly. Blank values inside collected_slots
// are dropped so a previously collected slot is never erased by an empty
// extraction.
func applyUpdate(current *models.ConversationState, update models.StateUpdate, now time.Time) (*models.ConversationState, error) {
	base, err := toMap(current)
	if err != nil {
		return nil, fmt.Errorf("encode current state: %w", err)
	}
	patch, err := toMap(map[string]any(update))
	if err != nil {
		return nil, fmt.Errorf("encode state update: %w", err)
	}
	pruneBlankSlots(patch)

	merged := deepMerge(base, patch)
	if _, ok := patch["message_count"]; !ok {
		merged["message_count"] = current.MessageCount + 1
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged state: %w", err)
	}
	var next models.ConversationState
	if err := json.Unmarshal(raw, &next); err != nil {
		return nil, fmt.Errorf("decode merged state: %w", err)
	}

	// The merge can never move a state between sessions.
	next.SessionID = current.SessionID
	next.LastActivityAt = now
	return &next, nil
}

// deepMerge merges src into dst in place and returns dst. Nested objects
// are merged recursively; everything else in src replaces dst's value.
func deepMerge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		sv, srcIsMap := v.(map[string]any)
		if srcIsMap {
			if dv, dstIsMap := dst[k].(map[string]any); dstIsMap {
				dst[k] = deepMerge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// pruneBlankSlots removes empty-string values from the collected_slots
// object of a patch: collected slots are append/overwrite-only with
// non-empty values.
func pruneBlankSlots(patch map[string]any) {
	slots, ok := patch["collected_slots"].(map[string]any)
	if !ok {
		return
	}
	for name, v := range slots {
		if s, isString := v.(string); isString && s == "" {
			delete(slots, name)
		}
	}
	if len(slots) == 0 {
		delete(patch, "collected_slots")
	}
}

// toMap round-trips a value through JSON into a generic map so that the
// merge operates on the state's wire representation.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
