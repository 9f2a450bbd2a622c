package restate

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dehydrate captures the state snapshots of every cached instance, keyed by
// spec name, as YAML. Dispatch history and effect state are not captured;
// only data that Hydrate can meaningfully restore.
func Dehydrate(c *Container) ([]byte, error) {
	payload := make(map[string]map[string]any)
	for _, inst := range c.Instances() {
		name := inst.Spec().Name()
		if _, dup := payload[name]; dup {
			return nil, fmt.Errorf("dehydrate: duplicate spec name %q", name)
		}
		payload[name] = inst.store.Snapshot()
	}
	return yaml.Marshal(payload)
}

// Hydrate merges previously captured snapshots into the container's cached
// instances, matching on spec name. Snapshots for specs without a live
// instance are skipped. Merging goes through the normal write path, so
// equality gating and notifications apply.
func Hydrate(c *Container, data []byte) error {
	var payload map[string]map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	byName := make(map[string]*Instance)
	for _, inst := range c.Instances() {
		byName[inst.Spec().Name()] = inst
	}
	for name, snapshot := range payload {
		inst, ok := byName[name]
		if !ok {
			continue
		}
		inst.store.Merge(snapshot)
	}
	return nil
}
