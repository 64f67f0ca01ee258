package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[EntityType]TableDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if the entity is already registered or the definition is malformed:
// an alias listed under two fields, a reference to an unknown field, or a
// number column without a field spec.
func Register(def TableDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Info.Entity]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Info.Entity))
	}
	if err := checkDefinition(def); err != nil {
		panic(fmt.Sprintf("invalid definition for %s: %v", def.Info.Entity, err))
	}

	registry[def.Info.Entity] = def
}

func checkDefinition(def TableDefinition) error {
	if def.Info.Table == "" || def.Info.NumberColumn == "" {
		return fmt.Errorf("table and number column are required")
	}
	if _, ok := def.Field(def.Info.NumberColumn); !ok {
		return fmt.Errorf("number column %q has no field spec", def.Info.NumberColumn)
	}

	owner := make(map[string]string)
	for _, f := range def.FieldSpecs {
		for _, alias := range f.Aliases {
			if prev, dup := owner[alias]; dup && prev != f.Name {
				return fmt.Errorf("alias %q listed under %s and %s", alias, prev, f.Name)
			}
			owner[alias] = f.Name
		}
		if f.Type == FieldEnum && len(f.EnumValues) == 0 {
			return fmt.Errorf("enum field %s has no values", f.Name)
		}
	}

	for _, r := range def.References {
		if _, ok := def.Field(r.Field); !ok {
			return fmt.Errorf("reference field %q has no field spec", r.Field)
		}
	}
	return nil
}

// Get returns an entity definition.
// Returns false if not found.
func Get(entity EntityType) (TableDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[entity]
	return def, ok
}

// MustGet returns an entity definition or panics. Only for definitions that
// are known to be registered, such as reference targets.
func MustGet(entity EntityType) TableDefinition {
	def, ok := Get(entity)
	if !ok {
		panic(fmt.Sprintf("entity not registered: %s", entity))
	}
	return def
}

// All returns all registered entity definitions in dependency order.
func All() []TableDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	order := make(map[EntityType]int)
	for i, et := range EntityTypes() {
		order[et] = i
	}

	result := make([]TableDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return order[result[i].Info.Entity] < order[result[j].Info.Entity]
	})

	return result
}

// TableCount returns the number of registered entities.
func TableCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered entities.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[EntityType]TableDefinition)
}
