package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/stockimport/internal/job"
)

var (
	datasets   = make(map[job.DatasetType]DatasetDefinition)
	datasetsMu sync.RWMutex
)

// Register adds a dataset definition to the registry.
// Panics if a dataset with the same key is already registered.
func Register(def DatasetDefinition) {
	datasetsMu.Lock()
	defer datasetsMu.Unlock()

	if def.Info.Key == "" || def.Info.Key == job.DatasetAuto {
		panic(fmt.Sprintf("invalid dataset key: %q", def.Info.Key))
	}
	if _, exists := datasets[def.Info.Key]; exists {
		panic(fmt.Sprintf("dataset already registered: %s", def.Info.Key))
	}

	// Populate Columns from FieldSpecs if not set
	if len(def.Info.Columns) == 0 && len(def.FieldSpecs) > 0 {
		def.Info.Columns = make([]string, len(def.FieldSpecs))
		for i, spec := range def.FieldSpecs {
			def.Info.Columns[i] = spec.Name
		}
	}

	datasets[def.Info.Key] = def
}

// Dataset returns a dataset definition by key.
func Dataset(key job.DatasetType) (DatasetDefinition, bool) {
	datasetsMu.RLock()
	defer datasetsMu.RUnlock()

	def, ok := datasets[key]
	return def, ok
}

// AllDatasets returns all registered definitions sorted by key.
func AllDatasets() []DatasetDefinition {
	datasetsMu.RLock()
	defer datasetsMu.RUnlock()

	result := make([]DatasetDefinition, 0, len(datasets))
	for _, def := range datasets {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})
	return result
}

// DatasetCount returns the number of registered datasets.
func DatasetCount() int {
	datasetsMu.RLock()
	defer datasetsMu.RUnlock()
	return len(datasets)
}
