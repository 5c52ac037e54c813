// Package pipeline implements the tasks that consume request results:
// the data storage pipeline feeding the historic document store and
// the target discovery pipeline feeding the target collection.
package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360studio/trawler/historic"
)

// DocumentBuilder constructs a concrete historic document from one raw
// record of a request result.
type DocumentBuilder func(record map[string]any) (historic.Document, error)

// FactoryRegistry maps document type names to their builders. Source
// adapters register their document types at startup; the data storage
// pipeline looks them up by the document_type kwarg.
type FactoryRegistry struct {
	mu       sync.RWMutex
	builders map[string]DocumentBuilder
}

// NewFactoryRegistry returns an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{builders: make(map[string]DocumentBuilder)}
}

// Register binds a builder to a document type name.
func (f *FactoryRegistry) Register(documentType string, builder DocumentBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[documentType] = builder
}

// Build constructs a document of the given type from a raw record.
func (f *FactoryRegistry) Build(documentType string, record map[string]any) (historic.Document, error) {
	f.mu.RLock()
	builder, ok := f.builders[documentType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no builder registered for document type %q", documentType)
	}
	doc, err := builder(record)
	if err != nil {
		return nil, fmt.Errorf("build %s document: %w", documentType, err)
	}
	return doc, nil
}

// Types returns the registered document type names, sorted.
func (f *FactoryRegistry) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for name := range f.builders {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
