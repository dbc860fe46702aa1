package storage

import (
	"fmt"
	"sync"
)

type Registry struct {
	factories map[string]StorageFactory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]StorageFactory),
	}
}

func (r *Registry) Register(storageType string, factory StorageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[storageType] = factory
}

func (r *Registry) Create(storageType string, config StorageConfig) (Storage, error) {
	r.mu.RLock()
	factory, exists := r.factories[storageType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("storage type %s not registered", storageType)
	}

	return factory.Create(config)
}

func (r *Registry) IsRegistered(storageType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[storageType]
	return exists
}

// Default registry shared by the backend adapter packages, which register
// themselves from init()
var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry
func Register(storageType string, factory StorageFactory) {
	defaultRegistry.Register(storageType, factory)
}

// Create builds a storage adapter using the default registry
func Create(storageType string, config StorageConfig) (Storage, error) {
	return defaultRegistry.Create(storageType, config)
}
