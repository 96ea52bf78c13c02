package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory provides a central place to create and access repositories
type Factory struct {
	db           *gorm.DB
	repositories *Repositories
	once         sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

// GetRepositories returns the repositories, creating them on first use
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repositories = NewRepositories(f.db)
	})
	return f.repositories
}

// Global factory instance
var (
	globalFactory *Factory
	factoryMutex  sync.RWMutex
)

// InitializeFactory sets up the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	globalFactory = NewFactory(db)
}

// GetGlobalFactory returns the global repository factory
func GetGlobalFactory() *Factory {
	factoryMutex.RLock()
	defer factoryMutex.RUnlock()
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories is a convenience function to get repositories from the global factory
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
