// Package storage provides the object stores behind file deposits.
package storage

import (
	"fmt"
	"net/http"

	"classhub/internal/config"
	"classhub/pkg/interfaces"
)

// New builds the object store selected by cfg.Provider. The returned
// handler serves stored objects and is nil for hosted providers.
func New(cfg config.StorageConfig) (interfaces.ObjectStore, http.Handler, error) {
	switch cfg.Provider {
	case config.ProviderLocal:
		store, err := NewLocalStore(cfg.LocalDir, cfg.LocalBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Handler(), nil
	case config.ProviderCloudinary:
		store, err := NewCloudinaryStore(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
