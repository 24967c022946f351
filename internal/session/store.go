package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store persists a provider session to a local state file and, when a blob
// store is configured, mirrors it remotely.
type Store struct {
	provider string
	path     string
	blob     BlobStore
}

// NewStore returns a store writing to path. blob may be nil.
func NewStore(provider, path string, blob BlobStore) (*Store, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if path == "" && blob == nil {
		return nil, fmt.Errorf("state path or blob store is required")
	}
	return &Store{provider: provider, path: path, blob: blob}, nil
}

// Load returns the persisted cookies, preferring the local file over the
// blob mirror. A blob hit is written back to the local file.
func (s *Store) Load(ctx context.Context) (map[string]string, error) {
	var localErr error = ErrSessionNotFound
	if s.path != "" {
		state, err := LoadState(s.path)
		if err == nil {
			if err := checkStateFile(s.path); err != nil {
				return nil, err
			}
			loadTotal.WithLabelValues(s.provider, "file").Inc()
			return state.Cookies, nil
		}
		localErr = err
	}

	if s.blob != nil {
		data, err := s.blob.Load(ctx, s.provider)
		if err == nil {
			state, err := DecodeState(data)
			if err != nil {
				return nil, fmt.Errorf("blob: %w", err)
			}
			if s.path != "" {
				if err := WriteState(s.path, state); err != nil {
					saveFailure.WithLabelValues(s.provider).Inc()
					return nil, err
				}
			}
			loadTotal.WithLabelValues(s.provider, "blob").Inc()
			return state.Cookies, nil
		}
		if !errors.Is(err, ErrBlobNotFound) {
			return nil, err
		}
	}

	if !errors.Is(localErr, ErrSessionNotFound) {
		return nil, localErr
	}
	loadTotal.WithLabelValues(s.provider, "none").Inc()
	return nil, ErrSessionNotFound
}

// Save writes cookies locally and mirrors them to the blob store. A failed
// mirror is recorded in metrics but does not fail the save.
func (s *Store) Save(ctx context.Context, cookies map[string]string) error {
	state := State{
		SchemaVersion: SchemaVersion,
		Cookies:       cookies,
		SavedAt:       time.Now().UTC(),
	}
	if err := state.Validate(); err != nil {
		return err
	}

	if s.path != "" {
		if err := WriteState(s.path, state); err != nil {
			saveFailure.WithLabelValues(s.provider).Inc()
			return fmt.Errorf("persist session: %w", err)
		}
	}
	if s.blob == nil {
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := s.blob.Save(ctx, s.provider, data); err != nil {
		remotePersistOK.WithLabelValues(s.provider).Set(0)
		if s.path == "" {
			return fmt.Errorf("persist session blob: %w", err)
		}
		return nil
	}
	remotePersistOK.WithLabelValues(s.provider).Set(1)
	return nil
}
