package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Key resolves a provider API key from Parameter Store on first use and
// reuses it for the lifetime of the process. A failed lookup is retried on
// the next call.
type Key struct {
	getter Getter
	name   string

	mu     sync.Mutex
	loaded bool
	value  string
}

// NewKey creates a Key reading the parameter name through getter.
func NewKey(getter Getter, name string) (*Key, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name is empty")
	}
	return &Key{getter: getter, name: name}, nil
}

// Key returns the cached token, fetching it if needed.
func (k *Key) Key(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.loaded {
		return k.value, nil
	}
	v, err := fetchToken(ctx, k.getter, k.name)
	if err != nil {
		return "", err
	}
	k.value = v
	k.loaded = true
	return v, nil
}

func fetchToken(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	return ParseToken(raw)
}
