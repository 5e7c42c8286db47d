package secrets

import (
	"context"
	"errors"
	"fmt"
)

// LoadString loads a secret as a string with optional fallback
func LoadString(ctx context.Context, m Manager, key, fallback string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil || value == "" {
		return fallback
	}
	return value
}

// LoadStringRequired loads a required secret (fails if not found)
func LoadStringRequired(ctx context.Context, m Manager, key string) (string, error) {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		return "", fmt.Errorf("required secret %s not found: %w", key, err)
	}
	if value == "" {
		return "", fmt.Errorf("required secret %s is empty", key)
	}
	return value, nil
}

// Overlay replaces each target with the manager's value for its key. Keys
// the manager does not know keep their current value; keys listed in
// required must end up non-empty. Backend errors other than ErrNotFound abort.
func Overlay(ctx context.Context, m Manager, targets map[string]*string, required ...string) error {
	for key, target := range targets {
		value, err := m.GetSecret(ctx, key)
		switch {
		case err == nil && value != "":
			*target = value
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
	}

	for _, key := range required {
		target, ok := targets[key]
		if !ok || *target == "" {
			return fmt.Errorf("required secret %s is empty", key)
		}
	}
	return nil
}
