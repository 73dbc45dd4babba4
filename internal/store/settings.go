package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GetJWTSecret retrieves the JWT secret from settings.
// If no secret exists, it generates one, stores it, and returns it.
// Insert-if-absent then read back avoids a race on concurrent startup.
func GetJWTSecret(ctx context.Context, st Store) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}

	secret, err := st.InsertSettingIfAbsent(ctx, SettingJWTSecret, hex.EncodeToString(buf))
	if err != nil {
		return "", fmt.Errorf("storing jwt_secret: %w", err)
	}
	return secret, nil
}
