package utils

import (
	"crypto/rand"
	"encoding/hex"

	"variagen/logger"
)

func GenerateRandomHex(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// DownloadSecret returns the configured signing secret, or a random one
// when none is set. Links signed with a random secret stop working after a
// restart.
func DownloadSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	secret, err := GenerateRandomHex(32)
	if err != nil {
		return nil, err
	}
	logger.Warn("download_secret not set; using a random secret, download links will not survive a restart")
	return []byte(secret), nil
}
