package hipaa

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
)

// EncryptionService holds the configured encryptor. With no key configured
// it runs disabled and Encryptor returns nil, which the repositories treat
// as plaintext storage.
type EncryptionService struct {
	encryptor FieldEncryptor
}

// NewEncryptionService parses a 64-character hex key. An empty key disables
// encryption with a warning; a malformed key is an error so the server
// refuses to start.
func NewEncryptionService(key string, logger zerolog.Logger) (*EncryptionService, error) {
	if key == "" {
		logger.Warn().Msg("PHI encryption disabled: PHI_ENCRYPTION_KEY is not set")
		return &EncryptionService{}, nil
	}

	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
	}

	enc, err := NewPHIEncryptor(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("create PHI encryptor: %w", err)
	}

	logger.Info().Msg("PHI field-level encryption enabled")
	return &EncryptionService{encryptor: enc}, nil
}

// Encryptor returns the FieldEncryptor, or nil when encryption is disabled.
func (s *EncryptionService) Encryptor() FieldEncryptor {
	return s.encryptor
}

func (s *EncryptionService) IsEnabled() bool {
	return s.encryptor != nil
}
