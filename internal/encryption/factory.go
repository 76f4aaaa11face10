package encryption

import (
	"fmt"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

// NewEncryptorFromConfig creates an Encryptor based on the
// configuration type. Type "none" returns nil: archived copies are
// stored as plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (dedup.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
