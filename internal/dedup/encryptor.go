package dedup

import "io"

// Encryptor handles optional at-rest encryption of archived copies.
// The worker encrypts originals before upload; rollback unlocks a
// DecryptionContext once and reuses it across files.
type Encryptor interface {
	// Setup generates and stores the key material.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock prepares decryption with the given passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether key material is in place.
	IsConfigured() bool
}

// DecryptionContext holds unlocked key material for the duration of a
// rollback session.
type DecryptionContext interface {
	// Decrypt reads ciphertext from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
