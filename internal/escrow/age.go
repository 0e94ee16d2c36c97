// Package escrow produces age-encrypted recovery copies of the LUKS keyfile
// for the backup store, so losing the USB medium and the local keyfile does
// not strand the volume behind the passphrase alone.
package escrow

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// Escrow encrypts keyfile copies to an X25519 recipient. The public key is
// stored in plaintext; the private key is encrypted with the operator's
// passphrase using age's scrypt-based passphrase encryption.
type Escrow struct {
	recipientPath string
	identityPath  string
}

// New creates an Escrow over the given key pair paths. identityPath may be
// empty when only encryption is needed.
func New(recipientPath, identityPath string) *Escrow {
	return &Escrow{recipientPath: recipientPath, identityPath: identityPath}
}

// Setup generates a new X25519 key pair, stores the public key in plaintext,
// and encrypts the private key with the passphrase.
func (e *Escrow) Setup(passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(e.recipientPath), 0700); err != nil {
		return fmt.Errorf("creating recipient key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.identityPath), 0700); err != nil {
		return fmt.Errorf("creating identity key directory: %w", err)
	}

	if err := os.WriteFile(e.recipientPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing recipient key: %w", err)
	}

	idFile, err := os.OpenFile(e.identityPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating identity key file: %w", err)
	}
	defer idFile.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(idFile, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted identity key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted identity key: %w", err)
	}

	return nil
}

// IsConfigured returns true if the recipient key file exists.
func (e *Escrow) IsConfigured() bool {
	_, err := os.Stat(e.recipientPath)
	return err == nil
}

// Encrypt reads plaintext from r and writes age-encrypted ciphertext to w
// using the stored recipient key.
func (e *Escrow) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.loadRecipient()
	if err != nil {
		return fmt.Errorf("loading recipient key: %w", err)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Unlock decrypts the identity key with the passphrase and returns a context
// able to decrypt escrowed copies.
func (e *Escrow) Unlock(passphrase string) (*DecryptionContext, error) {
	idData, err := os.ReadFile(e.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity key file: %w", err)
	}

	scryptID, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(idData), scryptID)
	if err != nil {
		return nil, fmt.Errorf("decrypting identity key: %w", err)
	}

	keyData, err := io.ReadAll(decReader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted identity key: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing identity key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in identity key file")
	}

	return &DecryptionContext{identity: identities[0]}, nil
}

func (e *Escrow) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(e.recipientPath)
	if err != nil {
		return nil, fmt.Errorf("reading recipient key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing recipient key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in recipient key file")
	}
	return recipients[0], nil
}

// DecryptionContext holds an unlocked age identity.
type DecryptionContext struct {
	identity age.Identity
}

// Decrypt reads age-encrypted ciphertext from r and writes plaintext to w.
func (c *DecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	decReader, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
