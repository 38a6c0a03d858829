package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
)

// ExportPrivate returns the private half in its base64 PKCS#1 string form.
// Callers take over responsibility for the returned secret.
func (k *Key) ExportPrivate() (string, error) {
	var out string
	err := k.withPrivate(func(priv *rsa.PrivateKey) error {
		der := x509.MarshalPKCS1PrivateKey(priv)
		defer memguard.WipeBytes(der)
		out = base64.StdEncoding.EncodeToString(der)
		return nil
	})
	return out, err
}

// SaveKeyFile writes the private key to path as PEM with mode 0600
func SaveKeyFile(k *Key, path string) error {
	return k.withPrivate(func(priv *rsa.PrivateKey) error {
		pemData := ExportPrivateKeyPEM(priv)
		defer memguard.WipeBytes(pemData)
		if err := os.WriteFile(path, pemData, 0600); err != nil {
			return fmt.Errorf("failed to write key file: %w", err)
		}
		return nil
	})
}

// LoadKeyFile reads a PEM private key written by SaveKeyFile
func LoadKeyFile(path string) (*Key, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	defer memguard.WipeBytes(pemData)

	priv, err := ImportPrivateKeyPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to import key file: %w", err)
	}
	defer scrub(priv)

	return fromPrivate(priv)
}

// LoadOrGenerateKeyFile loads the key at path, creating it first if missing
func LoadOrGenerateKeyFile(path string) (k *Key, created bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		k, err = LoadKeyFile(path)
		return k, false, err
	}

	k, err = GenerateKey()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKeyFile(k, path); err != nil {
		return nil, false, err
	}
	return k, true, nil
}
