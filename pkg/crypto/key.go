package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/ZentaChain/palladium/pkg/errs"
)

// Key is an RSA key pair. The public half is carried as base64 PKIX DER;
// the private half lives in a memguard enclave and is only opened inside
// Decrypt. A Key built from a public string alone can encrypt but not decrypt.
type Key struct {
	Public string

	pub *rsa.PublicKey

	mu      sync.RWMutex
	private *memguard.Enclave
}

// GenerateKey creates a fresh key pair.
func GenerateKey() (*Key, error) {
	priv, err := GenerateRSAKeyPair()
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "failed to generate key", err)
	}
	defer scrub(priv)
	return fromPrivate(priv)
}

// PublicKey builds an encrypt-only key from its string form.
func PublicKey(pub string) (*Key, error) {
	if strings.TrimSpace(pub) == "" {
		return nil, errs.New(errs.Argument, "public key is empty")
	}
	der, err := base64.StdEncoding.DecodeString(pub)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "malformed public key", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "malformed public key", err)
	}
	rsaPub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errs.Wrap(errs.Crypto, "malformed public key", ErrInvalidKey)
	}
	return &Key{Public: pub, pub: rsaPub}, nil
}

// KeyFromStrings rebuilds a key pair from its public and private string forms.
func KeyFromStrings(pub, priv string) (*Key, error) {
	if strings.TrimSpace(pub) == "" {
		return nil, errs.New(errs.Argument, "public key is empty")
	}
	if strings.TrimSpace(priv) == "" {
		return nil, errs.New(errs.Argument, "private key is empty")
	}

	k, err := PublicKey(pub)
	if err != nil {
		return nil, err
	}

	der, err := base64.StdEncoding.DecodeString(priv)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "malformed private key", err)
	}
	parsed, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		memguard.WipeBytes(der)
		return nil, errs.Wrap(errs.Crypto, "malformed private key", err)
	}
	defer scrub(parsed)
	if !parsed.PublicKey.Equal(k.pub) {
		memguard.WipeBytes(der)
		return nil, errs.New(errs.Crypto, "private key does not match public key")
	}

	// NewEnclave wipes der.
	k.private = memguard.NewEnclave(der)
	return k, nil
}

func fromPrivate(priv *rsa.PrivateKey) (*Key, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, errs.Wrap(errs.Crypto, "failed to marshal public key", err)
	}
	pub := priv.PublicKey
	return &Key{
		Public:  base64.StdEncoding.EncodeToString(pubDER),
		pub:     &pub,
		private: memguard.NewEnclave(x509.MarshalPKCS1PrivateKey(priv)),
	}, nil
}

// HasPrivate reports whether the key can decrypt.
func (k *Key) HasPrivate() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.private != nil
}

// PublicOnly returns an encrypt-only copy.
func (k *Key) PublicOnly() *Key {
	return &Key{Public: k.Public, pub: k.pub}
}

// Encrypt seals plain for the holder of the private key. The result is
// base64 of: uint16 wrapped-key length, RSA-OAEP wrapped AES key, AES-GCM
// nonce and ciphertext.
func (k *Key) Encrypt(plain string) (string, error) {
	if k == nil || k.pub == nil {
		return "", errs.New(errs.Argument, "no public key")
	}

	aesKey, err := GenerateAESKey()
	if err != nil {
		return "", errs.Wrap(errs.Crypto, "failed to generate session key", err)
	}
	defer memguard.WipeBytes(aesKey)

	sealed, err := AESEncrypt([]byte(plain), aesKey)
	if err != nil {
		return "", errs.Wrap(errs.Crypto, "failed to seal payload", err)
	}
	wrapped, err := RSAEncrypt(aesKey, k.pub)
	if err != nil {
		return "", errs.Wrap(errs.Crypto, "failed to wrap session key", err)
	}

	buf := make([]byte, 2+len(wrapped)+len(sealed))
	binary.BigEndian.PutUint16(buf, uint16(len(wrapped)))
	copy(buf[2:], wrapped)
	copy(buf[2+len(wrapped):], sealed)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens a value produced by Encrypt under this key's public half.
// The private key is materialized only for the duration of the call.
func (k *Key) Decrypt(cipher string) (string, error) {
	if !k.HasPrivate() {
		return "", errs.New(errs.Crypto, "no private key held")
	}

	buf, err := base64.StdEncoding.DecodeString(cipher)
	if err != nil {
		return "", errs.Wrap(errs.Crypto, "malformed ciphertext", err)
	}
	if len(buf) < 2 {
		return "", errs.Wrap(errs.Crypto, "malformed ciphertext", ErrCiphertextTooShort)
	}
	n := int(binary.BigEndian.Uint16(buf))
	if len(buf) < 2+n {
		return "", errs.Wrap(errs.Crypto, "malformed ciphertext", ErrCiphertextTooShort)
	}
	wrapped, sealed := buf[2:2+n], buf[2+n:]

	var plain []byte
	err = k.withPrivate(func(priv *rsa.PrivateKey) error {
		aesKey, err := RSADecrypt(wrapped, priv)
		if err != nil {
			return errs.Wrap(errs.Crypto, "failed to unwrap session key", err)
		}
		defer memguard.WipeBytes(aesKey)

		plain, err = AESDecrypt(sealed, aesKey)
		if err != nil {
			return errs.Wrap(errs.Crypto, "failed to open payload", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	defer memguard.WipeBytes(plain)
	return string(plain), nil
}

// Fingerprint returns a short digest of the public key.
func (k *Key) Fingerprint() string {
	if k == nil {
		return ""
	}
	return Fingerprint([]byte(k.Public))
}

// Equal reports whether both keys share a public half.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.Public == other.Public
}

func (k *Key) String() string {
	return fmt.Sprintf("Key(%s)", k.Fingerprint())
}

func (k *Key) GoString() string {
	return fmt.Sprintf("&crypto.Key{Fingerprint:%q, Private:%t}", k.Fingerprint(), k.HasPrivate())
}

// Destroy drops the private half. The key remains usable for encryption.
func (k *Key) Destroy() {
	k.mu.Lock()
	k.private = nil
	k.mu.Unlock()
}

// withPrivate runs fn with the parsed private key and scrubs it afterwards.
func (k *Key) withPrivate(fn func(*rsa.PrivateKey) error) error {
	k.mu.RLock()
	enclave := k.private
	k.mu.RUnlock()
	if enclave == nil {
		return errs.New(errs.Crypto, "no private key held")
	}

	locked, err := enclave.Open()
	if err != nil {
		return errs.Wrap(errs.Crypto, "failed to open private key", err)
	}
	defer locked.Destroy()

	priv, err := x509.ParsePKCS1PrivateKey(locked.Bytes())
	if err != nil {
		return errs.Wrap(errs.Crypto, "failed to parse private key", err)
	}
	defer scrub(priv)
	return fn(priv)
}
