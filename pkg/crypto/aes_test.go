package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateAESKey(t *testing.T) {
	key1, err := GenerateAESKey()
	if err != nil {
		t.Fatalf("GenerateAESKey() error = %v", err)
	}
	key2, err := GenerateAESKey()
	if err != nil {
		t.Fatalf("GenerateAESKey() second call error = %v", err)
	}

	// AES-256 requires 32 bytes
	if len(key1) != 32 {
		t.Errorf("GenerateAESKey() length = %d, want 32", len(key1))
	}
	if bytes.Equal(key1, key2) {
		t.Error("GenerateAESKey() produced identical keys (collision)")
	}
}

func TestAESEncryptDecrypt(t *testing.T) {
	key, _ := GenerateAESKey()

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("hi")},
		{"binary", []byte{0x00, 0x01, 0xfe, 0xff}},
		{"large", bytes.Repeat([]byte("A"), 64*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := AESEncrypt(tt.plaintext, key)
			if err != nil {
				t.Fatalf("AESEncrypt() error = %v", err)
			}

			decrypted, err := AESDecrypt(ciphertext, key)
			if err != nil {
				t.Fatalf("AESDecrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("AESDecrypt() = %x, want %x", decrypted, tt.plaintext)
			}
		})
	}
}

func TestAESDecryptInvalid(t *testing.T) {
	key, _ := GenerateAESKey()
	otherKey, _ := GenerateAESKey()
	ciphertext, _ := AESEncrypt([]byte("secret"), key)

	if _, err := AESDecrypt(ciphertext, otherKey); err == nil {
		t.Error("AESDecrypt() with wrong key should fail")
	}

	tampered := append([]byte(nil), ciphertext...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := AESDecrypt(tampered, key); err == nil {
		t.Error("AESDecrypt() with tampered ciphertext should fail")
	}

	if _, err := AESDecrypt([]byte{1, 2, 3}, key); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("AESDecrypt() short input error = %v, want ErrCiphertextTooShort", err)
	}
}
