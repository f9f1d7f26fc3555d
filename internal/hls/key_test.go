package hls

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testMaterial = []byte("0123456789abcdef")

func encryptCBC(t *testing.T, key, iv, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("creating cipher: %v", err)
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return out
}

func TestKeyResolverFetchesOnceUnderConcurrency(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	resolver := NewKeyResolver(KeyFetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return testMaterial, nil
	}))
	key := &EncryptionKey{Method: MethodAES128, URI: "https://example.com/key"}

	const callers = 32
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = resolver.Resolve(context.Background(), key)
		}(i)
	}
	// Give every caller a chance to block on the pending fetch.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if c := atomic.LoadInt32(&calls); c != 1 {
		t.Fatalf("expected 1 key fetch, got %d", c)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], testMaterial) {
			t.Fatalf("caller %d: got material %x", i, results[i])
		}
	}
}

func TestKeyResolverSharesFailure(t *testing.T) {
	var calls int32
	resolver := NewKeyResolver(KeyFetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("unexpected status 403")
	}))
	key := &EncryptionKey{Method: MethodAES128, URI: "https://example.com/key"}

	for i := 0; i < 3; i++ {
		_, err := resolver.Resolve(context.Background(), key)
		var keyErr *KeyError
		if !errors.As(err, &keyErr) {
			t.Fatalf("attempt %d: expected KeyError, got %v", i, err)
		}
		if keyErr.URI != key.URI {
			t.Fatalf("KeyError.URI = %q", keyErr.URI)
		}
	}
	if c := atomic.LoadInt32(&calls); c != 1 {
		t.Fatalf("expected failure to be cached after 1 fetch, got %d", c)
	}
}

func TestKeyResolverRejectsWrongLength(t *testing.T) {
	resolver := NewKeyResolver(KeyFetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		return []byte("<html>nope</html>"), nil
	}))
	_, err := resolver.Resolve(context.Background(), &EncryptionKey{Method: MethodAES128, URI: "k"})
	var keyErr *KeyError
	if !errors.As(err, &keyErr) {
		t.Fatalf("expected KeyError, got %v", err)
	}
}

func TestKeyResolverNilAndUnsupported(t *testing.T) {
	resolver := NewKeyResolver(KeyFetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		t.Fatal("fetcher must not be called")
		return nil, nil
	}))

	material, err := resolver.Resolve(context.Background(), nil)
	if err != nil || material != nil {
		t.Fatalf("nil key: got %x, %v", material, err)
	}

	for _, key := range []*EncryptionKey{
		{Method: "SAMPLE-AES", URI: "k"},
		{Method: MethodAES128},
	} {
		_, err := resolver.Resolve(context.Background(), key)
		if !errors.Is(err, ErrDecryptionUnavailable) {
			t.Errorf("key %+v: expected ErrDecryptionUnavailable, got %v", key, err)
		}
	}
}

func TestDecryptWithExplicitIV(t *testing.T) {
	iv := parseIV("0x0102030405060708090A0B0C0D0E0F10")
	plain := bytes.Repeat([]byte{0x47, 1, 2, 3}, 8)
	key := &EncryptionKey{Method: MethodAES128, URI: "k", IV: iv}

	got, err := key.Decrypt(testMaterial, encryptCBC(t, testMaterial, iv, plain))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decrypted %x, want %x", got, plain)
	}
}

func TestDecryptWithoutIVUsesZeroVector(t *testing.T) {
	zero := make([]byte, 16)
	// Trailing PKCS#7-style padding must survive decryption untouched.
	plain := append(bytes.Repeat([]byte{0xAB}, 28), 4, 4, 4, 4)
	key := &EncryptionKey{Method: MethodAES128, URI: "k"}

	if !bytes.Equal(key.EffectiveIV(), zero) {
		t.Fatalf("effective IV = %x", key.EffectiveIV())
	}
	got, err := key.Decrypt(testMaterial, encryptCBC(t, testMaterial, zero, plain))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decrypted %x, want %x", got, plain)
	}
}

func TestDecryptRejectsPartialBlock(t *testing.T) {
	key := &EncryptionKey{Method: MethodAES128, URI: "k"}
	if _, err := key.Decrypt(testMaterial, make([]byte, 17)); err == nil {
		t.Fatal("expected error for unaligned ciphertext")
	}
}
