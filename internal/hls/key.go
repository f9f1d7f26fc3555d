package hls

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Method is the encryption method named by an #EXT-X-KEY tag.
type Method string

const (
	MethodNone   Method = "NONE"
	MethodAES128 Method = "AES-128"
)

const ivLength = aes.BlockSize

// ErrDecryptionUnavailable is returned for keys this package cannot decrypt.
var ErrDecryptionUnavailable = errors.New("decryption unavailable")

// KeyError reports that key material could not be obtained.
type KeyError struct {
	URI string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("fetching key %s: %v", e.URI, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// EncryptionKey describes one key tag. Material is fetched lazily, at most
// once per instance, through a KeyResolver.
type EncryptionKey struct {
	Method Method
	URI    string
	// IV is nil when the tag carried no usable initialization vector.
	IV []byte

	once     sync.Once
	material []byte
	err      error
}

func newKey(attrs map[string]string, base *url.URL) *EncryptionKey {
	method := Method(strings.ToUpper(attrs["METHOD"]))
	if method == "" || method == MethodNone {
		return nil
	}
	key := &EncryptionKey{Method: method, IV: parseIV(attrs["IV"])}
	if uri := attrs["URI"]; uri != "" {
		key.URI = resolve(base, uri)
	}
	return key
}

// parseIV decodes a hex IV with an optional 0x prefix. Anything that does not
// decode to exactly 16 bytes is treated as absent.
func parseIV(raw string) []byte {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = raw[2:]
	}
	iv, err := hex.DecodeString(raw)
	if err != nil || len(iv) != ivLength {
		return nil
	}
	return iv
}

func (k *EncryptionKey) descriptor() string {
	return string(k.Method) + "|" + k.URI + "|" + hex.EncodeToString(k.IV)
}

// Supported reports ErrDecryptionUnavailable for keys that cannot be
// decrypted here: any method other than AES-128, or AES-128 without a URI.
func (k *EncryptionKey) Supported() error {
	if k == nil {
		return nil
	}
	if k.Method != MethodAES128 {
		return fmt.Errorf("%w: method %s", ErrDecryptionUnavailable, k.Method)
	}
	if k.URI == "" {
		return fmt.Errorf("%w: AES-128 key without URI", ErrDecryptionUnavailable)
	}
	return nil
}

// EffectiveIV returns the tag's IV, or 16 zero bytes when none was given.
//
// The zero IV is a deterministic fallback kept for compatibility. HLS derives
// the IV from the media sequence number when the attribute is missing, so
// streams relying on that will not decrypt correctly.
func (k *EncryptionKey) EffectiveIV() []byte {
	if k.IV != nil {
		return k.IV
	}
	return make([]byte, ivLength)
}

// Decrypt runs AES-CBC over data with the given key material. Padding is left
// in place; the container tooling downstream handles frame boundaries.
func (k *EncryptionKey) Decrypt(material, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the AES block size", len(data))
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("creating aes cipher: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, k.EffectiveIV()).CryptBlocks(out, data)
	return out, nil
}

// KeyFetcher retrieves raw key bytes.
type KeyFetcher interface {
	FetchKey(ctx context.Context, uri string) ([]byte, error)
}

// KeyFetcherFunc adapts a function to KeyFetcher.
type KeyFetcherFunc func(ctx context.Context, uri string) ([]byte, error)

func (f KeyFetcherFunc) FetchKey(ctx context.Context, uri string) ([]byte, error) {
	return f(ctx, uri)
}

// KeyResolver hands out key material, fetching each key's bytes once.
type KeyResolver struct {
	fetcher KeyFetcher
}

func NewKeyResolver(fetcher KeyFetcher) *KeyResolver {
	return &KeyResolver{fetcher: fetcher}
}

// Resolve returns the material for key. A nil key needs no material.
// Concurrent callers share a single fetch and all observe its result,
// including its error; the context of the first caller governs that fetch.
func (r *KeyResolver) Resolve(ctx context.Context, key *EncryptionKey) ([]byte, error) {
	if key == nil {
		return nil, nil
	}
	if err := key.Supported(); err != nil {
		return nil, err
	}
	key.once.Do(func() {
		material, err := r.fetcher.FetchKey(ctx, key.URI)
		if err == nil && len(material) != aes.BlockSize {
			err = fmt.Errorf("key is %d bytes, want %d", len(material), aes.BlockSize)
		}
		if err != nil {
			key.err = &KeyError{URI: key.URI, Err: err}
			return
		}
		key.material = material
	})
	return key.material, key.err
}
