package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrUnknownEndpoint = errors.New("no session key registered for endpoint")
	ErrInvalidPadding  = errors.New("invalid PKCS#7 padding")
)

const DefaultKeyBits = 2048

type sessionKey struct {
	block cipher.Block
	iv    []byte
}

// Security holds the server RSA key pair and the AES session key negotiated
// with every connected endpoint.
type Security struct {
	privateKey *rsa.PrivateKey

	mut_sessions sync.RWMutex
	sessions     map[string]*sessionKey

	log *zap.Logger
}

func New(bits int, logger *zap.Logger) (*Security, error) {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}

	return FromKey(key, logger), nil
}

func FromKey(key *rsa.PrivateKey, logger *zap.Logger) *Security {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Security{
		privateKey: key,
		sessions:   make(map[string]*sessionKey),
		log:        logger.With(zap.String("handler", "Security")),
	}
}

// GetPublicKey returns the big-endian modulus and exponent of the server key.
func (s *Security) GetPublicKey() (modulus []byte, exponent []byte) {
	pub := s.privateKey.PublicKey
	return pub.N.Bytes(), big.NewInt(int64(pub.E)).Bytes()
}

func (s *Security) PublicKey() *rsa.PublicKey {
	return &s.privateKey.PublicKey
}

// AddConnection decrypts the RSA-wrapped AES key and IV sent by endpoint and
// registers them, replacing any previous session for that endpoint.
func (s *Security) AddConnection(endpoint string, encryptedKey []byte, encryptedIV []byte) error {
	key, err := rsa.DecryptPKCS1v15(rand.Reader, s.privateKey, encryptedKey)
	if err != nil {
		return fmt.Errorf("decrypt session key: %w", err)
	}
	iv, err := rsa.DecryptPKCS1v15(rand.Reader, s.privateKey, encryptedIV)
	if err != nil {
		return fmt.Errorf("decrypt session iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	if len(iv) != block.BlockSize() {
		return fmt.Errorf("session iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}

	s.mut_sessions.Lock()
	defer s.mut_sessions.Unlock()
	s.sessions[endpoint] = &sessionKey{block: block, iv: iv}

	s.log.Debug("Registered session key", zap.String("endpoint", endpoint), zap.Int("keyBits", len(key)*8))
	return nil
}

func (s *Security) RemoveConnection(endpoint string) {
	s.mut_sessions.Lock()
	defer s.mut_sessions.Unlock()
	delete(s.sessions, endpoint)
}

func (s *Security) HasConnection(endpoint string) bool {
	s.mut_sessions.RLock()
	defer s.mut_sessions.RUnlock()
	_, has := s.sessions[endpoint]
	return has
}

func (s *Security) session(endpoint string) (*sessionKey, error) {
	s.mut_sessions.RLock()
	defer s.mut_sessions.RUnlock()

	key, has := s.sessions[endpoint]
	if !has {
		return nil, ErrUnknownEndpoint
	}
	return key, nil
}

// Decrypt reverses Encrypt: AES-CBC with PKCS#7 padding.
func (s *Security) Decrypt(data []byte, endpoint string) ([]byte, error) {
	key, err := s.session(endpoint)
	if err != nil {
		return nil, err
	}

	out, err := decryptCBC(key, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return out, nil
}

func (s *Security) Encrypt(data []byte, endpoint string) ([]byte, error) {
	key, err := s.session(endpoint)
	if err != nil {
		return nil, err
	}
	return encryptCBC(key, data), nil
}

func encryptCBC(key *sessionKey, data []byte) []byte {
	blockSize := key.block.BlockSize()
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data), len(data)+padding)
	copy(padded, data)
	padded = append(padded, bytes.Repeat([]byte{byte(padding)}, padding)...)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(key.block, key.iv).CryptBlocks(out, padded)
	return out
}

func decryptCBC(key *sessionKey, data []byte) ([]byte, error) {
	blockSize := key.block.BlockSize()
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of %d", len(data), blockSize)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(key.block, key.iv).CryptBlocks(out, data)

	padding := int(out[len(out)-1])
	if padding == 0 || padding > blockSize || !bytes.Equal(out[len(out)-padding:], bytes.Repeat([]byte{byte(padding)}, padding)) {
		return nil, ErrInvalidPadding
	}
	return out[:len(out)-padding], nil
}
