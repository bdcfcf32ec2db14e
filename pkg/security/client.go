package security

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"math/big"
)

// ClientSession is the peer half of the handshake: it wraps a fresh AES key
// for a server public key. Clients and tests use it to build Handshake
// packets the server can open.
type ClientSession struct {
	Key []byte
	IV  []byte

	EncryptedKey []byte
	EncryptedIV  []byte
}

func PublicKeyFromBytes(modulus []byte, exponent []byte) *rsa.PublicKey {
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: int(new(big.Int).SetBytes(exponent).Int64()),
	}
}

func NewClientSession(pub *rsa.PublicKey) (*ClientSession, error) {
	key := make([]byte, 32)
	iv := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	encryptedKey, err := rsa.EncryptPKCS1v15(rand.Reader, pub, key)
	if err != nil {
		return nil, err
	}
	encryptedIV, err := rsa.EncryptPKCS1v15(rand.Reader, pub, iv)
	if err != nil {
		return nil, err
	}

	return &ClientSession{
		Key:          key,
		IV:           iv,
		EncryptedKey: encryptedKey,
		EncryptedIV:  encryptedIV,
	}, nil
}

// Encrypt seals data the way Security.Encrypt does for this session.
func (c *ClientSession) Encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.Key)
	if err != nil {
		return nil, err
	}
	return encryptCBC(&sessionKey{block: block, iv: c.IV}, data), nil
}

func (c *ClientSession) Decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.Key)
	if err != nil {
		return nil, err
	}
	return decryptCBC(&sessionKey{block: block, iv: c.IV}, data)
}
