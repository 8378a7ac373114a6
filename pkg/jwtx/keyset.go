package jwtx

import (
	"crypto"
	"errors"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

// KeySet holds the public verification keys published through the JWKS
// endpoint. Safe for concurrent use.
type KeySet struct {
	mu   sync.RWMutex
	keys []JWK
	pub  map[string]crypto.PublicKey
}

func NewKeySet() *KeySet {
	return &KeySet{pub: make(map[string]crypto.PublicKey)}
}

// Add registers a JWK, replacing any key with the same kid.
func (k *KeySet) Add(j JWK) error {
	key, err := j.PublicKey()
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.pub[j.Kid]; ok {
		k.removeLocked(j.Kid)
	}
	k.pub[j.Kid] = key
	k.keys = append(k.keys, j)
	return nil
}

// Remove drops a kid; tokens signed with it stop verifying.
func (k *KeySet) Remove(kid string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeLocked(kid)
}

func (k *KeySet) removeLocked(kid string) {
	delete(k.pub, kid)
	out := k.keys[:0]
	for _, j := range k.keys {
		if j.Kid != kid {
			out = append(out, j)
		}
	}
	k.keys = out
}

func (k *KeySet) Get(kid string) (crypto.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pk, ok := k.pub[kid]; ok {
		return pk, nil
	}
	return nil, ErrNoKey
}

// PublicJWKS returns a snapshot for serving.
func (k *KeySet) PublicJWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys := make([]JWK, len(k.keys))
	copy(keys, k.keys)
	return JWKS{Keys: keys}
}

func (k *KeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.pub) > 0
}
