package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"

	"github.com/tainanafeng/math-coach/internal/config"
)

const (
	keyringService = "mathcoach"
	vaultFile      = "vault.enc"
)

// ErrSecretNotFound is returned when neither the keychain nor the vault
// holds a secret.
var ErrSecretNotFound = errors.New("secret not found")

// KeyStore keeps API keys and tokens out of the config file.
// Primary: OS keychain. Fallback: a password-sealed vault file.
type KeyStore struct {
	vaultPath string
	password  string
}

// NewKeyStore creates a key store whose vault lives in dir (default
// ~/.mathcoach). vaultPassword may be empty when only the keychain is used.
func NewKeyStore(dir, vaultPassword string) (*KeyStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".mathcoach")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &KeyStore{vaultPath: filepath.Join(dir, vaultFile), password: vaultPassword}, nil
}

// Set stores a secret, in the keychain when available.
func (ks *KeyStore) Set(name, value string) error {
	if err := keyring.Set(keyringService, name, value); err == nil {
		return nil
	}
	vault, err := ks.loadVault()
	if err != nil {
		return err
	}
	vault[name] = value
	return ks.saveVault(vault)
}

// Get retrieves a secret.
func (ks *KeyStore) Get(name string) (string, error) {
	if val, err := keyring.Get(keyringService, name); err == nil {
		return val, nil
	}
	vault, err := ks.loadVault()
	if err != nil {
		return "", err
	}
	val, ok := vault[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return val, nil
}

// Delete removes a secret from both backends.
func (ks *KeyStore) Delete(name string) error {
	_ = keyring.Delete(keyringService, name)
	vault, err := ks.loadVault()
	if err != nil || len(vault) == 0 {
		return nil
	}
	if _, ok := vault[name]; !ok {
		return nil
	}
	delete(vault, name)
	return ks.saveVault(vault)
}

// Resolve returns value, or the stored secret name when value is the
// keyring placeholder.
func (ks *KeyStore) Resolve(name, value string) (string, error) {
	if value != config.KeyringPlaceholder {
		return value, nil
	}
	secret, err := ks.Get(name)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	return secret, nil
}

// MaskKey returns a masked version of an API key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}

func (ks *KeyStore) loadVault() (map[string]string, error) {
	data, err := os.ReadFile(ks.vaultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	plaintext, err := open(string(data), ks.password)
	if err != nil {
		return nil, err
	}
	var vault map[string]string
	if err := json.Unmarshal(plaintext, &vault); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	if vault == nil {
		vault = make(map[string]string)
	}
	return vault, nil
}

func (ks *KeyStore) saveVault(vault map[string]string) error {
	data, err := json.Marshal(vault)
	if err != nil {
		return err
	}
	sealed, err := seal(data, ks.password)
	if err != nil {
		return err
	}
	return os.WriteFile(ks.vaultPath, []byte(sealed), 0600)
}
