package auth

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	RoleAdmin  = "admin"
	RoleReader = "reader"
)

type APIKeyAuth struct {
	headerName string
	keys       map[string]string // key -> role
}

type keyFileEntry struct {
	ID          string `yaml:"id"`
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
	Role        string `yaml:"role"` // admin|reader
}

// NewAPIKeyAuth builds an authenticator from inline admin keys and an
// optional YAML keys file.
func NewAPIKeyAuth(inline []string, keysFile, headerName string) (*APIKeyAuth, error) {
	if strings.TrimSpace(headerName) == "" {
		headerName = "X-API-Key"
	}
	keys := make(map[string]string, len(inline))
	for _, k := range inline {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys[k] = RoleAdmin
	}
	if keysFile != "" {
		fromFile, err := loadKeysFile(keysFile)
		if err != nil {
			return nil, err
		}
		for k, role := range fromFile {
			keys[k] = role
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("api key auth enabled but no keys configured")
	}
	return &APIKeyAuth{headerName: headerName, keys: keys}, nil
}

func loadKeysFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read api keys file: %w", err)
	}
	var entries []keyFileEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse api keys file: %w", err)
	}
	keys := make(map[string]string, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			continue
		}
		role := strings.ToLower(strings.TrimSpace(e.Role))
		switch role {
		case "":
			role = RoleAdmin
		case RoleAdmin, RoleReader:
		default:
			return nil, fmt.Errorf("api key %q: invalid role %q", e.ID, e.Role)
		}
		keys[e.Key] = role
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("api keys file contains no keys")
	}
	return keys, nil
}

func (a *APIKeyAuth) HeaderName() string { return a.headerName }

// RoleForKey compares key against every configured key in constant time.
func (a *APIKeyAuth) RoleForKey(key string) string {
	if a == nil || key == "" {
		return ""
	}
	role := ""
	for k, r := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			role = r
		}
	}
	return role
}

// CanWrite reports whether role may modify whitelists.
func CanWrite(role string) bool { return role == RoleAdmin }
