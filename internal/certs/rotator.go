package certs

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
)

// SecretReader fetches a key/value secret.
type SecretReader interface {
	ReadSecret(ctx context.Context, path string) (map[string]interface{}, error)
}

// Rotator pulls certificate material from Vault and installs it on disk.
type Rotator struct {
	vault     SecretReader
	vaultPath string
	keyPath   string
	certPath  string
	caPath    string
	reloader  *Reloader
}

// NewRotator creates a rotator. reloader may be nil when the server is not
// serving TLS; rotated files are then only picked up on restart.
func NewRotator(vault SecretReader, vaultPath, keyPath, certPath, caPath string, reloader *Reloader) *Rotator {
	return &Rotator{
		vault:     vault,
		vaultPath: vaultPath,
		keyPath:   keyPath,
		certPath:  certPath,
		caPath:    caPath,
		reloader:  reloader,
	}
}

// Rotate fetches the secret, writes key, cert and CA atomically and reloads the TLS context.
func (r *Rotator) Rotate(ctx context.Context) (*domain.RotationResult, error) {
	if r.vault == nil || r.vaultPath == "" || r.keyPath == "" || r.certPath == "" || r.caPath == "" {
		return nil, errors.New("vault or cert paths not configured")
	}

	secret, err := r.vault.ReadSecret(ctx, r.vaultPath)
	if err != nil {
		return nil, err
	}

	key := firstString(secret, "server_key", "key", "private_key")
	cert := firstString(secret, "server_cert", "cert")
	ca := firstString(secret, "ca_cert", "ca")
	if key == "" || cert == "" || ca == "" {
		return nil, errors.New("vault response missing keys")
	}

	files := []struct {
		path string
		data string
		mode os.FileMode
	}{
		{r.keyPath, key, 0o600},
		{r.certPath, cert, 0o644},
		{r.caPath, ca, 0o644},
	}
	// Leftover temp files are removed on every exit path; after a successful
	// rename there is nothing left to remove.
	defer func() {
		for _, f := range files {
			_ = os.Remove(f.path + ".tmp")
		}
	}()

	for _, f := range files {
		if err := os.WriteFile(f.path+".tmp", []byte(f.data), f.mode); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
	}
	for _, f := range files {
		if err := os.Rename(f.path+".tmp", f.path); err != nil {
			return nil, fmt.Errorf("failed to install %s: %w", f.path, err)
		}
	}

	result := &domain.RotationResult{Rotated: true}
	if r.reloader != nil {
		result.Reloaded = r.reloader.Reload() == nil
	}
	return result, nil
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
