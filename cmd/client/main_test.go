package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/gophvault/internal/client/kv"
	"github.com/atinyakov/gophvault/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: N/A")
	assert.Contains(t, out, "Build Date: N/A")
}

func TestRegisterRequiresLogin(t *testing.T) {
	_, err := execute(t, "register", "--config", filepath.Join(t.TempDir(), "none.toml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "login"), "err = %v", err)
}

func TestShellWithoutCertificate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GOPHVAULT_CLIENT_CERT__DIR", dir)
	t.Setenv("GOPHVAULT_STORAGE_PATH", filepath.Join(dir, "vault.db"))

	_, err := execute(t, "shell", "--config", filepath.Join(dir, "none.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gophvault register")
}

func TestOpenStore_FileBackend(t *testing.T) {
	kvs, err := openStore(context.Background(), config.StorageConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "vault.json")})
	require.NoError(t, err)
	defer kvs.Close()
	_, ok := kvs.(*kv.File)
	assert.True(t, ok, "expected file backend, got %T", kvs)
}
