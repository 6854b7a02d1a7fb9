// SPDX-License-Identifier: MIT

package devicesig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	v := NewVerifier(map[string]string{"v1": "alpha", "v2": "beta"})

	sig, err := v.Sign("D1", "v1")
	require.NoError(t, err)
	assert.True(t, v.Verify("D1", sig, "v1"))

	// Empty version falls back to the default.
	assert.True(t, v.Verify("D1", sig, ""))

	// The same device signs differently under another salt version.
	sig2, err := v.Sign("D1", "v2")
	require.NoError(t, err)
	assert.NotEqual(t, sig, sig2)
	assert.True(t, v.Verify("D1", sig2, "v2"))
	assert.False(t, v.Verify("D1", sig2, "v1"))
}

func TestVerify_Failures(t *testing.T) {
	v := NewVerifier(map[string]string{"v1": "alpha"})
	sig, err := v.Sign("D1", "v1")
	require.NoError(t, err)

	assert.False(t, v.Verify("D2", sig, "v1"), "signature is bound to the device id")
	assert.False(t, v.Verify("D1", "deadbeef", "v1"))
	assert.False(t, v.Verify("D1", "", "v1"))
	// Unknown versions fail closed.
	assert.False(t, v.Verify("D1", sig, "v99"))

	_, err = v.Sign("D1", "v99")
	require.Error(t, err)
}

func TestReplace_RotatesSalts(t *testing.T) {
	v := NewVerifier(map[string]string{"v1": "alpha"})
	oldSig, err := v.Sign("D1", "v1")
	require.NoError(t, err)

	v.Replace(map[string]string{"v2": "beta"})

	// The old version is gone, the new one works.
	assert.False(t, v.Verify("D1", oldSig, "v1"))
	newSig, err := v.Sign("D1", "v2")
	require.NoError(t, err)
	assert.True(t, v.Verify("D1", newSig, "v2"))

	assert.ElementsMatch(t, []string{"v2"}, v.Versions())
}

func TestLoadSaltFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "salts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1: alpha\nv2: beta\n"), 0o600))

	salts, err := LoadSaltFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"v1": "alpha", "v2": "beta"}, salts)
}

func TestLoadSaltFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSaltFile(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte(""), 0o600))
	_, err = LoadSaltFile(empty)
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- not\n- a\n- map\n"), 0o600))
	_, err = LoadSaltFile(bad)
	require.Error(t, err)
}

func TestWatchSaltFile_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "salts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1: alpha\n"), 0o600))

	v := NewVerifier(map[string]string{"v1": "alpha"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- v.WatchSaltFile(ctx, path) }()

	// Give the watcher a moment to register before rotating.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2: beta\n"), 0o600))

	require.Eventually(t, func() bool {
		sig, err := v.Sign("D1", "v2")
		return err == nil && v.Verify("D1", sig, "v2")
	}, 3*time.Second, 20*time.Millisecond, "rotation was not picked up")

	cancel()
	require.NoError(t, <-done)
}
