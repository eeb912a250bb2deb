package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/ahmetk3436/autoremedy/internal/crypto"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryValidatesPerType(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	cases := []struct {
		name string
		conn Connection
	}{
		{"missing server id", Connection{Type: models.ConnLocal}},
		{"unknown type", Connection{ServerID: uuid.New(), Type: "telnet"}},
		{"ssh without config", Connection{ServerID: uuid.New(), Type: models.ConnSSH}},
		{"ssh without username", Connection{ServerID: uuid.New(), Type: models.ConnSSH,
			SSH: &SSHConfig{Host: "h", Password: "p"}}},
		{"ssh without credential", Connection{ServerID: uuid.New(), Type: models.ConnSSH,
			SSH: &SSHConfig{Host: "h", Username: "u"}}},
		{"winrm without password", Connection{ServerID: uuid.New(), Type: models.ConnWinRM,
			WinRM: &WinRMConfig{Host: "h", Username: "u"}}},
		{"api with bad endpoint", Connection{ServerID: uuid.New(), Type: models.ConnAPI,
			API: &APIConfig{Endpoint: "not a url", Token: "t"}}},
		{"api without token", Connection{ServerID: uuid.New(), Type: models.ConnAPI,
			API: &APIConfig{Endpoint: "https://agent.local"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, reg.Register(ctx, tc.conn), ErrInvalidConnection)
		})
	}
	assert.Zero(t, reg.Len())
}

func TestRegistryDefaultsAndCopies(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	sshID, winID := uuid.New(), uuid.New()

	require.NoError(t, reg.Register(ctx, Connection{ServerID: sshID, Type: models.ConnSSH,
		SSH: &SSHConfig{Host: "h", Username: "u", PrivateKey: "KEY"}}))
	require.NoError(t, reg.Register(ctx, Connection{ServerID: winID, Type: models.ConnWinRM,
		WinRM: &WinRMConfig{Host: "w", Username: "Administrator", Password: "pw", HTTPS: true}}))

	conn, ok := reg.Get(sshID)
	require.True(t, ok)
	assert.Equal(t, 22, conn.SSH.Port)
	assert.Equal(t, models.OSLinux, conn.OS)

	conn.SSH.Host = "mutated"
	again, _ := reg.Get(sshID)
	assert.Equal(t, "h", again.SSH.Host)

	win, _ := reg.Get(winID)
	assert.Equal(t, 5986, win.WinRM.Port)
	assert.Equal(t, models.OSWindows, win.OS)
}

func TestRegistryListRedactsAndRemove(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	id := uuid.New()
	require.NoError(t, reg.Register(ctx, Connection{ServerID: id, Type: models.ConnAPI,
		API: &APIConfig{Endpoint: "https://agent.local", Token: "tok"}}))

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "***", list[0].API.Token)

	got, _ := reg.Get(id)
	assert.Equal(t, "tok", got.API.Token)

	require.NoError(t, reg.Remove(ctx, id))
	assert.ErrorIs(t, reg.Remove(ctx, id), ErrNoConnection)
}

func TestPersistentRegistryEncryptsAndReloads(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	enc, err := crypto.NewEncryptor(strings.Repeat("ab", 32))
	require.NoError(t, err)

	id := uuid.New()
	reg := NewPersistentRegistry(mem, enc)
	require.NoError(t, reg.Register(ctx, Connection{ServerID: id, Type: models.ConnSSH,
		SSH: &SSHConfig{Host: "10.0.0.9", Username: "ops", Password: "hunter2"}}))

	rows, err := mem.ListServerConnections(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEqual(t, "hunter2", rows[0].EncryptedSecret)
	assert.Equal(t, "password", rows[0].SecretKind)

	restored := NewPersistentRegistry(mem, enc)
	require.NoError(t, restored.Load(ctx))
	conn, ok := restored.Get(id)
	require.True(t, ok)
	assert.Equal(t, "hunter2", conn.SSH.Password)
	assert.Equal(t, "10.0.0.9", conn.SSH.Host)

	require.NoError(t, restored.Remove(ctx, id))
	rows, _ = mem.ListServerConnections(ctx)
	assert.Empty(t, rows)
}
