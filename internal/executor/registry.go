package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ConnectionStore persists registrations so they survive restarts.
type ConnectionStore interface {
	SaveServerConnection(ctx context.Context, conn *models.ServerConnection) error
	DeleteServerConnection(ctx context.Context, serverID uuid.UUID) error
	ListServerConnections(ctx context.Context) ([]models.ServerConnection, error)
}

// Sealer encrypts credentials at rest.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Registry is the connection table. Reads hand out copies, so a
// registration or removal never races an in-flight execution.
type Registry struct {
	mu       sync.RWMutex
	conns    map[uuid.UUID]Connection
	validate *validator.Validate
	store    ConnectionStore
	sealer   Sealer
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID]Connection), validate: validator.New()}
}

// NewPersistentRegistry writes every change through to store, encrypting
// credentials with sealer.
func NewPersistentRegistry(store ConnectionStore, sealer Sealer) *Registry {
	r := NewRegistry()
	r.store = store
	r.sealer = sealer
	return r
}

func (r *Registry) Register(ctx context.Context, conn Connection) error {
	if conn.ServerID == uuid.Nil {
		return fmt.Errorf("%w: server_id is required", ErrInvalidConnection)
	}
	conn = conn.clone()
	conn.applyDefaults()
	if err := r.validate.Struct(conn); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConnection, describeValidation(err))
	}

	if r.store != nil {
		row := conn.toModel()
		secret, kind := conn.secret()
		sealed, err := r.seal(secret)
		if err != nil {
			return err
		}
		row.EncryptedSecret = sealed
		row.SecretKind = kind
		if err := r.store.SaveServerConnection(ctx, &row); err != nil {
			return fmt.Errorf("persist connection: %w", err)
		}
	}

	r.mu.Lock()
	r.conns[conn.ServerID] = conn
	r.mu.Unlock()
	slog.Info("Connection registered", "server_id", conn.ServerID, "type", conn.Type, "os", conn.OS)
	return nil
}

func (r *Registry) Remove(ctx context.Context, serverID uuid.UUID) error {
	r.mu.Lock()
	_, ok := r.conns[serverID]
	delete(r.conns, serverID)
	r.mu.Unlock()
	if !ok {
		return ErrNoConnection
	}
	if r.store != nil {
		if err := r.store.DeleteServerConnection(ctx, serverID); err != nil {
			return fmt.Errorf("delete connection: %w", err)
		}
	}
	return nil
}

func (r *Registry) Get(serverID uuid.UUID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[serverID]
	if !ok {
		return Connection{}, false
	}
	return c.clone(), true
}

// List returns redacted copies ordered by server id.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.Redacted())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID.String() < out[j].ServerID.String() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Load restores persisted registrations. Rows that fail to decrypt or
// validate are skipped and logged.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	rows, err := r.store.ListServerConnections(ctx)
	if err != nil {
		return fmt.Errorf("load connections: %w", err)
	}
	loaded := 0
	for _, row := range rows {
		secret, err := r.unseal(row.EncryptedSecret)
		if err != nil {
			slog.Warn("Skipping connection with unreadable secret", "server_id", row.ServerID, "error", err)
			continue
		}
		conn := fromModel(row, secret)
		conn.applyDefaults()
		if err := r.validate.Struct(conn); err != nil {
			slog.Warn("Skipping invalid stored connection", "server_id", row.ServerID, "error", describeValidation(err))
			continue
		}
		r.mu.Lock()
		r.conns[conn.ServerID] = conn
		r.mu.Unlock()
		loaded++
	}
	slog.Info("Connections loaded", "count", loaded)
	return nil
}

func (r *Registry) seal(secret string) (string, error) {
	if r.sealer == nil || secret == "" {
		return secret, nil
	}
	sealed, err := r.sealer.Encrypt(secret)
	if err != nil {
		return "", fmt.Errorf("encrypt credential: %w", err)
	}
	return sealed, nil
}

func (r *Registry) unseal(secret string) (string, error) {
	if r.sealer == nil || secret == "" {
		return secret, nil
	}
	return r.sealer.Decrypt(secret)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
	}
	return msg
}
