package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AgentActive   = "active"
	AgentInactive = "inactive"
	AgentPaused   = "paused"
	AgentError    = "error"
)

type Agent struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	Name           string     `gorm:"not null" json:"name"`
	Type           string     `gorm:"not null" json:"type"`
	Status         string     `gorm:"not null;default:'inactive'" json:"status"`
	ProcessedCount int64      `json:"processed_count"`
	ErrorCount     int64      `json:"error_count"`
	LastHeartbeat  *time.Time `json:"last_heartbeat"`
	LastError      string     `gorm:"type:text" json:"last_error"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

const (
	ConnSSH   = "ssh"
	ConnWinRM = "winrm"
	ConnAPI   = "api"
	ConnLocal = "local"
)

const (
	OSLinux   = "linux"
	OSWindows = "windows"
)

// ServerConnection is the persisted form of a registered connection. Secrets
// are stored encrypted.
type ServerConnection struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ServerID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"server_id"`
	ConnectionType  string    `gorm:"not null" json:"connection_type"` // ssh, winrm, api, local
	OS              string    `gorm:"not null;default:'linux'" json:"os"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	Username        string    `json:"username"`
	Endpoint        string    `json:"endpoint"`
	UseHTTPS        bool      `json:"use_https"`
	Insecure        bool      `json:"insecure"`
	EncryptedSecret string    `gorm:"type:text" json:"-"`
	SecretKind      string    `json:"secret_kind"` // password, key, token
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
