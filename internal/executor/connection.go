package executor

import (
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/google/uuid"
)

type SSHConfig struct {
	Host       string `json:"host" validate:"required"`
	Port       int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password,omitempty" validate:"required_without=PrivateKey"`
	PrivateKey string `json:"private_key,omitempty" validate:"required_without=Password"`
}

type WinRMConfig struct {
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password,omitempty" validate:"required"`
	HTTPS    bool   `json:"https"`
	Insecure bool   `json:"insecure"`
}

type APIConfig struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Token    string `json:"token,omitempty" validate:"required"`
}

// Connection tells the executor how to reach one server. Exactly the config
// block matching Type must be set.
type Connection struct {
	ServerID uuid.UUID    `json:"server_id"`
	Type     string       `json:"type" validate:"required,oneof=ssh winrm api local"`
	OS       string       `json:"os" validate:"omitempty,oneof=linux windows"`
	SSH      *SSHConfig   `json:"ssh,omitempty" validate:"required_if=Type ssh"`
	WinRM    *WinRMConfig `json:"winrm,omitempty" validate:"required_if=Type winrm"`
	API      *APIConfig   `json:"api,omitempty" validate:"required_if=Type api"`
}

func (c Connection) clone() Connection {
	out := c
	if c.SSH != nil {
		v := *c.SSH
		out.SSH = &v
	}
	if c.WinRM != nil {
		v := *c.WinRM
		out.WinRM = &v
	}
	if c.API != nil {
		v := *c.API
		out.API = &v
	}
	return out
}

// Redacted returns a copy with every credential blanked.
func (c Connection) Redacted() Connection {
	out := c.clone()
	if out.SSH != nil {
		if out.SSH.Password != "" {
			out.SSH.Password = "***"
		}
		if out.SSH.PrivateKey != "" {
			out.SSH.PrivateKey = "***"
		}
	}
	if out.WinRM != nil && out.WinRM.Password != "" {
		out.WinRM.Password = "***"
	}
	if out.API != nil && out.API.Token != "" {
		out.API.Token = "***"
	}
	return out
}

func (c *Connection) applyDefaults() {
	if c.OS == "" {
		c.OS = models.OSLinux
		if c.Type == models.ConnWinRM {
			c.OS = models.OSWindows
		}
	}
	if c.SSH != nil && c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.WinRM != nil && c.WinRM.Port == 0 {
		c.WinRM.Port = 5985
		if c.WinRM.HTTPS {
			c.WinRM.Port = 5986
		}
	}
}

// secret returns the credential persisted encrypted, and its kind.
func (c Connection) secret() (string, string) {
	switch {
	case c.SSH != nil && c.SSH.PrivateKey != "":
		return c.SSH.PrivateKey, "key"
	case c.SSH != nil:
		return c.SSH.Password, "password"
	case c.WinRM != nil:
		return c.WinRM.Password, "password"
	case c.API != nil:
		return c.API.Token, "token"
	}
	return "", ""
}

func (c Connection) toModel() models.ServerConnection {
	m := models.ServerConnection{ServerID: c.ServerID, ConnectionType: c.Type, OS: c.OS}
	switch {
	case c.SSH != nil:
		m.Host, m.Port, m.Username = c.SSH.Host, c.SSH.Port, c.SSH.Username
	case c.WinRM != nil:
		m.Host, m.Port, m.Username = c.WinRM.Host, c.WinRM.Port, c.WinRM.Username
		m.UseHTTPS, m.Insecure = c.WinRM.HTTPS, c.WinRM.Insecure
	case c.API != nil:
		m.Endpoint = c.API.Endpoint
	}
	return m
}

func fromModel(m models.ServerConnection, secret string) Connection {
	c := Connection{ServerID: m.ServerID, Type: m.ConnectionType, OS: m.OS}
	switch m.ConnectionType {
	case models.ConnSSH:
		c.SSH = &SSHConfig{Host: m.Host, Port: m.Port, Username: m.Username}
		if m.SecretKind == "key" {
			c.SSH.PrivateKey = secret
		} else {
			c.SSH.Password = secret
		}
	case models.ConnWinRM:
		c.WinRM = &WinRMConfig{Host: m.Host, Port: m.Port, Username: m.Username, Password: secret,
			HTTPS: m.UseHTTPS, Insecure: m.Insecure}
	case models.ConnAPI:
		c.API = &APIConfig{Endpoint: m.Endpoint, Token: secret}
	}
	return c
}
