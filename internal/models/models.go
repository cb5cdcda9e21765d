package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Session is a tenant identity. The admin session is an ordinary row; its
// privileges come from configuration, not from anything stored here.
type Session struct {
	SessionID  string    `gorm:"primaryKey;size:20" json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `gorm:"not null" json:"last_active"`
}

func (Session) TableName() string { return "sessions" }

// Account is a stored third-party account owned by exactly one session.
// The indexed columns are extracted from Payload on every write; Payload keeps
// the full document for round-trip fidelity.
type Account struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID          string     `gorm:"size:20;not null;index;uniqueIndex:idx_accounts_owner_email,priority:1" json:"session_id"`
	Email              string     `gorm:"not null;index;uniqueIndex:idx_accounts_owner_email,priority:2" json:"email"`
	Name               string     `gorm:"index" json:"name"`
	Password           string     `json:"password"`
	ClientID           string     `json:"client_id"`
	Token              string     `json:"token"`
	DeviceID           string     `json:"device_id"`
	InviteCode         string     `json:"invite_code"`
	ActivationStatus   int        `gorm:"not null;default:0" json:"activation_status"`
	LastActivationTime *time.Time `json:"last_activation_time"`
	Payload            JSONB      `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// DecodePayload returns the typed view of the stored payload.
func (a *Account) DecodePayload() (AccountPayload, error) {
	var p AccountPayload
	if len(a.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return AccountPayload{}, err
	}
	return p, nil
}

// SetPayload stores p and refreshes the indexed columns derived from it.
func (a *Account) SetPayload(p AccountPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	a.Payload = JSONB(raw)
	a.Email = p.Email
	a.Name = p.DisplayName()
	a.Password = p.Password
	a.ClientID = p.ClientID
	a.Token = p.BearerToken()
	a.DeviceID = p.DeviceID
	a.InviteCode = p.InviteCode
	return nil
}

// Document flattens the payload together with the row metadata, which always
// wins over stale copies inside the payload.
func (a *Account) Document() map[string]any {
	doc := map[string]any{}
	if len(a.Payload) > 0 {
		_ = json.Unmarshal(a.Payload, &doc)
	}
	doc["id"] = a.ID
	doc["session_id"] = a.SessionID
	doc["email"] = a.Email
	doc["activation_status"] = a.ActivationStatus
	doc["last_activation_time"] = a.LastActivationTime
	doc["created_at"] = a.CreatedAt
	doc["updated_at"] = a.UpdatedAt
	if a.Name != "" {
		doc["name"] = a.Name
	}
	return doc
}

// Proxy is an outbound relay tracked with health statistics.
type Proxy struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ProxyURL     string     `gorm:"uniqueIndex;not null" json:"proxy_url"`
	Protocol     string     `gorm:"not null" json:"protocol"`
	Host         string     `gorm:"not null" json:"host"`
	Port         int        `gorm:"not null" json:"port"`
	Username     *string    `json:"username"`
	Password     *string    `json:"password"`
	IsActive     bool       `gorm:"not null;default:true;index" json:"is_active"`
	LastChecked  *time.Time `json:"last_checked"`
	ResponseTime *float64   `gorm:"index" json:"response_time"`
	SuccessCount int        `gorm:"not null;default:0" json:"success_count"`
	FailCount    int        `gorm:"not null;default:0" json:"fail_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Proxy) TableName() string { return "proxy_pool" }

// emailLocalPart returns the part of an address before '@'.
func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
