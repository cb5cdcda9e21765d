package models

import "encoding/json"

// AccountPayload is the account document produced by the signup flow.
// Known fields are typed; everything else is kept verbatim in Extra so that a
// decode/encode cycle never drops data.
type AccountPayload struct {
	Name         string
	Email        string
	Password     string
	ClientID     string
	Token        string
	AccessToken  string
	RefreshToken string
	CaptchaToken string
	DeviceID     string
	UserID       string
	InviteCode   string
	Version      string
	// Timestamp is kept raw: the upstream sends it as either a string or a number.
	Timestamp json.RawMessage

	Extra map[string]json.RawMessage
}

// DisplayName is the account name, falling back to the email local part.
func (p AccountPayload) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return emailLocalPart(p.Email)
}

// BearerToken prefers access_token over the legacy token field.
func (p AccountPayload) BearerToken() string {
	if p.AccessToken != "" {
		return p.AccessToken
	}
	return p.Token
}

// Clone returns a deep copy.
func (p AccountPayload) Clone() AccountPayload {
	out := p
	if p.Timestamp != nil {
		out.Timestamp = append(json.RawMessage(nil), p.Timestamp...)
	}
	if p.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func (p *AccountPayload) stringFields() map[string]*string {
	return map[string]*string{
		"name":          &p.Name,
		"email":         &p.Email,
		"password":      &p.Password,
		"client_id":     &p.ClientID,
		"token":         &p.Token,
		"access_token":  &p.AccessToken,
		"refresh_token": &p.RefreshToken,
		"captcha_token": &p.CaptchaToken,
		"device_id":     &p.DeviceID,
		"user_id":       &p.UserID,
		"invite_code":   &p.InviteCode,
		"version":       &p.Version,
	}
}

func (p AccountPayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+13)
	for k, v := range p.Extra {
		out[k] = v
	}
	for key, ptr := range p.stringFields() {
		if *ptr == "" {
			continue
		}
		b, err := json.Marshal(*ptr)
		if err != nil {
			return nil, err
		}
		out[key] = b
	}
	if len(p.Timestamp) > 0 {
		out["timestamp"] = p.Timestamp
	}
	return json.Marshal(out)
}

func (p *AccountPayload) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = AccountPayload{}
	for key, ptr := range p.stringFields() {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			// Non-string values under a known key stay in Extra untouched.
			continue
		}
		*ptr = s
		delete(raw, key)
	}
	if v, ok := raw["timestamp"]; ok {
		p.Timestamp = v
		delete(raw, "timestamp")
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}
