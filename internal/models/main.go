// Package models defines the core data structures shared by the vault client
// and the remote record store.
package models

import "time"

// User represents a registered identity on the remote record store.
type User struct {
	// Login is the identity taken from the client certificate Common Name.
	Login string
}

// Credential is one stored secret. Display fields are kept in clear text,
// the secret and its data key are envelopes.
type Credential struct {
	// ID is a client UUID until the remote store issues an authoritative id.
	ID string `json:"id"`
	// Owner is the identity the credential belongs to.
	Owner string `json:"owner"`
	// Site is the website or service name.
	Site string `json:"site"`
	// AccountLabel is the login used on Site; it doubles as the breach-scan subject.
	AccountLabel string `json:"account_label"`
	// CipherSecret is the envelope of the plaintext secret.
	CipherSecret string `json:"cipher_secret"`
	// CipherDataKey is the envelope of the per-credential data key under the master key.
	CipherDataKey string `json:"cipher_data_key"`
	// Category is an optional classification tag.
	Category string `json:"category,omitempty"`
	// LastModified is milliseconds since epoch.
	LastModified int64 `json:"last_modified"`
	// PendingSync is true until the remote store has confirmed the record.
	PendingSync bool `json:"pending_sync"`
}

// Document is the remote representation of a Credential: the server owns
// the id and there is no pending flag.
type Document struct {
	ID            string `json:"id"`
	Owner         string `json:"owner"`
	Site          string `json:"site"`
	AccountLabel  string `json:"account_label"`
	CipherSecret  string `json:"cipher_secret"`
	CipherDataKey string `json:"cipher_data_key"`
	Category      string `json:"category,omitempty"`
	LastModified  int64  `json:"last_modified"`
}

// ToDocument strips local-only state.
func (c Credential) ToDocument() Document {
	return Document{
		ID:            c.ID,
		Owner:         c.Owner,
		Site:          c.Site,
		AccountLabel:  c.AccountLabel,
		CipherSecret:  c.CipherSecret,
		CipherDataKey: c.CipherDataKey,
		Category:      c.Category,
		LastModified:  c.LastModified,
	}
}

// ToCredential converts a confirmed remote document to a local record.
func (d Document) ToCredential() Credential {
	return Credential{
		ID:            d.ID,
		Owner:         d.Owner,
		Site:          d.Site,
		AccountLabel:  d.AccountLabel,
		CipherSecret:  d.CipherSecret,
		CipherDataKey: d.CipherDataKey,
		Category:      d.Category,
		LastModified:  d.LastModified,
	}
}

// BreachStatus distinguishes a confirmed result from a failed check.
type BreachStatus string

const (
	// StatusClean means the service reported no known exposure.
	StatusClean BreachStatus = "clean"
	// StatusBreached means the service reported a known exposure.
	StatusBreached BreachStatus = "breached"
	// StatusFailed means the check did not complete; IsBreached is false by default only.
	StatusFailed BreachStatus = "failed"
	// StatusRateLimited means the service answered 429.
	StatusRateLimited BreachStatus = "rate_limited"
)

// BreachResult is the cached outcome of one reputation check.
type BreachResult struct {
	SubjectIdentity string       `json:"subject_identity"`
	IsBreached      bool         `json:"is_breached"`
	CheckedAt       time.Time    `json:"checked_at"`
	Status          BreachStatus `json:"status"`
}

// Confirmed reports whether the result came from a completed check.
func (r BreachResult) Confirmed() bool {
	return r.Status == StatusClean || r.Status == StatusBreached
}

// NowMillis converts t to the LastModified unit.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
