package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/models"
)

// schemaVersion is written into the settings value and is the last layout
// that kept tombstones under their own role.
const schemaVersion = 1

// credentialsVersion stores tombstones inside the credentials document, so a
// single write commits a removal and its tombstone together.
const credentialsVersion = 2

type credentialsDoc struct {
	Version     int                 `json:"version"`
	Credentials []models.Credential `json:"credentials"`
	Tombstones  []string            `json:"tombstones,omitempty"`
}

// state is the decoded credentials document. legacy is set when the
// tombstones still live under RoleTombstones.
type state struct {
	records []models.Credential
	tombs   []string
	legacy  bool
}

type tombstonesDoc struct {
	Version int      `json:"version"`
	IDs     []string `json:"ids"`
}

type settingsDoc struct {
	Version  int   `json:"version"`
	Enabled  bool  `json:"enabled"`
	LastSync int64 `json:"last_sync"`
}

// legacyCredential is the pre-versioned layout: a bare JSON array with
// camelCase field names.
type legacyCredential struct {
	ID                     string `json:"id"`
	UserID                 string `json:"userId"`
	Website                string `json:"website"`
	Username               string `json:"username"`
	EncryptedPassword      string `json:"encryptedpassword"`
	EncryptedEncryptionKey string `json:"encryptedEncryptionKey"`
	PendingSync            bool   `json:"pendingSync"`
	LastModified           int64  `json:"lastModified"`
	Tag                    string `json:"tag"`
}

type legacySettings struct {
	Enabled  bool    `json:"enabled"`
	LastSync *string `json:"lastSync"`
}

func corrupt(role string, err error) error {
	return fmt.Errorf("decode %s: %w: %w", role, verrors.ErrStorageCorrupt, err)
}

// peekVersion reads only the version field; zero means it was absent.
func peekVersion(raw []byte) (int, error) {
	var v struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v.Version, nil
}

func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after document")
	}
	return nil
}

func decodeCredentials(raw []byte) (state, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		records, err := migrateLegacyCredentials(raw)
		return state{records: records, legacy: true}, err
	}

	version, err := peekVersion(raw)
	if err != nil {
		return state{}, corrupt(RoleCredentials, err)
	}
	if version != schemaVersion && version != credentialsVersion {
		return state{}, corrupt(RoleCredentials, fmt.Errorf("unsupported schema version %d", version))
	}

	var doc credentialsDoc
	if err := decodeStrict(raw, &doc); err != nil {
		return state{}, corrupt(RoleCredentials, err)
	}
	if version == schemaVersion && doc.Tombstones != nil {
		return state{}, corrupt(RoleCredentials, fmt.Errorf("tombstones in version %d document", version))
	}
	if err := checkRecords(doc.Credentials); err != nil {
		return state{}, corrupt(RoleCredentials, err)
	}
	if doc.Credentials == nil {
		doc.Credentials = []models.Credential{}
	}
	if doc.Tombstones == nil {
		doc.Tombstones = []string{}
	}
	return state{
		records: doc.Credentials,
		tombs:   doc.Tombstones,
		legacy:  version == schemaVersion,
	}, nil
}

// checkRecords validates every record and rejects repeated ids.
func checkRecords(records []models.Credential) error {
	seen := make(map[string]struct{}, len(records))
	for i, c := range records {
		if err := validate(c); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateID, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

func migrateLegacyCredentials(raw []byte) ([]models.Credential, error) {
	var legacy []legacyCredential
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, corrupt(RoleCredentials, err)
	}
	out := make([]models.Credential, 0, len(legacy))
	for i, l := range legacy {
		c := models.Credential{
			ID:            l.ID,
			Owner:         l.UserID,
			Site:          l.Website,
			AccountLabel:  l.Username,
			CipherSecret:  l.EncryptedPassword,
			CipherDataKey: l.EncryptedEncryptionKey,
			Category:      l.Tag,
			LastModified:  l.LastModified,
			PendingSync:   l.PendingSync,
		}
		if c.ID == "" && c.PendingSync {
			c.ID = uuid.NewString()
		}
		if err := validate(c); err != nil {
			return nil, corrupt(RoleCredentials, fmt.Errorf("legacy record %d: %w", i, err))
		}
		out = append(out, c)
	}
	return out, nil
}

func encodeCredentials(v state) ([]byte, error) {
	doc := credentialsDoc{Version: credentialsVersion, Credentials: v.records, Tombstones: v.tombs}
	if doc.Credentials == nil {
		doc.Credentials = []models.Credential{}
	}
	return json.Marshal(doc)
}

// decodeTombstones reads the tombstone list of a version 1 layout.
func decodeTombstones(raw []byte) ([]string, error) {
	version, err := peekVersion(raw)
	if err != nil {
		return nil, corrupt(RoleTombstones, err)
	}
	if version != schemaVersion {
		return nil, corrupt(RoleTombstones, fmt.Errorf("unsupported schema version %d", version))
	}
	var doc tombstonesDoc
	if err := decodeStrict(raw, &doc); err != nil {
		return nil, corrupt(RoleTombstones, err)
	}
	return doc.IDs, nil
}

func decodeSettings(raw []byte) (SyncSettings, error) {
	version, err := peekVersion(raw)
	if err != nil {
		return SyncSettings{}, corrupt(RoleSyncSettings, err)
	}
	switch version {
	case 0:
		var l legacySettings
		if err := json.Unmarshal(raw, &l); err != nil {
			return SyncSettings{}, corrupt(RoleSyncSettings, err)
		}
		s := SyncSettings{Enabled: l.Enabled}
		if l.LastSync != nil {
			t, err := time.Parse(time.RFC3339, *l.LastSync)
			if err != nil {
				return SyncSettings{}, corrupt(RoleSyncSettings, err)
			}
			s.LastSync = t
		}
		return s, nil
	case schemaVersion:
		var doc settingsDoc
		if err := decodeStrict(raw, &doc); err != nil {
			return SyncSettings{}, corrupt(RoleSyncSettings, err)
		}
		s := SyncSettings{Enabled: doc.Enabled}
		if doc.LastSync > 0 {
			s.LastSync = time.UnixMilli(doc.LastSync)
		}
		return s, nil
	default:
		return SyncSettings{}, corrupt(RoleSyncSettings, fmt.Errorf("unsupported schema version %d", version))
	}
}

func encodeSettings(s SyncSettings) ([]byte, error) {
	doc := settingsDoc{Version: schemaVersion, Enabled: s.Enabled}
	if !s.LastSync.IsZero() {
		doc.LastSync = s.LastSync.UnixMilli()
	}
	return json.Marshal(doc)
}

func validate(c models.Credential) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("empty id")
	case c.CipherSecret == "":
		return fmt.Errorf("%s: empty cipher secret", c.ID)
	case c.CipherDataKey == "":
		return fmt.Errorf("%s: empty cipher data key", c.ID)
	case c.LastModified < 0:
		return fmt.Errorf("%s: negative last modified", c.ID)
	}
	return nil
}
