package breach

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	verrors "github.com/atinyakov/gophvault/internal/errors"
	"github.com/atinyakov/gophvault/internal/models"
)

const cacheVersion = 1

type resultsDoc struct {
	Version int                   `json:"version"`
	Results []models.BreachResult `json:"results"`
}

type lastCheckDoc struct {
	Version   int   `json:"version"`
	CheckedAt int64 `json:"checked_at"`
}

// legacyResult is the unversioned array layout.
type legacyResult struct {
	Email      string `json:"email"`
	IsBreached bool   `json:"isBreached"`
	Timestamp  string `json:"timestamp"`
}

func corrupt(role string, err error) error {
	return fmt.Errorf("decode %s: %w: %w", role, verrors.ErrStorageCorrupt, err)
}

func (s *Service) loadResults(ctx context.Context) ([]models.BreachResult, error) {
	raw, err := s.kv.Get(ctx, s.sess.Key(roleResults))
	if errors.Is(err, verrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeResults(raw)
}

func decodeResults(raw []byte) ([]models.BreachResult, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var legacy []legacyResult
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, corrupt(roleResults, err)
		}
		out := make([]models.BreachResult, 0, len(legacy))
		for _, l := range legacy {
			at, err := time.Parse(time.RFC3339, l.Timestamp)
			if err != nil {
				return nil, corrupt(roleResults, err)
			}
			status := models.StatusClean
			if l.IsBreached {
				status = models.StatusBreached
			}
			out = append(out, models.BreachResult{SubjectIdentity: l.Email, IsBreached: l.IsBreached, CheckedAt: at, Status: status})
		}
		return out, nil
	}

	var doc resultsDoc
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, corrupt(roleResults, err)
	}
	if doc.Version != cacheVersion {
		return nil, corrupt(roleResults, fmt.Errorf("unsupported schema version %d", doc.Version))
	}
	for _, r := range doc.Results {
		switch r.Status {
		case models.StatusClean, models.StatusBreached, models.StatusFailed, models.StatusRateLimited:
		default:
			return nil, corrupt(roleResults, fmt.Errorf("%s: unknown status %q", r.SubjectIdentity, r.Status))
		}
	}
	return doc.Results, nil
}

func (s *Service) saveResults(ctx context.Context, results []models.BreachResult) error {
	if results == nil {
		results = []models.BreachResult{}
	}
	buf, err := json.Marshal(resultsDoc{Version: cacheVersion, Results: results})
	if err != nil {
		return fmt.Errorf("encode breach results: %w: %w", verrors.ErrStorageWriteFailed, err)
	}
	return s.kv.Put(ctx, s.sess.Key(roleResults), buf)
}

// loadLastCheck returns the zero time when no pass has completed.
func (s *Service) loadLastCheck(ctx context.Context) (time.Time, error) {
	raw, err := s.kv.Get(ctx, s.sess.Key(roleLastCheck))
	if errors.Is(err, verrors.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return decodeLastCheck(raw)
}

func decodeLastCheck(raw []byte) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] != '{' {
		// legacy: epoch milliseconds as a bare number or a quoted string
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, corrupt(roleLastCheck, err)
		}
		return time.UnixMilli(ms), nil
	}

	var doc lastCheckDoc
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return time.Time{}, corrupt(roleLastCheck, err)
	}
	if doc.Version != cacheVersion {
		return time.Time{}, corrupt(roleLastCheck, fmt.Errorf("unsupported schema version %d", doc.Version))
	}
	return time.UnixMilli(doc.CheckedAt), nil
}

func (s *Service) saveLastCheck(ctx context.Context, at time.Time) error {
	buf, err := json.Marshal(lastCheckDoc{Version: cacheVersion, CheckedAt: at.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode last check: %w: %w", verrors.ErrStorageWriteFailed, err)
	}
	return s.kv.Put(ctx, s.sess.Key(roleLastCheck), buf)
}
