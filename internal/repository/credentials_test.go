package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/atinyakov/gophvault/internal/models"
)

func setupMock(t *testing.T) (*PostgresCredentialRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresCredentialRepository(db)
	cleanup := func() {
		db.Close()
	}
	return repo, mock, cleanup
}

var listColumns = []string{"id", "owner", "site", "account_label", "cipher_secret", "cipher_data_key", "category", "last_modified"}

func TestListByOwner_Success(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	owner := "alice@example.com"
	rows := sqlmock.NewRows(listColumns).
		AddRow("id2", owner, "b.com", owner, "iv:cs2", "iv:dk2", "", int64(200)).
		AddRow("id1", owner, "a.com", owner, "iv:cs1", "iv:dk1", "work", int64(100))
	mock.ExpectQuery(`SELECT id, owner, site, account_label, cipher_secret, cipher_data_key, category, last_modified\s+FROM credentials`).
		WithArgs(owner).
		WillReturnRows(rows)

	docs, err := repo.ListByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].ID != "id2" || docs[1].Category != "work" || docs[1].LastModified != 100 {
		t.Errorf("unexpected documents: %+v", docs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListByOwner_Empty(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(`FROM credentials`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(listColumns))

	docs, err := repo.ListByOwner(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", docs)
	}
}

func TestListByOwner_QueryError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery(`FROM credentials`).
		WithArgs("alice@example.com").
		WillReturnError(errors.New("query fail"))

	_, err := repo.ListByOwner(context.Background(), "alice@example.com")
	if err == nil || !regexp.MustCompile(`ListByOwner`).MatchString(err.Error()) {
		t.Errorf("expected ListByOwner error, got %v", err)
	}
}

func TestListByOwner_ScanError(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	rows := sqlmock.NewRows(listColumns).
		AddRow("id1", "alice@example.com", "a.com", "a", "cs", "dk", "", "not-a-number")
	mock.ExpectQuery(`FROM credentials`).WithArgs("alice@example.com").WillReturnRows(rows)

	_, err := repo.ListByOwner(context.Background(), "alice@example.com")
	if err == nil || !regexp.MustCompile(`scan`).MatchString(err.Error()) {
		t.Errorf("expected scan error, got %v", err)
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	owner := "alice@example.com"
	doc := models.Document{ID: "client-id", Owner: "mallory@example.com", Site: "a.com", AccountLabel: owner,
		CipherSecret: "iv:cs", CipherDataKey: "iv:dk", LastModified: 1234}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO credentials`)).
		WithArgs(sqlmock.AnyArg(), owner, "a.com", owner, "iv:cs", "iv:dk", "", int64(1234)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := repo.Create(context.Background(), owner, doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(created.ID); err != nil {
		t.Errorf("id %q is not a uuid: %v", created.ID, err)
	}
	if created.Owner != owner {
		t.Errorf("owner = %q; want %q", created.Owner, owner)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCreate_UnknownOwner(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO credentials`)).
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation})

	_, err := repo.Create(context.Background(), "ghost@example.com", models.Document{Site: "a.com"})
	if !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("expected ErrUnknownOwner, got %v", err)
	}
}

func TestCreate_Error(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO credentials`)).
		WillReturnError(errors.New("insert failed"))

	_, err := repo.Create(context.Background(), "alice@example.com", models.Document{Site: "a.com"})
	if err == nil || errors.Is(err, ErrUnknownOwner) {
		t.Errorf("expected plain error, got %v", err)
	}
}

func TestSoftDelete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"deleted", 1, true},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := setupMock(t)
			defer cleanup()

			mock.ExpectExec(regexp.QuoteMeta(`UPDATE credentials SET deleted = true, deleted_at = now()`)).
				WithArgs("alice@example.com", "id1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.SoftDelete(context.Background(), "alice@example.com", "id1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SoftDelete = %v; want %v", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSoftDelete_Error(t *testing.T) {
	repo, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE credentials`)).
		WithArgs("alice@example.com", "id1").
		WillReturnError(errors.New("update failed"))

	if _, err := repo.SoftDelete(context.Background(), "alice@example.com", "id1"); err == nil {
		t.Error("expected error, got nil")
	}
}
