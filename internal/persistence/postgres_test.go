package persistence

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgres_ReadMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM association_store WHERE key = $1")).
		WithArgs("k").
		WillReturnError(sql.ErrNoRows)

	_, found, err := NewPostgres(db).Read(context.Background(), "k")
	if err != nil || found {
		t.Fatalf("expected miss, got %v %v", found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_ReadPlaceholderIsMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT value FROM association_store").
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("null")))

	_, found, err := NewPostgres(db).Read(context.Background(), "k")
	if err != nil || found {
		t.Fatalf("expected placeholder to read as missing, got %v %v", found, err)
	}
}

func TestPostgres_UpdateUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO association_store").
		WithArgs("k", `{"a":1}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewPostgres(db).Update(context.Background(), "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_MutateLocksRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO association_store").WithArgs("k").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FOR UPDATE").WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"count":1}`)))
	mock.ExpectExec("UPDATE association_store SET value").
		WithArgs("k", `{"count":2}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewPostgres(db).Mutate(context.Background(), "k", func(cur []byte, found bool) ([]byte, error) {
		if !found || string(cur) != `{"count":1}` {
			t.Fatalf("unexpected current %q %v", cur, found)
		}
		return []byte(`{"count":2}`), nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_MutateSkipRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO association_store").WithArgs("k").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FOR UPDATE").WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("null")))
	mock.ExpectRollback()

	err = NewPostgres(db).Mutate(context.Background(), "k", func(cur []byte, found bool) ([]byte, error) {
		if found {
			t.Fatalf("expected placeholder to be reported as missing")
		}
		return nil, ErrSkipWrite
	})
	if err != nil {
		t.Fatalf("expected nil on skip, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgres_MutateWrapsDBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	dbErr := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO association_store").WithArgs("k").WillReturnError(dbErr)
	mock.ExpectRollback()

	err = NewPostgres(db).Mutate(context.Background(), "k", func([]byte, bool) ([]byte, error) {
		t.Fatalf("callback must not run")
		return nil, nil
	})
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected db error, got %v", err)
	}
}
