package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/repository"
)

func TestPrincipalRepository_GetByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPrincipalRepository(mock)
	lastLogin := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "email", "user_type", "password_hash", "is_active", "email_confirmed", "last_login_at", "partner_id",
	}).AddRow("user-1", "alice@example.com", "ADMIN", "argon2id$...", true, true, lastLogin, nil)

	mock.ExpectQuery(`SELECT .* FROM iam\.principals p WHERE lower\(p\.email\) = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	principal, err := repo.GetByEmail(context.Background(), "  Alice@Example.com ")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if principal.UserType != domain.UserTypeAdmin {
		t.Fatalf("expected admin user type, got %q", principal.UserType)
	}
	if principal.LastLoginAt == nil || !principal.LastLoginAt.Equal(lastLogin) {
		t.Fatalf("unexpected last login: %v", principal.LastLoginAt)
	}
	if principal.PartnerID != "" {
		t.Fatalf("expected empty partner id, got %q", principal.PartnerID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPrincipalRepository_GetByRefreshTokenHashNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPrincipalRepository(mock)

	mock.ExpectQuery(`JOIN iam\.refresh_tokens rt ON rt\.user_id = p\.id WHERE rt\.token_hash = \$1`).
		WithArgs("hash").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByRefreshTokenHash(context.Background(), "hash"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPartnershipRepository_IsAgreementValid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPartnershipRepository(mock)
	at := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("partner-9", at).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	valid, err := repo.IsAgreementValid(context.Background(), "partner-9", at)
	if err != nil {
		t.Fatalf("IsAgreementValid returned error: %v", err)
	}
	if !valid {
		t.Fatalf("expected valid agreement")
	}

	valid, err = repo.IsAgreementValid(context.Background(), "", at)
	if err != nil || valid {
		t.Fatalf("expected empty partner id to be invalid without a query, got %v %v", valid, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
