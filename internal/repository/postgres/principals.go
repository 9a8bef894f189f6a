package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/repository"
)

var principalColumns = []string{
	"p.id",
	"p.email",
	"p.user_type",
	"p.password_hash",
	"p.is_active",
	"p.email_confirmed",
	"p.last_login_at",
	"p.partner_id",
}

// PrincipalRepository implements port.PrincipalRepository backed by PostgreSQL.
type PrincipalRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPrincipalRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewPrincipalRepository(exec pgExecutor) *PrincipalRepository {
	return &PrincipalRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetByEmail loads a principal by case-insensitive email.
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	return r.getOne(ctx, r.builder.Select(principalColumns...).
		From("iam.principals p").
		Where(squirrel.Eq{"lower(p.email)": strings.ToLower(strings.TrimSpace(email))}).
		Limit(1))
}

// GetByID loads a principal by identifier.
func (r *PrincipalRepository) GetByID(ctx context.Context, userID string) (*domain.Principal, error) {
	return r.getOne(ctx, r.builder.Select(principalColumns...).
		From("iam.principals p").
		Where(squirrel.Eq{"p.id": userID}).
		Limit(1))
}

// GetByRefreshTokenHash resolves the owner of a refresh token.
func (r *PrincipalRepository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*domain.Principal, error) {
	return r.getOne(ctx, r.builder.Select(principalColumns...).
		From("iam.principals p").
		Join("iam.refresh_tokens rt ON rt.user_id = p.id").
		Where(squirrel.Eq{"rt.token_hash": tokenHash}).
		Limit(1))
}

func (r *PrincipalRepository) getOne(ctx context.Context, query squirrel.SelectBuilder) (*domain.Principal, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select principal sql: %w", err)
	}

	var (
		principal   domain.Principal
		userType    string
		lastLoginAt sql.NullTime
		partnerID   sql.NullString
	)

	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&principal.UserID,
		&principal.Email,
		&userType,
		&principal.PasswordHash,
		&principal.IsActive,
		&principal.EmailConfirmed,
		&lastLoginAt,
		&partnerID,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}

	principal.UserType = domain.ParseUserType(userType)
	principal.LastLoginAt = nullableTimePtr(lastLoginAt)
	if partnerID.Valid {
		principal.PartnerID = partnerID.String
	}
	return &principal, nil
}

var _ port.PrincipalRepository = (*PrincipalRepository)(nil)
