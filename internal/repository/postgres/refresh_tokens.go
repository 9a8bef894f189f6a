package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/repository"
)

const refreshTokensTable = "iam.refresh_tokens"

var refreshTokenColumns = []string{
	"id",
	"user_id",
	"token_hash",
	"family_id",
	"remember_me",
	"created_at",
	"created_by_ip",
	"expires_at",
	"revoked_at",
	"revoked_by_ip",
	"revoked_reason",
	"replaced_by_token_id",
	"device_fingerprint",
}

// RefreshTokenRepository implements port.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db      pgBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRefreshTokenRepository constructs a repository backed by a pool (or pgxmock pool).
func NewRefreshTokenRepository(db pgBeginner) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		db:      db,
		exec:    db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *RefreshTokenRepository) WithTx(tx pgx.Tx) *RefreshTokenRepository {
	if tx == nil {
		return r
	}
	return &RefreshTokenRepository{
		db:      r.db,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a refresh token hash for a user.
func (r *RefreshTokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert(refreshTokensTable).
		Columns(refreshTokenColumns...).
		Values(
			token.ID,
			token.UserID,
			token.TokenHash,
			token.FamilyID,
			token.RememberMe,
			token.CreatedAt.UTC(),
			nonEmpty(token.CreatedByIP),
			token.ExpiresAt.UTC(),
			optionalTime(token.RevokedAt),
			optionalString(token.RevokedByIP),
			optionalString(token.RevokedReason),
			optionalString(token.ReplacedByTokenID),
			token.DeviceFingerprint,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetByHash retrieves a refresh token by its hashed value.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns...).
		From(refreshTokensTable).
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	token, err := scanRefreshToken(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return token, nil
}

// Rotate revokes the active token and inserts its successor in a single transaction.
// The revoke is conditional on the token still being active, so only one of several
// concurrent rotations of the same token can commit.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, successor domain.RefreshToken, at time.Time, ip string) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate refresh token: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	txRepo := r.WithTx(tx)

	stmt, args, err := txRepo.builder.Update(refreshTokensTable).
		Set("revoked_at", at.UTC()).
		Set("revoked_by_ip", nonEmpty(ip)).
		Set("revoked_reason", domain.RevokeReasonRotated).
		Set("replaced_by_token_id", successor.ID).
		Where(squirrel.Eq{"id": oldID}).
		Where("revoked_at IS NULL").
		Where("replaced_by_token_id IS NULL").
		Where(squirrel.Gt{"expires_at": at.UTC()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build rotate refresh token sql: %w", err)
	}

	ct, err := txRepo.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke rotated refresh token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		err = repository.ErrConflict
		return err
	}

	if err = txRepo.Create(ctx, successor); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate refresh token: %w", err)
	}
	return nil
}

// Revoke marks a single refresh token as revoked. Already revoked tokens are left untouched.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, at time.Time, ip string, reason string) (bool, error) {
	stmt, args, err := r.builder.Update(refreshTokensTable).
		Set("revoked_at", at.UTC()).
		Set("revoked_by_ip", nonEmpty(ip)).
		Set("revoked_reason", normalizeReason(reason, domain.RevokeReasonLogout)).
		Where(squirrel.Eq{"id": id}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// RevokeFamily revokes all active refresh tokens within the supplied family.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string, at time.Time, ip string, reason string) (int, error) {
	stmt := `
		WITH updated AS (
			UPDATE iam.refresh_tokens
			   SET revoked_at = $2,
			       revoked_by_ip = $3,
			       revoked_reason = $4
			 WHERE family_id = $1
			   AND revoked_at IS NULL
			 RETURNING 1
		)
		SELECT count(*) FROM updated;
	`

	var count int
	if err := r.exec.QueryRow(ctx, stmt, familyID, at.UTC(), nonEmpty(ip), normalizeReason(reason, domain.RevokeReasonReuseDetected)).Scan(&count); err != nil {
		return 0, fmt.Errorf("revoke refresh tokens by family: %w", err)
	}
	return count, nil
}

// RevokeAllForUser revokes every active refresh token owned by the user.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time, ip string, reason string) (int, error) {
	stmt, args, err := r.builder.Update(refreshTokensTable).
		Set("revoked_at", at.UTC()).
		Set("revoked_by_ip", nonEmpty(ip)).
		Set("revoked_reason", normalizeReason(reason, domain.RevokeReasonLogoutAll)).
		Where(squirrel.Eq{"user_id": userID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke user refresh tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// ListActiveByUser returns the user's active refresh tokens ordered oldest first.
func (r *RefreshTokenRepository) ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns...).
		From(refreshTokensTable).
		Where(squirrel.Eq{"user_id": userID}).
		Where("revoked_at IS NULL").
		Where("replaced_by_token_id IS NULL").
		Where(squirrel.Gt{"expires_at": at.UTC()}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list refresh tokens sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return tokens, nil
}

// DeleteExpired removes tokens that expired before the cutoff.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete(refreshTokensTable).
		Where(squirrel.Lt{"expires_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired refresh tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func scanRefreshToken(row pgx.Row) (*domain.RefreshToken, error) {
	var (
		token       domain.RefreshToken
		createdByIP sql.NullString
		revokedAt   sql.NullTime
		revokedByIP sql.NullString
		reason      sql.NullString
		replacedBy  sql.NullString
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.FamilyID,
		&token.RememberMe,
		&token.CreatedAt,
		&createdByIP,
		&token.ExpiresAt,
		&revokedAt,
		&revokedByIP,
		&reason,
		&replacedBy,
		&token.DeviceFingerprint,
	); err != nil {
		return nil, err
	}

	token.CreatedAt = token.CreatedAt.UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()
	if createdByIP.Valid {
		token.CreatedByIP = createdByIP.String
	}
	token.RevokedAt = nullableTimePtr(revokedAt)
	token.RevokedByIP = nullableStringPtr(revokedByIP)
	token.RevokedReason = nullableStringPtr(reason)
	token.ReplacedByTokenID = nullableStringPtr(replacedBy)
	return &token, nil
}

var _ port.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
