package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAMILY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// FamilyRepository implements family.Repository and family.PolicyReader for
// PostgreSQL.
type FamilyRepository struct {
	conn *Connection
}

// NewFamilyRepository creates a new FamilyRepository.
func NewFamilyRepository(conn *Connection) *FamilyRepository {
	return &FamilyRepository{conn: conn}
}

const accountColumns = `
	id, email, password_hash, display_name, is_admin,
	subscription_state, subscription_expires_at, subscription_provider_ref,
	subscription_synced_at, created_at, updated_at
`

const childColumns = `
	id, account_id, name, birth_year, override_granted, override_reason,
	archived, created_at, updated_at
`

// CreateAccount stores the account and its child profiles in one transaction.
func (r *FamilyRepository) CreateAccount(ctx context.Context, account *family.ParentAccount) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		query := `
			INSERT INTO accounts (` + accountColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		_, err := tx.Exec(ctx, query,
			account.ID.String(),
			account.Email.String(),
			account.PasswordHash,
			account.DisplayName,
			account.IsAdmin,
			string(account.Subscription.State),
			nullableTime(account.Subscription.ExpiresAt),
			account.Subscription.ProviderRef,
			account.Subscription.SyncedAt,
			account.CreatedAt,
			account.UpdatedAt,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return shared.ErrAccountAlreadyExists
			}
			return fmt.Errorf("failed to insert account: %w", err)
		}

		for _, child := range account.Children {
			if err := insertChild(ctx, tx, child); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertChild(ctx context.Context, q Querier, child *family.ChildProfile) error {
	query := `
		INSERT INTO child_profiles (` + childColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.Exec(ctx, query,
		child.ID.String(),
		child.AccountID.String(),
		child.Name,
		child.BirthYear,
		child.OverrideGranted,
		child.OverrideReason,
		child.Archived,
		child.CreatedAt,
		child.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert child profile: %w", err)
	}
	return nil
}

// GetAccount returns an account by id, children included.
func (r *FamilyRepository) GetAccount(ctx context.Context, id shared.AccountID) (*family.ParentAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	account, err := r.scanAccount(r.conn.QueryRow(ctx, query, id.String()))
	if err != nil {
		return nil, err
	}
	if err := r.attachChildren(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccountByEmail returns an account by normalized email.
func (r *FamilyRepository) GetAccountByEmail(ctx context.Context, email shared.Email) (*family.ParentAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	account, err := r.scanAccount(r.conn.QueryRow(ctx, query, email.Normalize().String()))
	if err != nil {
		return nil, err
	}
	if err := r.attachChildren(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// GetChild returns a child profile by id.
func (r *FamilyRepository) GetChild(ctx context.Context, id shared.ChildID) (*family.ChildProfile, error) {
	query := `SELECT ` + childColumns + ` FROM child_profiles WHERE id = $1`
	child, err := scanChild(r.conn.QueryRow(ctx, query, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get child profile: %w", err)
	}
	return child, nil
}

// GetAccountByChild returns the owning account of a child profile.
func (r *FamilyRepository) GetAccountByChild(ctx context.Context, childID shared.ChildID) (*family.ParentAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = (SELECT account_id FROM child_profiles WHERE id = $1)
	`
	account, err := r.scanAccount(r.conn.QueryRow(ctx, query, childID.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProfileNotFound
		}
		return nil, err
	}
	if err := r.attachChildren(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// UpdateSubscription persists the account's subscription state.
func (r *FamilyRepository) UpdateSubscription(ctx context.Context, id shared.AccountID, sub family.Subscription) error {
	query := `
		UPDATE accounts
		SET subscription_state = $2,
		    subscription_expires_at = $3,
		    subscription_provider_ref = $4,
		    subscription_synced_at = $5,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.conn.Exec(ctx, query,
		id.String(),
		string(sub.State),
		nullableTime(sub.ExpiresAt),
		sub.ProviderRef,
		sub.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

// UpdateChild persists profile changes (override flags, archive).
func (r *FamilyRepository) UpdateChild(ctx context.Context, profile *family.ChildProfile) error {
	query := `
		UPDATE child_profiles
		SET name = $2,
		    birth_year = $3,
		    override_granted = $4,
		    override_reason = $5,
		    archived = $6,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.conn.Exec(ctx, query,
		profile.ID.String(),
		profile.Name,
		profile.BirthYear,
		profile.OverrideGranted,
		profile.OverrideReason,
		profile.Archived,
	)
	if err != nil {
		return fmt.Errorf("failed to update child profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProfileNotFound
	}
	return nil
}

// AccountsExpiringBefore returns not-yet-lapsed accounts whose entitlement
// runs out before cutoff. Children are not loaded; the sweep only needs the
// subscription.
func (r *FamilyRepository) AccountsExpiringBefore(ctx context.Context, cutoff shared.Instant, limit int) ([]*family.ParentAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE subscription_state IN ('trial', 'active')
		  AND subscription_expires_at IS NOT NULL
		  AND subscription_expires_at < $1
		ORDER BY subscription_expires_at
		LIMIT $2
	`
	rows, err := r.conn.Query(ctx, query, cutoff.Time(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*family.ParentAccount
	for rows.Next() {
		account, err := r.scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// PolicyFor resolves (entitled, override) for a child in a single query.
// Implements family.PolicyReader.
func (r *FamilyRepository) PolicyFor(ctx context.Context, childID shared.ChildID, now shared.Instant) (bool, bool, error) {
	query := `
		SELECT a.subscription_state, a.subscription_expires_at, c.override_granted
		FROM child_profiles c
		JOIN accounts a ON a.id = c.account_id
		WHERE c.id = $1 AND NOT c.archived
	`

	var state string
	var expiresAt *time.Time
	var override bool
	err := r.conn.QueryRow(ctx, query, childID.String()).Scan(&state, &expiresAt, &override)
	if err != nil {
		if IsNoRows(err) {
			return false, false, shared.ErrProfileNotFound
		}
		return false, false, fmt.Errorf("failed to read access policy: %w", err)
	}

	sub := family.Subscription{State: family.SubscriptionState(state)}
	if expiresAt != nil {
		sub.ExpiresAt = *expiresAt
	}
	return sub.EntitledAt(now), override, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *FamilyRepository) scanAccount(row pgx.Row) (*family.ParentAccount, error) {
	account, err := r.scanAccountRow(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (r *FamilyRepository) scanAccountRow(row pgx.Row) (*family.ParentAccount, error) {
	var (
		account   family.ParentAccount
		email     string
		state     string
		expiresAt *time.Time
		id        string
	)
	err := row.Scan(
		&id,
		&email,
		&account.PasswordHash,
		&account.DisplayName,
		&account.IsAdmin,
		&state,
		&expiresAt,
		&account.Subscription.ProviderRef,
		&account.Subscription.SyncedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.ID = shared.AccountID(id)
	account.Email = shared.Email(email)
	account.Subscription.State = family.SubscriptionState(state)
	if expiresAt != nil {
		account.Subscription.ExpiresAt = *expiresAt
	}
	return &account, nil
}

func scanChild(row pgx.Row) (*family.ChildProfile, error) {
	var (
		child     family.ChildProfile
		id        string
		accountID string
	)
	err := row.Scan(
		&id,
		&accountID,
		&child.Name,
		&child.BirthYear,
		&child.OverrideGranted,
		&child.OverrideReason,
		&child.Archived,
		&child.CreatedAt,
		&child.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	child.ID = shared.ChildID(id)
	child.AccountID = shared.AccountID(accountID)
	return &child, nil
}

func (r *FamilyRepository) attachChildren(ctx context.Context, account *family.ParentAccount) error {
	query := `
		SELECT ` + childColumns + `
		FROM child_profiles
		WHERE account_id = $1
		ORDER BY created_at
	`
	rows, err := r.conn.Query(ctx, query, account.ID.String())
	if err != nil {
		return fmt.Errorf("failed to query child profiles: %w", err)
	}
	defer rows.Close()

	account.Children = nil
	for rows.Next() {
		child, err := scanChild(rows)
		if err != nil {
			return fmt.Errorf("failed to scan child profile: %w", err)
		}
		account.Children = append(account.Children, child)
	}
	return rows.Err()
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
