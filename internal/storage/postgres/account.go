package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/project-spire/spire-game-server/internal/session"
)

// Account is an operator-managed account. The game server never reads it; the
// token tooling authenticates against it and signs its privilege into tokens.
type Account struct {
	ID           uint64
	Username     string
	PasswordHash string
	Privilege    session.Privilege
	CreatedAt    time.Time
}

// ErrAccountNotFound is returned when an account lookup yields no results.
var ErrAccountNotFound = errors.New("account not found")

// ErrAccountExists is returned when attempting to create a duplicate username.
var ErrAccountExists = errors.New("account already exists")

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountRepository provides account persistence operations.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates an AccountRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account with a bcrypt-hashed password.
//
// Precondition: username and password must be non-empty.
// Postcondition: Returns the created Account with ID and CreatedAt set,
// or ErrAccountExists if the username is taken.
func (r *AccountRepository) Create(ctx context.Context, username, password string, privilege session.Privilege) (Account, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, fmt.Errorf("hashing password: %w", err)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO accounts (username, password_hash, privilege)
		 VALUES ($1, $2, $3)
		 RETURNING id, username, password_hash, privilege, created_at`,
		username, hash, privilege.String(),
	)
	acct, err := scanAccount(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Account{}, ErrAccountExists
		}
		return Account{}, fmt.Errorf("inserting account: %w", err)
	}
	return acct, nil
}

// Authenticate verifies credentials and returns the matching account.
//
// Postcondition: Returns ErrAccountNotFound if the username doesn't exist and
// ErrInvalidCredentials if the password is wrong.
func (r *AccountRepository) Authenticate(ctx context.Context, username, password string) (Account, error) {
	acct, err := r.GetByUsername(ctx, username)
	if err != nil {
		return Account{}, err
	}
	if !CheckPassword(password, acct.PasswordHash) {
		return Account{}, ErrInvalidCredentials
	}
	return acct, nil
}

// GetByUsername retrieves an account by username.
//
// Postcondition: Returns the Account or ErrAccountNotFound.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, privilege, created_at
		 FROM accounts WHERE username = $1`,
		username,
	)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("querying account: %w", err)
	}
	return acct, nil
}

// SetPrivilege updates the privilege for the given account.
//
// Postcondition: The account's privilege is updated, or ErrAccountNotFound is returned.
func (r *AccountRepository) SetPrivilege(ctx context.Context, accountID uint64, privilege session.Privilege) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET privilege = $1 WHERE id = $2`,
		privilege.String(), accountID,
	)
	if err != nil {
		return fmt.Errorf("updating privilege: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct      Account
		id        int64
		privilege string
	)
	if err := row.Scan(&id, &acct.Username, &acct.PasswordHash, &privilege, &acct.CreatedAt); err != nil {
		return Account{}, err
	}
	p, err := session.ParsePrivilege(privilege)
	if err != nil {
		return Account{}, fmt.Errorf("account %d: %w", id, err)
	}
	acct.ID = uint64(id)
	acct.Privilege = p
	return acct, nil
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
