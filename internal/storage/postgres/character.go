package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/project-spire/spire-game-server/internal/player"
)

// ErrCharacterNameTaken is returned when creating a character with a name already used by the account.
var ErrCharacterNameTaken = errors.New("character name already taken")

// CharacterRepository provides character persistence operations. It
// implements player.CharacterStore.
type CharacterRepository struct {
	db *pgxpool.Pool
}

// NewCharacterRepository creates a CharacterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCharacterRepository(db *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db: db}
}

const characterColumns = `id, account_id, name, last_room, created_at, updated_at`

// Create inserts a new character.
//
// Precondition: accountID must reference an existing account; name must be non-empty.
// Postcondition: Returns the created character, or ErrCharacterNameTaken on duplicate.
func (r *CharacterRepository) Create(ctx context.Context, accountID uint64, name string) (player.Character, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO characters (account_id, name) VALUES ($1, $2)
		 RETURNING `+characterColumns,
		int64(accountID), name,
	)
	c, err := scanCharacter(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return player.Character{}, ErrCharacterNameTaken
		}
		return player.Character{}, fmt.Errorf("inserting character: %w", err)
	}
	return c, nil
}

// GetByID retrieves a character by its primary key.
//
// Postcondition: Returns the Character or an error wrapping player.ErrCharacterNotFound.
func (r *CharacterRepository) GetByID(ctx context.Context, id uint64) (player.Character, error) {
	row := r.db.QueryRow(ctx, `SELECT `+characterColumns+` FROM characters WHERE id = $1`, int64(id))
	c, err := scanCharacter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return player.Character{}, fmt.Errorf("character %d: %w", id, player.ErrCharacterNotFound)
		}
		return player.Character{}, fmt.Errorf("querying character %d: %w", id, err)
	}
	return c, nil
}

// ListByAccount returns all characters for the given account, oldest first.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *CharacterRepository) ListByAccount(ctx context.Context, accountID uint64) ([]player.Character, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE account_id = $1 ORDER BY created_at ASC, id ASC`,
		int64(accountID),
	)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	defer rows.Close()

	chars := make([]player.Character, 0)
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning character row: %w", err)
		}
		chars = append(chars, c)
	}
	return chars, rows.Err()
}

// SaveLastRoom records the room a character was last admitted to.
//
// Postcondition: Returns an error wrapping player.ErrCharacterNotFound when no row matches.
func (r *CharacterRepository) SaveLastRoom(ctx context.Context, id, room uint64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE characters SET last_room = $1, updated_at = NOW() WHERE id = $2`,
		int64(room), int64(id),
	)
	if err != nil {
		return fmt.Errorf("updating last room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("character %d: %w", id, player.ErrCharacterNotFound)
	}
	return nil
}

func scanCharacter(row pgx.Row) (player.Character, error) {
	var (
		c                    player.Character
		id, account, lastRoom int64
	)
	if err := row.Scan(&id, &account, &c.Name, &lastRoom, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return player.Character{}, err
	}
	c.ID = uint64(id)
	c.AccountID = uint64(account)
	c.LastRoom = uint64(lastRoom)
	return c, nil
}
