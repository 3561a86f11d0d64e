package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/pkg/database"
)

var (
	ErrEmoteNotFound   = errors.New("emote not found")
	ErrNameTaken       = errors.New("an emote with that name already exists")
	ErrNotOwner        = errors.New("only the emote's owner can change it")
	ErrNotUserEmote    = errors.New("catalog emotes cannot be changed")
	ErrAlreadyDisabled = errors.New("emote is already disabled")
	ErrNotDisabled     = errors.New("emote is not disabled")
)

const uniqueViolation = "23505"

// Service is the emote directory: every known emote name and where its
// image lives, plus the blacklist of names that must never resolve.
type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

const emoteColumns = `name, image_url, source, owner_id, animated, created_at`

func scanEmote(row pgx.Row) (*models.EmoteRecord, error) {
	var e models.EmoteRecord
	err := row.Scan(&e.Name, &e.ImageURL, &e.Source, &e.OwnerID, &e.Animated, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteBySource removes every record that came from source.
func (s *Service) DeleteBySource(ctx context.Context, source models.EmoteSource) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM emotes WHERE source = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s emotes: %w", source, err)
	}
	return tag.RowsAffected(), nil
}

// InsertMany inserts records unordered. Names that already exist are
// skipped and counted as duplicates.
func (s *Service) InsertMany(ctx context.Context, records []models.EmoteRecord) (inserted, duplicates int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(
			`INSERT INTO emotes (name, image_url, source, owner_id, animated)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (name) DO NOTHING`,
			r.Name, r.ImageURL, r.Source, r.OwnerID, r.Animated,
		)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		tag, execErr := br.Exec()
		if execErr != nil {
			return inserted, len(records) - inserted, fmt.Errorf("failed to insert emotes: %w", execErr)
		}
		inserted += int(tag.RowsAffected())
	}

	return inserted, len(records) - inserted, nil
}

// FindByNames returns the records for the given names, keyed by name.
// Disabled names are left out.
func (s *Service) FindByNames(ctx context.Context, names []string) (map[string]models.EmoteRecord, error) {
	found := make(map[string]models.EmoteRecord, len(names))
	if len(names) == 0 {
		return found, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+emoteColumns+` FROM emotes
		 WHERE name = ANY($1)
		   AND name NOT IN (SELECT name FROM emote_blacklist)`,
		names,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to look up emotes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEmote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan emote: %w", err)
		}
		found[e.Name] = *e
	}

	return found, rows.Err()
}

func (s *Service) Get(ctx context.Context, name string) (*models.EmoteRecord, error) {
	e, err := scanEmote(s.db.QueryRow(ctx, `SELECT `+emoteColumns+` FROM emotes WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmoteNotFound
		}
		return nil, fmt.Errorf("failed to get emote: %w", err)
	}
	return e, nil
}

// Add stores a user-submitted emote.
func (s *Service) Add(ctx context.Context, name, imageURL string, ownerID int64) (*models.EmoteRecord, error) {
	e, err := scanEmote(s.db.QueryRow(ctx,
		`INSERT INTO emotes (name, image_url, source, owner_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+emoteColumns,
		name, imageURL, models.SourceUser, ownerID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("failed to add emote: %w", err)
	}
	return e, nil
}

// checkOwned loads a user emote and verifies ownerID may modify it.
// force skips the owner check.
func (s *Service) checkOwned(ctx context.Context, tx pgx.Tx, name string, ownerID int64, force bool) error {
	var source models.EmoteSource
	var owner int64
	err := tx.QueryRow(ctx, `SELECT source, owner_id FROM emotes WHERE name = $1 FOR UPDATE`, name).Scan(&source, &owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEmoteNotFound
		}
		return fmt.Errorf("failed to get emote: %w", err)
	}
	if force {
		return nil
	}
	if source != models.SourceUser {
		return ErrNotUserEmote
	}
	if owner != ownerID {
		return ErrNotOwner
	}
	return nil
}

// RemoveOwned deletes a user emote owned by ownerID.
func (s *Service) RemoveOwned(ctx context.Context, name string, ownerID int64, force bool) error {
	return database.WithTransaction(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.checkOwned(ctx, tx, name, ownerID, force); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM emotes WHERE name = $1`, name); err != nil {
			return fmt.Errorf("failed to remove emote: %w", err)
		}
		return nil
	})
}

// UpdateURL points a user emote at a new image.
func (s *Service) UpdateURL(ctx context.Context, name, imageURL string, ownerID int64, force bool) error {
	return database.WithTransaction(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.checkOwned(ctx, tx, name, ownerID, force); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE emotes SET image_url = $2 WHERE name = $1`, name, imageURL); err != nil {
			return fmt.Errorf("failed to update emote: %w", err)
		}
		return nil
	})
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM emotes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count emotes: %w", err)
	}
	return n, nil
}

func (s *Service) CountBySource(ctx context.Context) (map[models.EmoteSource]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT source, COUNT(*) FROM emotes GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to count emotes: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EmoteSource]int64)
	for rows.Next() {
		var source models.EmoteSource
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

// Random picks one enabled emote.
func (s *Service) Random(ctx context.Context) (*models.EmoteRecord, error) {
	e, err := scanEmote(s.db.QueryRow(ctx,
		`SELECT `+emoteColumns+` FROM emotes
		 WHERE name NOT IN (SELECT name FROM emote_blacklist)
		 ORDER BY random() LIMIT 1`,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmoteNotFound
		}
		return nil, fmt.Errorf("failed to pick emote: %w", err)
	}
	return e, nil
}

// Disable blacklists a name.
func (s *Service) Disable(ctx context.Context, name string, disabledBy int64) error {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO emote_blacklist (name, disabled_by) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`,
		name, disabledBy,
	)
	if err != nil {
		return fmt.Errorf("failed to disable emote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyDisabled
	}
	return nil
}

func (s *Service) Enable(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM emote_blacklist WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to enable emote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDisabled
	}
	return nil
}

// DisabledAmong returns which of names are blacklisted.
func (s *Service) DisabledAmong(ctx context.Context, names []string) (map[string]bool, error) {
	disabled := make(map[string]bool)
	if len(names) == 0 {
		return disabled, nil
	}

	rows, err := s.db.Query(ctx, `SELECT name FROM emote_blacklist WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to check blacklist: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist: %w", err)
		}
		disabled[name] = true
	}
	return disabled, rows.Err()
}

func (s *Service) ListDisabled(ctx context.Context) ([]models.DisabledEmote, error) {
	rows, err := s.db.Query(ctx, `SELECT name, disabled_by, created_at FROM emote_blacklist ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	defer rows.Close()

	var list []models.DisabledEmote
	for rows.Next() {
		var d models.DisabledEmote
		if err := rows.Scan(&d.Name, &d.DisabledBy, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}
