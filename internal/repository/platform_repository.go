package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/lib/pq"
	"github.com/maheshrc27/postpublisher/internal/models"
)

type PlatformRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Platform, error)
	List(ctx context.Context) ([]*models.Platform, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*models.Platform, error)
	Upsert(ctx context.Context, p *models.Platform) (int64, error)
}

type platformRepository struct {
	db *sql.DB
}

func NewPlatformRepository(db *sql.DB) PlatformRepository {
	return &platformRepository{db: db}
}

const platformColumns = `id, name, type, character_limit, created_at, updated_at`

func (r *platformRepository) GetByID(ctx context.Context, id int64) (*models.Platform, error) {
	query := `SELECT ` + platformColumns + ` FROM platforms WHERE id = $1`

	var p models.Platform
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Type, &p.CharacterLimit, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &p, nil
}

func (r *platformRepository) List(ctx context.Context) ([]*models.Platform, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+platformColumns+` FROM platforms ORDER BY id`)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return collectPlatforms(rows)
}

func (r *platformRepository) ListByIDs(ctx context.Context, ids []int64) ([]*models.Platform, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+platformColumns+` FROM platforms WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return collectPlatforms(rows)
}

// Upsert inserts a platform or refreshes name and limit of the one with the same type.
func (r *platformRepository) Upsert(ctx context.Context, p *models.Platform) (int64, error) {
	query := `
		INSERT INTO platforms (name, type, character_limit)
		VALUES ($1, $2, $3)
		ON CONFLICT (type) DO UPDATE
		   SET name = EXCLUDED.name,
		       character_limit = EXCLUDED.character_limit,
		       updated_at = NOW()
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, p.Name, p.Type, p.CharacterLimit).Scan(&id); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func collectPlatforms(rows *sql.Rows) ([]*models.Platform, error) {
	defer rows.Close()

	var platforms []*models.Platform
	for rows.Next() {
		var p models.Platform
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.CharacterLimit, &p.CreatedAt, &p.UpdatedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		platforms = append(platforms, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return platforms, nil
}
