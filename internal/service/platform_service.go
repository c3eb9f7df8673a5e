package service

import (
	"context"
	"fmt"
	"log/slog"

	config "github.com/maheshrc27/postpublisher/configs"
	"github.com/maheshrc27/postpublisher/internal/models"
	"github.com/maheshrc27/postpublisher/internal/repository"
)

type PlatformService interface {
	List(ctx context.Context) ([]*models.Platform, error)
	Seed(ctx context.Context, catalog *config.PlatformCatalog) error
}

type platformService struct {
	plr repository.PlatformRepository
}

func NewPlatformService(plr repository.PlatformRepository) PlatformService {
	return &platformService{plr: plr}
}

func (s *platformService) List(ctx context.Context) ([]*models.Platform, error) {
	platforms, err := s.plr.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing platforms: %w", err)
	}
	if platforms == nil {
		platforms = []*models.Platform{}
	}
	return platforms, nil
}

// Seed upserts every catalog entry by type.
func (s *platformService) Seed(ctx context.Context, catalog *config.PlatformCatalog) error {
	for _, seed := range catalog.Platforms {
		id, err := s.plr.Upsert(ctx, &models.Platform{
			Name:           seed.Name,
			Type:           seed.Type,
			CharacterLimit: seed.CharacterLimit,
		})
		if err != nil {
			return fmt.Errorf("seed platform %s: %w", seed.Type, err)
		}
		slog.Debug("platform seeded", slog.String("type", seed.Type), slog.Int64("id", id))
	}
	slog.Info("platforms seeded", slog.Int("count", len(catalog.Platforms)))
	return nil
}
