package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"questline/internal/config"
	"questline/internal/domain"
	"questline/internal/repo"
)

// ResolveUserAndConfig picks the acting user and ensures a profile + config
// exist in the DB, seeding defaults if missing. It prefers the override, then
// the single-profile workspace. A missing profile is created on the fly.
func ResolveUserAndConfig(ctx context.Context, userOverride string, r repo.Repo) (string, *config.Config, error) {
	userID := userOverride
	if userID == "" {
		if p, err := r.SingleProfile(ctx); err == nil {
			userID = p.UserID
		} else {
			return "", nil, fmt.Errorf("user not specified; use --user")
		}
	}
	seedCfg := config.Default(userID)

	if _, err := r.GetProfile(ctx, userID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProfile(ctx, r, userID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetUserConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertUserConfig(ctx, userID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed user config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.User.ID = userID
	return userID, cfg, nil
}

func createProfile(ctx context.Context, r repo.Repo, userID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(userID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertProfileTx(ctx, tx, domain.Profile{UserID: userID, CreatedAt: now, UpdatedAt: now}); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	if err := r.UpsertUserConfigTx(ctx, tx, userID, seedCfg); err != nil {
		return fmt.Errorf("seed user config: %w", err)
	}
	return tx.Commit()
}
