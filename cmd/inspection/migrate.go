package main

import (
	"fmt"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the inspection tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, zapLogger, err := bootstrap()
			if err != nil {
				return err
			}
			defer zapLogger.Sync()

			db, err := initDatabase(cfg.Database, cfg.Server.Mode)
			if err != nil {
				return err
			}
			if err := migrate(db); err != nil {
				return err
			}
			zapLogger.Info("Migration finished", zap.Int("tables", len(entity.Models())))
			return nil
		},
	}
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(entity.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
