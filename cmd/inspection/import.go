package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// importUserID is recorded as the author of templates loaded from disk.
const importUserID = "system"

func importTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-templates [file...]",
		Short: "Load checklist templates from YAML files",
		Long: `Load checklist templates from YAML files. Without arguments every
*.yaml and *.yml file in checklist.template_import_dir is read. Templates are
matched by name; unchanged templates are left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, zapLogger, err := bootstrap()
			if err != nil {
				return err
			}
			defer zapLogger.Sync()

			files := args
			if len(files) == 0 {
				files, err = templateFiles(cfg.Checklist.TemplateImportDir)
				if err != nil {
					return err
				}
			}
			if len(files) == 0 {
				zapLogger.Warn("No template files found", zap.String("dir", cfg.Checklist.TemplateImportDir))
				return nil
			}

			db, err := initDatabase(cfg.Database, cfg.Server.Mode)
			if err != nil {
				return err
			}
			if err := migrate(db); err != nil {
				return err
			}

			svc := service.NewServices(repository.NewRepositories(db), zapLogger, service.Options{})
			ctx := context.Background()
			for _, file := range files {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				result, err := svc.Template.ImportTemplates(ctx, importUserID, data)
				if err != nil {
					return fmt.Errorf("import %s: %w", file, err)
				}
				for _, t := range result.Templates {
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s (v%d, %s)\n", t.Action, t.Name, t.Version, t.Status)
				}
				zapLogger.Info("Templates imported",
					zap.String("file", file),
					zap.Int("created", result.Created),
					zap.Int("updated", result.Updated),
					zap.Int("unchanged", result.Unchanged),
				)
			}
			return nil
		},
	}
	return cmd
}

func templateFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read template dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
