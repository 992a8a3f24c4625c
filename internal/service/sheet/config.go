package sheet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"attendance_bot/internal/config"
	"attendance_bot/internal/domain"
)

// NewFromConfig создает хранилище записей по конфигурации.
// Без SHEET_ID записи живут в памяти процесса.
func NewFromConfig(ctx context.Context, cfg config.GoogleSheetConfig, logger *zap.Logger) (domain.RecordSheet, error) {
	if cfg.SheetID == "" {
		logger.Warn("SHEET_ID is not set, records are kept in memory only")
		return NewMemorySheet(), nil
	}

	colMap := NewDefaultColumnMap()
	if cfg.Columns != "" {
		colMap = CreateColumnMapFromOrder(cfg.Columns)
	}

	srv, err := NewSheetService(ctx, cfg.CredentialsBase64, cfg.SheetID, cfg.TabID, cfg.PauseMs, colMap, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	if err := srv.EnsureHeader(ctx); err != nil {
		return nil, fmt.Errorf("не удается записать заголовок: %w", err)
	}
	logger.Info("sheet connected", zap.String("sheet", srv.SheetName))
	return srv, nil
}
