package gorm

import (
	"github.com/leandro-lugaresi/hub"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/traPtitech/calQ/model"
	"github.com/traPtitech/calQ/repository"
)

// Repository リポジトリ実装
type Repository struct {
	db     *gorm.DB
	hub    *hub.Hub
	logger *zap.Logger
}

// NewGormRepository リポジトリ実装を初期化して生成します
func NewGormRepository(db *gorm.DB, hub *hub.Hub, logger *zap.Logger, doMigration bool) (repository.Repository, error) {
	repo := &Repository{
		db:     db,
		hub:    hub,
		logger: logger.Named("repository"),
	}
	if doMigration {
		if err := db.AutoMigrate(&model.Call{}); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func convertError(err error) error {
	switch err {
	case gorm.ErrRecordNotFound:
		return repository.ErrNotFound
	default:
		return err
	}
}
