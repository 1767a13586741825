package gorm

import (
	"errors"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"

	"github.com/traPtitech/calQ/model"
	"github.com/traPtitech/calQ/repository"
)

// CreateCall implements CallRepository interface.
func (repo *Repository) CreateCall(call *model.Call) error {
	if call == nil || call.ID == uuid.Nil {
		return repository.ErrNilID
	}
	if err := repo.db.Create(call).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repository.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateCall implements CallRepository interface.
func (repo *Repository) UpdateCall(callID uuid.UUID, changes map[string]interface{}) error {
	if callID == uuid.Nil {
		return repository.ErrNilID
	}
	if len(changes) == 0 {
		return nil
	}
	result := repo.db.Model(&model.Call{}).Where(&model.Call{ID: callID}).Updates(changes)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetCall implements CallRepository interface.
func (repo *Repository) GetCall(callID uuid.UUID) (*model.Call, error) {
	if callID == uuid.Nil {
		return nil, repository.ErrNilID
	}
	var call model.Call
	if err := repo.db.First(&call, &model.Call{ID: callID}).Error; err != nil {
		return nil, convertError(err)
	}
	return &call, nil
}

// GetCalls implements CallRepository interface.
func (repo *Repository) GetCalls(query repository.CallsQuery) ([]*model.Call, error) {
	calls := make([]*model.Call, 0)

	tx := repo.db.Order("start_time DESC")
	if query.UserID.Valid {
		tx = tx.Where("caller_id = ? OR receiver_id = ?", query.UserID.UUID, query.UserID.UUID)
	}
	if query.Since != nil {
		tx = tx.Where("start_time >= ?", *query.Since)
	}
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}
	if query.Offset > 0 {
		tx = tx.Offset(query.Offset)
	}
	return calls, tx.Find(&calls).Error
}

// GetActiveCalls implements CallRepository interface.
func (repo *Repository) GetActiveCalls() ([]*model.Call, error) {
	calls := make([]*model.Call, 0)
	return calls, repo.db.
		Where("status IN ?", []model.CallStatus{model.CallStatusCalling, model.CallStatusRinging, model.CallStatusAccepted}).
		Order("start_time DESC").
		Find(&calls).Error
}

// GetCallStats implements CallRepository interface.
func (repo *Repository) GetCallStats(userID uuid.NullUUID) (*repository.CallStats, error) {
	stats := &repository.CallStats{
		Counts: map[model.CallStatus]int64{},
	}

	filtered := func() *gorm.DB {
		tx := repo.db.Model(&model.Call{})
		if userID.Valid {
			tx = tx.Where("caller_id = ? OR receiver_id = ?", userID.UUID, userID.UUID)
		}
		return tx
	}

	var rows []struct {
		Status model.CallStatus
		Count  int64
	}
	if err := filtered().
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.Counts[r.Status] = r.Count
	}

	var durations struct {
		Total   int64
		Average float64
	}
	if err := filtered().
		Select("COALESCE(SUM(duration), 0) AS total, COALESCE(AVG(duration), 0) AS average").
		Where("status = ?", model.CallStatusEnded).
		Scan(&durations).Error; err != nil {
		return nil, err
	}
	stats.TotalDuration = durations.Total
	stats.AverageDuration = durations.Average
	return stats, nil
}
