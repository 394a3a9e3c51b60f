package brix

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Measurements is the BRIX measurement repository.
type Measurements interface {
	repository.Repository[*Measurement]

	Create(ctx context.Context, record *Measurement, criteria ...repository.InsertCriteria) (*Measurement, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Measurement, criteria ...repository.InsertCriteria) (*Measurement, error)

	ListByProfile(ctx context.Context, profileID uuid.UUID, limit int) ([]*Measurement, error)
	ListByCrop(ctx context.Context, crop string, limit int) ([]*Measurement, error)
}

type measurements struct {
	repository.Repository[*Measurement]
	db *bun.DB
}

var _ Measurements = (*measurements)(nil)

func NewMeasurementsRepository(db *bun.DB) Measurements {
	repo := repository.NewRepository[*Measurement](db, repository.ModelHandlers[*Measurement]{
		NewRecord: func() *Measurement { return &Measurement{} },
		GetID: func(m *Measurement) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *Measurement, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
	})

	return &measurements{
		Repository: repo,
		db:         db,
	}
}

func (a *measurements) Create(ctx context.Context, record *Measurement, criteria ...repository.InsertCriteria) (*Measurement, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *measurements) CreateTx(ctx context.Context, tx bun.IDB, record *Measurement, criteria ...repository.InsertCriteria) (*Measurement, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *measurements) ListByProfile(ctx context.Context, profileID uuid.UUID, limit int) ([]*Measurement, error) {
	var records []*Measurement

	q := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.profile_id = ?", profileID).
		OrderExpr("?TableAlias.created_at DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	return records, nil
}

func (a *measurements) ListByCrop(ctx context.Context, crop string, limit int) ([]*Measurement, error) {
	var records []*Measurement

	q := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.crop = ?", crop).
		OrderExpr("?TableAlias.brix DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	return records, nil
}
