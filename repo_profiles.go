package brix

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TrackSubmissionSQL bumps the reputation counters in one statement so
// concurrent submissions never lose increments.
var TrackSubmissionSQL = `UPDATE "profiles" AS "pro"
SET
	"points" = "points" + ?,
	"submission_count" = "submission_count" + 1,
	"last_submission_at" = ?
WHERE
	"pro"."id" = ?;`

// Profiles is the profile repository. It doubles as the engine's
// ProfileStore: point reads and field writes by user id, no retry logic.
type Profiles interface {
	repository.Repository[*Profile]

	ReadProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
	WriteProfileFields(ctx context.Context, userID uuid.UUID, fields map[string]any) error

	TrackSubmission(ctx context.Context, profileID uuid.UUID, points int, at time.Time) error
	TrackSubmissionTx(ctx context.Context, tx bun.IDB, profileID uuid.UUID, points int, at time.Time) error

	Create(ctx context.Context, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error)
}

type profiles struct {
	repository.Repository[*Profile]
	db *bun.DB
}

var (
	_ Profiles     = (*profiles)(nil)
	_ ProfileStore = (*profiles)(nil)
)

// profileColumns is the write-through whitelist for WriteProfileFields.
var profileColumns = map[string]struct{}{
	"display_name": {},
	"country":      {},
	"state":        {},
	"city":         {},
}

func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})

	return &profiles{
		Repository: repo,
		db:         db,
	}
}

func (a *profiles) ReadProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	record := &Profile{}

	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", userID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if repository.IsRecordNotFound(err) || stderrors.Is(err, sql.ErrNoRows) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id": userID.String(),
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *profiles) WriteProfileFields(ctx context.Context, userID uuid.UUID, fields map[string]any) error {
	q := a.db.NewUpdate().
		Model((*Profile)(nil)).
		Where("?TableAlias.id = ?", userID)

	applied := 0
	for column, value := range fields {
		if _, ok := profileColumns[column]; !ok {
			continue
		}
		q = q.Set("? = ?", bun.Ident(column), value)
		applied++
	}

	if applied == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"reason": "no writable fields",
			})
	}

	q = q.Set("updated_at = ?", time.Now())

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"user_id": userID.String(),
			})
	}

	return nil
}

func (a *profiles) Create(ctx context.Context, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *profiles) CreateTx(ctx context.Context, tx bun.IDB, record *Profile, criteria ...repository.InsertCriteria) (*Profile, error) {
	prepareProfileDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *profiles) TrackSubmission(ctx context.Context, profileID uuid.UUID, points int, at time.Time) error {
	return a.TrackSubmissionTx(ctx, a.db, profileID, points, at)
}

func (a *profiles) TrackSubmissionTx(ctx context.Context, tx bun.IDB, profileID uuid.UUID, points int, at time.Time) error {
	_, err := tx.NewRaw(TrackSubmissionSQL, points, at, profileID).Exec(ctx)
	return err
}

func prepareProfileDefaults(record *Profile) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
