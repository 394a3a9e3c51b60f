package brix

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SubmissionPoints is what one accepted measurement is worth.
var SubmissionPoints = 10

type SubmitMeasurementMessage struct {
	ProfileID uuid.UUID `json:"profile_id"`
	Crop      string    `json:"crop"`
	Variety   string    `json:"variety"`
	Brand     string    `json:"brand"`
	Store     string    `json:"store"`
	Brix      float64   `json:"brix"`
	Country   *string   `json:"country"`
	State     *string   `json:"state"`
	City      *string   `json:"city"`
	PhotoURL  string    `json:"photo_url"`
}

func (e SubmitMeasurementMessage) Type() string { return "measurement.submit" }

func (e SubmitMeasurementMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Crop, validation.Required, validation.Length(2, 100)),
		validation.Field(&e.Brix, validation.Min(0.0), validation.Max(45.0)),
	)
}

// SubmitMeasurementHandler inserts a measurement and bumps the submitter's
// reputation counters in the same transaction, keeping the profile the engine
// re-reads consistent with the rows the leaderboard aggregates.
type SubmitMeasurementHandler struct {
	repo RepositoryManager
	now  func() time.Time
}

func NewSubmitMeasurementHandler(repo RepositoryManager) *SubmitMeasurementHandler {
	return &SubmitMeasurementHandler{
		repo: repo,
		now:  time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (h *SubmitMeasurementHandler) WithClock(clock func() time.Time) *SubmitMeasurementHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *SubmitMeasurementHandler) Execute(ctx context.Context, event SubmitMeasurementMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during measurement submission",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SubmitMeasurementHandler) execute(ctx context.Context, event SubmitMeasurementMessage) error {
	if event.ProfileID == uuid.Nil {
		return goerrors.New("measurement requires a profile id", goerrors.CategoryValidation)
	}

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid measurement")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	now := h.now()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &Measurement{
			ProfileID:  event.ProfileID,
			Crop:       event.Crop,
			Variety:    event.Variety,
			Brand:      event.Brand,
			Store:      event.Store,
			Brix:       event.Brix,
			Country:    event.Country,
			State:      event.State,
			City:       event.City,
			PhotoURL:   event.PhotoURL,
			MeasuredAt: &now,
		}

		if _, err := h.repo.Measurements().CreateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create measurement")
		}

		if err := h.repo.Profiles().TrackSubmissionTx(ctx, tx, event.ProfileID, SubmissionPoints, now); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not update reputation counters")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "measurement submission transaction failed")
	}

	return nil
}
