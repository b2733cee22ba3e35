package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cardreport/internal/calendar"
	"github.com/smallbiznis/cardreport/internal/clock"
	"github.com/smallbiznis/cardreport/internal/report/aggregator"
	reportdomain "github.com/smallbiznis/cardreport/internal/report/domain"
	usagedomain "github.com/smallbiznis/cardreport/internal/usage/domain"
	"github.com/smallbiznis/cardreport/pkg/db"
	"github.com/smallbiznis/cardreport/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxPathAttempts bounds how many creation instants Record tries before
// giving up on a free detail path.
const maxPathAttempts = 5

const actor = "usage"

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Aggregators *aggregator.Set
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	aggregators *aggregator.Set
}

func NewService(p ServiceParam) usagedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:       p.GenID,
		clock:       clk,
		aggregators: p.Aggregators,
	}
}

// Record stores a new usage and feeds it to the daily, weekly and monthly
// aggregates. When aggregation fails the stored record is still returned
// together with the error.
func (s *Service) Record(ctx context.Context, req usagedomain.CreateRecordRequest) (*usagedomain.UsageRecord, error) {
	if req.Amount <= 0 {
		return nil, usagedomain.ErrInvalidAmount
	}
	if req.OccurredAt.IsZero() {
		return nil, usagedomain.ErrInvalidOccurredAt
	}

	now := s.clock.Now().UTC()
	record := &usagedomain.UsageRecord{
		ID:         s.genID.Generate(),
		Amount:     req.Amount,
		OccurredAt: req.OccurredAt.UTC(),
		Merchant:   strings.TrimSpace(req.Merchant),
		Note:       strings.TrimSpace(req.Note),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.insert(ctx, record); err != nil {
		return nil, err
	}

	s.log.Info("usage recorded",
		zap.String("path", record.Path),
		zap.Int64("amount", record.Amount),
		zap.Time("occurred_at", record.OccurredAt),
	)

	return record, s.apply(ctx, record, func(ctx context.Context, agg *aggregator.Aggregator, ref reportdomain.DocumentRef, period aggregator.Period) error {
		_, err := agg.ProcessReport(ctx, ref, record.Amount, period)
		return err
	})
}

// insert picks the first free detail path, moving the creation instant
// forward one millisecond per collision.
func (s *Service) insert(ctx context.Context, record *usagedomain.UsageRecord) error {
	createdAt := record.CreatedAt
	for attempt := 0; attempt < maxPathAttempts; attempt++ {
		record.Path = s.aggregators.Calendar().DetailPath(record.OccurredAt, createdAt)
		record.CreatedAt = createdAt
		record.UpdatedAt = createdAt

		err := s.db.WithContext(ctx).Create(record).Error
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return err
		}
		s.log.Debug("detail path taken, retrying",
			zap.String("path", record.Path),
			zap.Int("attempt", attempt+1),
		)
		createdAt = createdAt.Add(time.Millisecond)
	}
	return usagedomain.ErrPathExhausted
}

func (s *Service) Get(ctx context.Context, path string) (*usagedomain.UsageRecord, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if _, err := calendar.ParseDetailPath(path); err != nil {
		return nil, usagedomain.ErrInvalidPath
	}
	return s.find(ctx, path)
}

// Edit replaces the amount of an active record and shifts every aggregate of
// its day by the difference.
func (s *Service) Edit(ctx context.Context, path string, amount int64) (*usagedomain.UsageRecord, error) {
	if amount <= 0 {
		return nil, usagedomain.ErrInvalidAmount
	}
	record, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !record.Active {
		return nil, usagedomain.ErrRecordInactive
	}

	delta := amount - record.Amount
	if delta == 0 {
		return record, nil
	}

	now := s.clock.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("id = ? AND amount = ? AND active = ?", record.ID, record.Amount, true).
		Updates(map[string]any{"amount": amount, "updated_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.lostRace(ctx, record.Path)
	}
	record.Amount = amount
	record.UpdatedAt = now

	s.log.Info("usage amount changed",
		zap.String("path", record.Path),
		zap.Int64("delta", delta),
	)

	return record, s.apply(ctx, record, func(ctx context.Context, agg *aggregator.Aggregator, ref reportdomain.DocumentRef, period aggregator.Period) error {
		return agg.UpdateForAmountChange(ctx, ref, period, delta)
	})
}

// Delete deactivates a record and takes its amount and count out of the
// aggregates. The reference list is left untouched.
func (s *Service) Delete(ctx context.Context, path string) (*usagedomain.UsageRecord, error) {
	record, err := s.toggle(ctx, path, false)
	if err != nil {
		return nil, err
	}

	return record, s.apply(ctx, record, func(ctx context.Context, agg *aggregator.Aggregator, ref reportdomain.DocumentRef, period aggregator.Period) error {
		return agg.UpdateForDeletion(ctx, ref, period, -record.Amount, -1)
	})
}

// Reactivate restores a deleted record and adds it back to the aggregates.
func (s *Service) Reactivate(ctx context.Context, path string) (*usagedomain.UsageRecord, error) {
	record, err := s.toggle(ctx, path, true)
	if err != nil {
		return nil, err
	}

	return record, s.apply(ctx, record, func(ctx context.Context, agg *aggregator.Aggregator, ref reportdomain.DocumentRef, period aggregator.Period) error {
		return agg.UpdateForReactivation(ctx, ref, period, record.Amount, 1)
	})
}

func (s *Service) toggle(ctx context.Context, path string, active bool) (*usagedomain.UsageRecord, error) {
	record, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if record.Active == active {
		if active {
			return nil, usagedomain.ErrRecordActive
		}
		return nil, usagedomain.ErrRecordInactive
	}

	now := s.clock.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("id = ? AND active = ?", record.ID, !active).
		Updates(map[string]any{"active": active, "updated_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, usagedomain.ErrConcurrentChange
	}
	record.Active = active
	record.UpdatedAt = now

	s.log.Info("usage active state changed",
		zap.String("path", record.Path),
		zap.Bool("active", active),
	)
	return record, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRecordsRequest) (usagedomain.ListRecordsResponse, error) {
	if !req.From.IsZero() && !req.To.IsZero() && req.To.Before(req.From) {
		return usagedomain.ListRecordsResponse{}, usagedomain.ErrInvalidRange
	}

	limit := pagination.Limit(req.PageSize)
	query := s.db.WithContext(ctx).Model(&usagedomain.UsageRecord{})
	if !req.IncludeInactive {
		query = query.Where("active = ?", true)
	}
	if !req.From.IsZero() {
		query = query.Where("occurred_at >= ?", req.From.UTC())
	}
	if !req.To.IsZero() {
		query = query.Where("occurred_at <= ?", req.To.UTC())
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return usagedomain.ListRecordsResponse{}, err
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return usagedomain.ListRecordsResponse{}, pagination.ErrInvalidPageToken
		}
		query = query.Where("id < ?", id)
	}

	var items []*usagedomain.UsageRecord
	if err := query.Order("id DESC").Limit(int(limit) + 1).Find(&items).Error; err != nil {
		return usagedomain.ListRecordsResponse{}, err
	}

	pageInfo, items, err := pagination.BuildCursorPageInfo(items, limit, func(r *usagedomain.UsageRecord) pagination.Cursor {
		return pagination.Cursor{
			ID:        r.ID.String(),
			CreatedAt: r.CreatedAt.Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return usagedomain.ListRecordsResponse{}, err
	}

	records := make([]usagedomain.UsageRecord, 0, len(items))
	for _, item := range items {
		records = append(records, *item)
	}
	return usagedomain.ListRecordsResponse{PageInfo: pageInfo, Records: records}, nil
}

func (s *Service) find(ctx context.Context, path string) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, usagedomain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// lostRace reports why a conditional update matched no row.
func (s *Service) lostRace(ctx context.Context, path string) error {
	current, err := s.find(ctx, path)
	if err != nil {
		return err
	}
	if !current.Active {
		return usagedomain.ErrRecordInactive
	}
	return usagedomain.ErrConcurrentChange
}

type aggregateFunc func(ctx context.Context, agg *aggregator.Aggregator, ref reportdomain.DocumentRef, period aggregator.Period) error

// apply runs fn against the daily, weekly and monthly aggregates of the
// record's day. Every granularity is attempted even when one fails.
func (s *Service) apply(ctx context.Context, record *usagedomain.UsageRecord, fn aggregateFunc) error {
	ctx = aggregator.WithActor(ctx, actor)

	var errs []error
	for _, agg := range s.aggregators.All() {
		period, err := agg.PeriodOf(record.OccurredAt)
		if err == nil {
			err = fn(ctx, agg, agg.Ref(record.Path), period)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	err := errors.Join(errs...)
	s.log.Error("aggregate update failed", zap.String("path", record.Path), zap.Error(err))
	return fmt.Errorf("aggregate %s: %w", record.Path, err)
}
