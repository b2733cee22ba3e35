package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/cardreport/pkg/db/pagination"
)

type CreateRecordRequest struct {
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
	Merchant   string    `json:"merchant"`
	Note       string    `json:"note"`
}

type ListRecordsRequest struct {
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	IncludeInactive bool      `json:"include_inactive"`
	PageToken       string    `json:"page_token"`
	PageSize        int32     `json:"page_size"`
}

type ListRecordsResponse struct {
	pagination.PageInfo
	Records []UsageRecord `json:"records"`
}

type Service interface {
	Record(context.Context, CreateRecordRequest) (*UsageRecord, error)
	Get(ctx context.Context, path string) (*UsageRecord, error)
	Edit(ctx context.Context, path string, amount int64) (*UsageRecord, error)
	Delete(ctx context.Context, path string) (*UsageRecord, error)
	Reactivate(ctx context.Context, path string) (*UsageRecord, error)
	List(context.Context, ListRecordsRequest) (ListRecordsResponse, error)
}

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
	ErrInvalidPath       = errors.New("invalid_record_path")
	ErrInvalidRange      = errors.New("invalid_range")
	ErrRecordNotFound    = errors.New("record_not_found")
	ErrRecordInactive    = errors.New("record_inactive")
	ErrRecordActive      = errors.New("record_already_active")
	ErrConcurrentChange  = errors.New("record_changed_concurrently")
	ErrPathExhausted     = errors.New("record_path_exhausted")
)
