package quote

import (
	"time"

	"github.com/ahmethakanbesel/quotekeeper/internal/apperror"
)

type GetHistoryRequest struct {
	EntityKey string
	From      string
	To        string
	Format    string // "json" or "csv"
}

func (r GetHistoryRequest) Validate() *apperror.AppError {
	if r.EntityKey == "" {
		return apperror.New(apperror.BadRequest, "entity is required")
	}
	if _, err := time.Parse(DayFormat, r.From); err != nil {
		return apperror.New(apperror.BadRequest, "from must be a date (YYYY-MM-DD)")
	}
	if r.To != "" {
		if _, err := time.Parse(DayFormat, r.To); err != nil {
			return apperror.New(apperror.BadRequest, "to must be a date (YYYY-MM-DD)")
		}
		if r.To < r.From {
			return apperror.New(apperror.BadRequest, "to must not be before from")
		}
	}
	if r.Format != "" && r.Format != "json" && r.Format != "csv" {
		return apperror.New(apperror.BadRequest, "format must be json or csv")
	}
	return nil
}

type GetHistoryResponse struct {
	EntityKey string  `json:"entityKey"`
	Quotes    []Quote `json:"quotes"`
}
