package job

import "github.com/ahmethakanbesel/quotekeeper/internal/apperror"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type ListRunsRequest struct {
	Job   string
	Limit int
}

func (r ListRunsRequest) Validate() *apperror.AppError {
	if r.Limit < 0 || r.Limit > maxListLimit {
		return apperror.New(apperror.BadRequest, "limit must be between 0 and 500")
	}
	return nil
}
