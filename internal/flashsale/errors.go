package flashsale

import "errors"

var (
	ErrValidation       = errors.New("invalid flash sale request")
	ErrNotFound         = errors.New("flash sale item not found")
	ErrNotStarted       = errors.New("flash sale not started")
	ErrEnded            = errors.New("flash sale ended")
	ErrDuplicateRequest = errors.New("already requested this item")
	ErrSoldOut          = errors.New("flash sale sold out")
	ErrInfrastructure   = errors.New("service busy, please retry")
)

// Reason 是返回给客户端的稳定错误码，客户端据此判断能否重试。
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonValidation     Reason = "validation_error"
	ReasonNotFound       Reason = "not_found"
	ReasonNotStarted     Reason = "not_started"
	ReasonEnded          Reason = "ended"
	ReasonDuplicate      Reason = "duplicate_request"
	ReasonSoldOut        Reason = "sold_out"
	ReasonInfrastructure Reason = "infrastructure_error"
)

// ReasonOf 把错误映射为 Reason；未知错误一律按基础设施错误处理。
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonOK
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrNotStarted):
		return ReasonNotStarted
	case errors.Is(err, ErrEnded):
		return ReasonEnded
	case errors.Is(err, ErrDuplicateRequest):
		return ReasonDuplicate
	case errors.Is(err, ErrSoldOut):
		return ReasonSoldOut
	default:
		return ReasonInfrastructure
	}
}

// Retryable 仅基础设施错误值得客户端重试。
func (r Reason) Retryable() bool { return r == ReasonInfrastructure }
