package job

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/tradedesk/internal/apperror"
	"github.com/ahmethakanbesel/tradedesk/internal/candle"
)

const (
	DefaultExchange  = "NSE"
	DefaultLookback  = 30 * 24 * time.Hour
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// CreateJobRequest is the decoded body of a job creation call. Zero fields
// take their defaults in Params.
type CreateJobRequest struct {
	Source      string    `json:"source"`
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	Interval    string    `json:"interval"`
	FromDate    time.Time `json:"fromDate"`
	ToDate      time.Time `json:"toDate"`
	ProductType string    `json:"productType"`
	ExpiryDate  string    `json:"expiryDate"`
	StrikePrice string    `json:"strikePrice"`
	Right       string    `json:"right"`
}

func (r CreateJobRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.Symbol) == "" {
		return apperror.New(apperror.BadRequest, "symbol is required")
	}
	if r.Interval != "" {
		if _, err := candle.ParseInterval(r.Interval); err != nil {
			return apperror.New(apperror.BadRequest, err.Error())
		}
	}
	if !r.FromDate.IsZero() && !r.ToDate.IsZero() && !r.FromDate.Before(r.ToDate) {
		return apperror.New(apperror.BadRequest, "fromDate must be before toDate")
	}
	return nil
}

// Params applies defaults: exchange NSE, interval 1day, the last 30 days.
func (r CreateJobRequest) Params(now time.Time) CreateParams {
	p := CreateParams{
		Source:   r.Source,
		Symbol:   strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Exchange: strings.ToUpper(r.Exchange),
		Interval: candle.Interval(r.Interval),
		From:     r.FromDate,
		To:       r.ToDate,
	}
	if p.Exchange == "" {
		p.Exchange = DefaultExchange
	}
	if p.Interval == "" {
		p.Interval = candle.OneDay
	}
	if p.To.IsZero() {
		p.To = now
	}
	if p.From.IsZero() {
		p.From = p.To.Add(-DefaultLookback)
	}

	extra := map[string]string{}
	for k, v := range map[string]string{
		"product_type": r.ProductType,
		"expiry_date":  r.ExpiryDate,
		"strike_price": r.StrikePrice,
		"right":        r.Right,
	} {
		if v != "" {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		p.Extra = extra
	}
	return p
}

type GetJobRequest struct {
	ID string
}

func (r GetJobRequest) Validate() *apperror.AppError {
	if _, err := uuid.Parse(r.ID); err != nil {
		return apperror.New(apperror.BadRequest, "invalid job id")
	}
	return nil
}

type ListJobsRequest struct {
	Limit int
}

func (r ListJobsRequest) Validate() *apperror.AppError {
	if r.Limit < 0 || r.Limit > MaxListLimit {
		return apperror.New(apperror.BadRequest, "limit must be between 0 and 1000")
	}
	return nil
}

func (r ListJobsRequest) limit() int {
	if r.Limit == 0 {
		return DefaultListLimit
	}
	return r.Limit
}

type SearchRequest struct {
	Symbol   string
	Exchange string
	Interval string
	From     time.Time
	To       time.Time
	Limit    int
}

func (r SearchRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.Symbol) == "" {
		return apperror.New(apperror.BadRequest, "symbol is required")
	}
	if r.Interval != "" {
		if _, err := candle.ParseInterval(r.Interval); err != nil {
			return apperror.New(apperror.BadRequest, err.Error())
		}
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return apperror.New(apperror.BadRequest, "from must not be after to")
	}
	if r.Limit < 0 {
		return apperror.New(apperror.BadRequest, "limit must not be negative")
	}
	return nil
}

func (r SearchRequest) query() CandleQuery {
	return CandleQuery{
		Symbol:   strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Exchange: strings.ToUpper(r.Exchange),
		Interval: candle.Interval(r.Interval),
		From:     r.From,
		To:       r.To,
		Limit:    r.Limit,
	}
}

type DeleteSymbolRequest struct {
	Symbol   string
	Exchange string
	Interval string
}

func (r DeleteSymbolRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.Symbol) == "" {
		return apperror.New(apperror.BadRequest, "symbol is required")
	}
	if r.Interval != "" {
		if _, err := candle.ParseInterval(r.Interval); err != nil {
			return apperror.New(apperror.BadRequest, err.Error())
		}
	}
	return nil
}
