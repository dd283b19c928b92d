package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"report-ledger/internal/domain"
)

const reportsPath = "/rest/v1/reports"

// reportRow is the wire shape of one row in the reports table. Amount
// is a json.Number because the backend serializes numeric columns as
// either numbers or strings depending on configuration.
type reportRow struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	ReportAt    time.Time   `json:"report_at"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	Owner       *struct {
		Email string `json:"email"`
	} `json:"owner"`
}

func (r reportRow) toDomain() domain.Report {
	amount, _ := r.Amount.Float64()
	rep := domain.Report{
		ID:          r.ID,
		UserID:      r.UserID,
		ReportAt:    r.ReportAt,
		Amount:      amount,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
	if r.Owner != nil {
		rep.OwnerEmail = r.Owner.Email
	}
	return rep
}

type insertReport struct {
	UserID      string    `json:"user_id"`
	ReportAt    time.Time `json:"report_at"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
}

type updateReport struct {
	ReportAt    time.Time `json:"report_at"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
}

// SelectReports returns rows visible to the caller, newest first. When
// ownerID is empty the select is unfiltered (privileged view) and
// embeds the owner's email; otherwise rows are filtered to the owner.
// Row-level rules on the backend bound what actually comes back.
func (c *Client) SelectReports(ctx context.Context, token, ownerID string) ([]domain.Report, error) {
	q := url.Values{}
	if ownerID == "" {
		q.Set("select", "*,owner:user_id(email)")
	} else {
		q.Set("select", "*")
		q.Set("user_id", "eq."+ownerID)
	}
	q.Set("order", "created_at.desc")

	status, raw, err := c.do(ctx, http.MethodGet, reportsPath+"?"+q.Encode(), token, nil)
	if err != nil {
		return nil, wrapBackendErr(err)
	}
	if status >= 400 {
		return nil, backendError(status, raw)
	}

	var rows []reportRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &BackendError{Message: "malformed select response"}
	}
	reports := make([]domain.Report, len(rows))
	for i, row := range rows {
		reports[i] = row.toDomain()
	}
	return reports, nil
}

// InsertReport persists a new row and returns it with the backend
// assigned id and created_at.
func (c *Client) InsertReport(ctx context.Context, token string, ownerID string, patch domain.ReportPatch) (domain.Report, error) {
	body := insertReport{
		UserID:      ownerID,
		ReportAt:    patch.ReportAt,
		Amount:      patch.Amount,
		Description: patch.Description,
	}
	status, raw, err := c.do(ctx, http.MethodPost, reportsPath, token, body)
	if err != nil {
		return domain.Report{}, wrapBackendErr(err)
	}
	if status >= 400 {
		return domain.Report{}, backendError(status, raw)
	}

	row, err := decodeSingleRow(raw)
	if err != nil {
		return domain.Report{}, err
	}
	return row.toDomain(), nil
}

// UpdateReport patches the mutable fields of an existing row. The owner
// column is never part of the patch.
func (c *Client) UpdateReport(ctx context.Context, token, id string, patch domain.ReportPatch) error {
	body := updateReport{
		ReportAt:    patch.ReportAt,
		Amount:      patch.Amount,
		Description: patch.Description,
	}
	status, raw, err := c.do(ctx, http.MethodPatch, reportsPath+"?id=eq."+url.QueryEscape(id), token, body)
	if err != nil {
		return wrapBackendErr(err)
	}
	if status >= 400 {
		return backendError(status, raw)
	}
	return nil
}

// DeleteReport removes a row by id.
func (c *Client) DeleteReport(ctx context.Context, token, id string) error {
	status, raw, err := c.do(ctx, http.MethodDelete, reportsPath+"?id=eq."+url.QueryEscape(id), token, nil)
	if err != nil {
		return wrapBackendErr(err)
	}
	if status >= 400 {
		return backendError(status, raw)
	}
	return nil
}

// decodeSingleRow accepts both the array and single-object
// representation shapes the record API can return on insert.
func decodeSingleRow(raw []byte) (reportRow, error) {
	var rows []reportRow
	if err := json.Unmarshal(raw, &rows); err == nil {
		if len(rows) == 0 {
			return reportRow{}, &BackendError{Message: "insert returned no row"}
		}
		return rows[0], nil
	}
	var row reportRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return reportRow{}, &BackendError{Message: "malformed insert response"}
	}
	return row, nil
}

type backendErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func backendError(status int, raw []byte) error {
	var body backendErrorBody
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &BackendError{Status: status, Code: body.Code, Message: msg}
}

func wrapBackendErr(err error) error {
	if err == ErrUnconfigured {
		return err
	}
	if _, ok := err.(*BackendError); ok {
		return err
	}
	return &BackendError{Message: err.Error()}
}
