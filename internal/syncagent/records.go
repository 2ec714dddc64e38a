package syncagent

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"registersync/pkg/types"
)

// StatusError is a non-2xx answer to a register call
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

type recordBody struct {
	FinancialYear string                 `json:"financial_year"`
	SerialNo      int64                  `json:"serial_no"`
	Fields        map[string]interface{} `json:"fields"`
}

// Create adds a record. The view refreshes when the change event arrives,
// not from the response.
func (a *Agent) Create(ctx context.Context, record *types.Record) (*types.Record, error) {
	path := "/api/" + record.Type.PathName()
	created := &types.Record{}
	if err := a.mutate(ctx, http.MethodPost, path, toBody(record), created, http.StatusCreated); err != nil {
		return nil, err
	}
	created.Type = record.Type
	return created, nil
}

// Update replaces a record
func (a *Agent) Update(ctx context.Context, record *types.Record) (*types.Record, error) {
	path := "/api/" + record.Type.PathName() + "/" + strconv.FormatInt(record.ID, 10)
	updated := &types.Record{}
	if err := a.mutate(ctx, http.MethodPut, path, toBody(record), updated, http.StatusOK); err != nil {
		return nil, err
	}
	updated.Type = record.Type
	return updated, nil
}

// Delete removes a record
func (a *Agent) Delete(ctx context.Context, register types.RegisterType, id int64) error {
	path := "/api/" + register.PathName() + "/" + strconv.FormatInt(id, 10)
	return a.mutate(ctx, http.MethodDelete, path, nil, nil, http.StatusOK)
}

// Move swaps a record with its neighbour in the same financial year
func (a *Agent) Move(ctx context.Context, register types.RegisterType, year string, id int64, direction string) error {
	path := "/api/" + register.PathName() + "/move/" + strconv.FormatInt(id, 10)
	body := map[string]string{"direction": direction, "financial_year": year}
	return a.mutate(ctx, http.MethodPost, path, body, nil, http.StatusOK)
}

func (a *Agent) mutate(ctx context.Context, method, path string, body, out interface{}, want int) error {
	a.Activity()

	code, err := a.call(ctx, method, path, body, out)
	if err != nil {
		return err
	}
	if code == http.StatusUnauthorized {
		a.expire(ReasonExpired)
		return ErrSessionExpired
	}
	if code != want {
		return &StatusError{Method: method, Path: path, Code: code}
	}
	return nil
}

func toBody(record *types.Record) recordBody {
	return recordBody{
		FinancialYear: record.FinancialYear,
		SerialNo:      record.SerialNo,
		Fields:        record.Fields,
	}
}
