package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"registersync/pkg/types"
)

// RecordRequest is the body of create and update calls
type RecordRequest struct {
	FinancialYear string                 `json:"financial_year"`
	SerialNo      int64                  `json:"serial_no"`
	Fields        map[string]interface{} `json:"fields"`
}

type MoveRequest struct {
	Direction     string `json:"direction"`
	FinancialYear string `json:"financial_year"`
}

type MoveResponse struct {
	Success bool            `json:"success"`
	Records []*types.Record `json:"records"`
}

type MaxSerialResponse struct {
	MaxSerialNo int64 `json:"maxSerialNo"`
}

type OverviewResponse struct {
	FinancialYear string         `json:"financial_year,omitempty"`
	Counts        map[string]int `json:"counts"`
	Total         int            `json:"total"`
}

func recordID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// GET /api/{register}?year=&sort=
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	records, err := s.deps.Registers.List(r.Context(), sessionFrom(r), registerFrom(r), query.Get("year"), query.Get("sort"))
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GET /api/{register}/max-serial?year=
func (s *Server) maxSerial(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Registers.MaxSerial(r.Context(), sessionFrom(r), registerFrom(r), r.URL.Query().Get("year"))
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MaxSerialResponse{MaxSerialNo: n})
}

// GET /api/{register}/{id}
func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		s.sendError(w, "Invalid record id", http.StatusBadRequest)
		return
	}
	record, err := s.deps.Registers.Get(r.Context(), sessionFrom(r), registerFrom(r), id)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// POST /api/{register}
func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	record := &types.Record{
		Type:          registerFrom(r),
		FinancialYear: req.FinancialYear,
		SerialNo:      req.SerialNo,
		Fields:        req.Fields,
	}
	created, err := s.deps.Registers.Create(r.Context(), sessionFrom(r), record)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// PUT /api/{register}/{id}
func (s *Server) updateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		s.sendError(w, "Invalid record id", http.StatusBadRequest)
		return
	}
	var req RecordRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	record := &types.Record{
		ID:            id,
		Type:          registerFrom(r),
		FinancialYear: req.FinancialYear,
		SerialNo:      req.SerialNo,
		Fields:        req.Fields,
	}
	updated, err := s.deps.Registers.Update(r.Context(), sessionFrom(r), record)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DELETE /api/{register}/{id}
func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		s.sendError(w, "Invalid record id", http.StatusBadRequest)
		return
	}
	if err := s.deps.Registers.Delete(r.Context(), sessionFrom(r), registerFrom(r), id); err != nil {
		s.sendFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

// POST /api/{register}/move/{id}
func (s *Server) moveRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(r)
	if !ok {
		s.sendError(w, "Invalid record id", http.StatusBadRequest)
		return
	}
	var req MoveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	swapped, err := s.deps.Registers.Move(r.Context(), sessionFrom(r), registerFrom(r), req.FinancialYear, id, req.Direction)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MoveResponse{Success: true, Records: swapped})
}

// GET /api/dashboard/overview?year=
func (s *Server) overview(w http.ResponseWriter, r *http.Request) {
	year := r.URL.Query().Get("year")
	counts, err := s.deps.Registers.Overview(r.Context(), sessionFrom(r), year)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}

	response := OverviewResponse{
		FinancialYear: year,
		Counts:        make(map[string]int, len(counts)),
	}
	for register, n := range counts {
		response.Counts[string(register)] = n
		response.Total += n
	}
	writeJSON(w, http.StatusOK, response)
}
