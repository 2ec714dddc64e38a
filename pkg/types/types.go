package types

import (
	"time"
)

// RegisterType identifies one of the tracked registers.
// The wire name doubles as the "type" field of a change event.
type RegisterType string

const (
	RegisterSupply             RegisterType = "supply"
	RegisterDemand             RegisterType = "demand"
	RegisterBill               RegisterType = "bill"
	RegisterSanctionGenProject RegisterType = "sanction-gen-project"
	RegisterSanctionMisc       RegisterType = "sanction-misc"
	RegisterSanctionTraining   RegisterType = "sanction-training"
)

// AllRegisters lists every register in display order.
var AllRegisters = []RegisterType{
	RegisterSupply,
	RegisterDemand,
	RegisterBill,
	RegisterSanctionGenProject,
	RegisterSanctionMisc,
	RegisterSanctionTraining,
}

// Role is the closed set of account roles.
// FUNCTIONAL DISCOVERY: role is copied into the session at login and never
// mutated afterwards; a role change only takes effect on the next login
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
	RoleGamer  Role = "gamer"
)

// Change actions carried by a ChangeEvent.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// User is a stored account. Hashes never leave the server.
type User struct {
	ID                 int64     `json:"id"`
	Username           string    `json:"username"`
	PasswordHash       string    `json:"-"`
	SecurityAnswerHash string    `json:"-"`
	Role               Role      `json:"role"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Session is one authenticated browser session.
type Session struct {
	Token        string    `json:"-"`
	UserID       int64     `json:"id"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Room is the broadcast scope for one register in one financial year.
type Room struct {
	Type          RegisterType `json:"type"`
	FinancialYear string       `json:"financial_year"`
}

// ID renders the room in its wire form, e.g. "supply-2024-2025".
func (r Room) ID() string {
	return string(r.Type) + "-" + r.FinancialYear
}

func (r Room) String() string {
	return r.ID()
}

// Record is one row of a register. Register specific columns live in Fields;
// the synchronization layer only cares about type, year and identity.
type Record struct {
	ID            int64                  `json:"id"`
	Type          RegisterType           `json:"-"`
	FinancialYear string                 `json:"financial_year"`
	SerialNo      int64                  `json:"serial_no"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// ChangeEvent describes one committed mutation. It is built only after the
// store has confirmed the write and is never persisted.
type ChangeEvent struct {
	Type          RegisterType `json:"type"`
	Action        string       `json:"action"`
	Data          interface{}  `json:"data"`
	Timestamp     time.Time    `json:"timestamp"`
	FinancialYear string       `json:"-"`
}

// Room resolves the broadcast target for the event.
func (e *ChangeEvent) Room() Room {
	return Room{Type: e.Type, FinancialYear: e.FinancialYear}
}

// DeletedRecord is the minimal payload sent for a delete.
type DeletedRecord struct {
	ID int64 `json:"id"`
}
