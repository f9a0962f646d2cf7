package equipment

import (
	"fmt"
	"time"

	"github.com/hospital-it/helpdesk/internal/listing"
	"github.com/hospital-it/helpdesk/internal/shared"
)

// Status is the operational state of an asset.
type Status string

const (
	StatusInService    Status = "in_service"
	StatusUnderRepair  Status = "under_repair"
	StatusOutOfService Status = "out_of_service"
	StatusRetired      Status = "retired"
)

// Statuses lists every status; Retired is only reachable through Retire.
func Statuses() []Status {
	return []Status{StatusInService, StatusUnderRepair, StatusOutOfService, StatusRetired}
}

// EditableStatuses lists the statuses offered on the edit form.
func EditableStatuses() []Status {
	return []Status{StatusInService, StatusUnderRepair, StatusOutOfService}
}

// Label returns the status for display.
func (s Status) Label() string {
	switch s {
	case StatusInService:
		return "In service"
	case StatusUnderRepair:
		return "Under repair"
	case StatusOutOfService:
		return "Out of service"
	case StatusRetired:
		return "Retired"
	default:
		return string(s)
	}
}

// Categories lists asset categories.
func Categories() []string {
	return []string{"workstation", "printer", "network_device", "medical_device", "mobile", "phone", "server", "other"}
}

// Item is an inventoried asset.
type Item struct {
	ID           int64      `json:"id"`
	AssetTag     string     `json:"asset_tag"`
	Name         string     `json:"name"`
	Category     string     `json:"category"`
	Department   string     `json:"department"`
	Location     string     `json:"location"`
	Status       Status     `json:"status"`
	SerialNumber string     `json:"serial_number"`
	PurchasedAt  *time.Time `json:"purchased_at,omitempty"`
	Notes        string     `json:"notes"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Input carries the editable fields of an asset.
type Input struct {
	AssetTag     string `validate:"required,max=40"`
	Name         string `validate:"required,max=160"`
	Category     string `validate:"required,oneof=workstation printer network_device medical_device mobile phone server other"`
	Department   string `validate:"max=120"`
	Location     string `validate:"max=120"`
	Status       string `validate:"omitempty,oneof=in_service under_repair out_of_service"`
	SerialNumber string `validate:"max=80"`
	PurchasedAt  string `validate:"omitempty,datetime=2006-01-02"`
	Notes        string `validate:"max=2000"`
}

// InputFrom prefills the edit form from an item.
func InputFrom(it Item) Input {
	in := Input{
		AssetTag:     it.AssetTag,
		Name:         it.Name,
		Category:     it.Category,
		Department:   it.Department,
		Location:     it.Location,
		Status:       string(it.Status),
		SerialNumber: it.SerialNumber,
		Notes:        it.Notes,
	}
	if it.PurchasedAt != nil {
		in.PurchasedAt = it.PurchasedAt.Format("2006-01-02")
	}
	return in
}

// Record is the repository payload for create and update.
type Record struct {
	AssetTag     string
	Name         string
	Category     string
	Department   string
	Location     string
	Status       Status
	SerialNumber string
	PurchasedAt  *time.Time
	Notes        string
}

var (
	// ErrDuplicateTag is returned when the asset tag is already in use.
	ErrDuplicateTag = fmt.Errorf("%w: asset tag already registered", shared.ErrDuplicate)
	// ErrRetired blocks changes to retired assets.
	ErrRetired = fmt.Errorf("%w: retired equipment cannot be changed", shared.ErrValidation)
)

// ListSpec is the data table contract of the inventory list.
var ListSpec = listing.Spec{
	SortColumns: map[string]string{
		"tag":        "UPPER(asset_tag)",
		"name":       "LOWER(name)",
		"category":   "category",
		"department": "LOWER(department)",
		"status":     "status",
		"purchased":  "purchased_at",
	},
	DefaultSort:    "tag",
	DefaultDir:     listing.Asc,
	Filters:        []string{"status", "category", "department"},
	DefaultPerPage: 25,
	MaxPerPage:     100,
}
