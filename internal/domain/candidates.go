package domain

import "time"

// Row shapes returned by TenantDataGateway finders. Field names track the
// dealership schema columns they are scanned from.

// CustomerContact resolves routing for notify_customer jobs.
type CustomerContact struct {
	CustomerID        string
	FirstName         string
	LastName          string
	Email             string
	Phone             string
	ContactPreference string
	DoNotContact      bool
}

// PreferredChannel applies the preference, then whichever address exists.
// Empty when the customer is unreachable on both.
func (c CustomerContact) PreferredChannel() Channel {
	switch c.ContactPreference {
	case "sms":
		if c.Phone != "" {
			return ChannelSMS
		}
	case "email":
		if c.Email != "" {
			return ChannelEmail
		}
	}
	if c.Phone != "" {
		return ChannelSMS
	}
	if c.Email != "" {
		return ChannelEmail
	}
	return ""
}

// EquipmentInfo enriches receipt emails with unit details.
type EquipmentInfo struct {
	EquipmentID        string
	Model              string
	SerialNumber       string
	Manufacturer       string
	Year               int
	ServiceDescription string
}

// EquipmentCandidate is the shared row for equipment driven sweeps. Sweeps
// read only the fields their query selects; the rest stay zero.
type EquipmentCandidate struct {
	EquipmentID      string
	CustomerID       string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	EquipmentType    string
	EquipmentMake    string
	Model            string
	SerialNumber     string
	DateSold         time.Time
	MachineHours     float64
	LastServiceHours float64
	WarrantyEnd      *time.Time
	YearsOwned       int
	RepairCount      int
}

type AppointmentCandidate struct {
	AppointmentID  string
	CustomerID     string
	FirstName      string
	Phone          string
	ScheduledStart time.Time
}

type InvoiceCandidate struct {
	InvoiceID  string
	CustomerID string
	FirstName  string
	Email      string
	Balance    float64
	DueDate    time.Time
}

type SeasonalCandidate struct {
	CustomerID    string
	FirstName     string
	LastName      string
	Email         string
	EquipmentType string
	EquipmentMake string
	Model         string
}

// GhostCandidate covers both the lapsed-customer and winback sweeps.
type GhostCandidate struct {
	CustomerID    string
	FirstName     string
	LastName      string
	Email         string
	LastOrderDate time.Time
	TotalOrders   int
	LifetimeValue float64
}

type ServiceRecordCandidate struct {
	ServiceRecordID string
	WorkOrderNumber string
	CustomerID      string
	EquipmentID     string
	FirstName       string
	LastName        string
	Email           string
	EquipmentMake   string
	Model           string
	CompletedAt     time.Time
}
