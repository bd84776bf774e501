package domain

import "github.com/shopspring/decimal"

// Reservation is the read-only view of a booking owned by the reservation system.
type Reservation struct {
	ID            string          `json:"id"`
	ContractPrice decimal.Decimal `json:"contract_price"`
	Cancelled     bool            `json:"cancelled"`
}
