package domain

import "time"

// Warehouse is the slice of warehouse master data the ledger consumes.
type Warehouse struct {
	ID                         string
	Code                       string
	Name                       string
	RegistrationExpirationDate time.Time
}

type Variant struct {
	ID  string
	SKU string
}

type Unit struct {
	ID   string
	Name string
}
