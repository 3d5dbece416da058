package model

import "github.com/shopspring/decimal"

// Course is the purchasable product. It is owned by the catalog; payments only
// read its price and mutate its enrollment set.
type Course struct {
	ID        string
	Title     string
	Subtitle  string
	Thumbnail string
	Price     decimal.Decimal // major units
	Published bool
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	ID    string
	Email string
	Role  string
}

func (i Identity) IsAdmin() bool { return i.Role == "admin" }
