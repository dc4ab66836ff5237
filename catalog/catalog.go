// Package catalog serves the restaurant data the bot presents: menu
// categories and items, branches, and the CRM customer directory used to
// link a WhatsApp number to an existing guest record.
//
// The bot only reads through the Catalog and Directory interfaces. The
// SQLite Store implements both and offers upserts for seeding.
package catalog

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("catalog: not found")

type Category struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	SortOrder   int    `json:"sort_order" yaml:"sort_order"`
	Active      bool   `json:"active" yaml:"active"`
}

type Item struct {
	ID          string  `json:"id" yaml:"id"`
	CategoryID  string  `json:"category_id" yaml:"category_id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Price       float64 `json:"price" yaml:"price"`
	SortOrder   int     `json:"sort_order" yaml:"sort_order"`
	Available   bool    `json:"available" yaml:"available"`
}

type Branch struct {
	ID                  string `json:"id" yaml:"id"`
	Name                string `json:"name" yaml:"name"`
	Address             string `json:"address,omitempty" yaml:"address"`
	Phone               string `json:"phone,omitempty" yaml:"phone"`
	AcceptsReservations bool   `json:"accepts_reservations" yaml:"accepts_reservations"`
}

// CRMCustomer is a guest record owned by the CRM.
type CRMCustomer struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Phone string `json:"phone" yaml:"phone"`
}

// Catalog is the read side the bot depends on. Lists only contain active
// categories, available items and branches accepting reservations, in
// display order.
type Catalog interface {
	Categories(ctx context.Context) ([]Category, error)
	ItemsInCategory(ctx context.Context, categoryID string) ([]Item, error)
	Item(ctx context.Context, id string) (*Item, error)
	Branches(ctx context.Context) ([]Branch, error)
}

// Directory finds CRM guests by phone number.
type Directory interface {
	FindByPhone(ctx context.Context, phone string) (*CRMCustomer, error)
}

// phoneKeyDigits is how many trailing digits identify a number across
// formats (+971 50..., 050..., 971-50-...).
const phoneKeyDigits = 9

// PhoneKey reduces a phone number to its last nine digits. Numbers with
// fewer digits are returned whole.
func PhoneKey(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) > phoneKeyDigits {
		d = d[len(d)-phoneKeyDigits:]
	}
	return d
}
