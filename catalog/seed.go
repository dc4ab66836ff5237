package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML layout accepted by LoadSeed:
//
//	categories:
//	  - id: grills
//	    name: Grills
//	    items:
//	      - id: kofta
//	        name: Kofta
//	        price: 42.5
//	branches:
//	  - id: jlt
//	    name: JLT
//	    address: Cluster D
//	crm_customers:
//	  - id: crm_1
//	    name: Mona
//	    phone: "+971 50 123 4567"
//
// Categories and items are active unless hidden; branches accept
// reservations unless closed.
type Seed struct {
	Categories   []SeedCategory `yaml:"categories"`
	Branches     []SeedBranch   `yaml:"branches"`
	CRMCustomers []CRMCustomer  `yaml:"crm_customers"`
}

type SeedCategory struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Hidden      bool       `yaml:"hidden"`
	Items       []SeedItem `yaml:"items"`
}

type SeedItem struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
	Hidden      bool    `yaml:"hidden"`
}

type SeedBranch struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Phone   string `yaml:"phone"`
	Closed  bool   `yaml:"closed"`
}

// ParseSeed decodes a seed document. Unknown fields are rejected.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog: parse seed: %w", err)
	}
	for i, c := range seed.Categories {
		if c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("catalog: parse seed: categories[%d]: id and name are required", i)
		}
		for j, it := range c.Items {
			if it.ID == "" || it.Name == "" {
				return nil, fmt.Errorf("catalog: parse seed: categories[%d].items[%d]: id and name are required", i, j)
			}
		}
	}
	for i, b := range seed.Branches {
		if b.ID == "" || b.Name == "" {
			return nil, fmt.Errorf("catalog: parse seed: branches[%d]: id and name are required", i)
		}
	}
	return &seed, nil
}

// LoadSeed reads the seed file at path and upserts it.
func (s *Store) LoadSeed(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("catalog: read seed: %w", err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return err
	}
	return s.Apply(ctx, seed)
}

// Apply upserts every record of seed in one transaction: a failing record
// leaves the catalog as it was. File order gives the sort order.
func (s *Store) Apply(ctx context.Context, seed *Seed) error {
	return wrap("apply seed", s.inTx(ctx, func(w writer) error {
		for i, c := range seed.Categories {
			if err := w.category(Category{
				ID: c.ID, Name: c.Name, Description: c.Description, SortOrder: i, Active: !c.Hidden,
			}); err != nil {
				return fmt.Errorf("category %s: %w", c.ID, err)
			}
			for j, it := range c.Items {
				if err := w.item(Item{
					ID: it.ID, CategoryID: c.ID, Name: it.Name, Description: it.Description,
					Price: it.Price, SortOrder: j, Available: !it.Hidden,
				}); err != nil {
					return fmt.Errorf("item %s: %w", it.ID, err)
				}
			}
		}
		for _, b := range seed.Branches {
			if err := w.branch(Branch{
				ID: b.ID, Name: b.Name, Address: b.Address, Phone: b.Phone, AcceptsReservations: !b.Closed,
			}); err != nil {
				return fmt.Errorf("branch %s: %w", b.ID, err)
			}
		}
		for _, c := range seed.CRMCustomers {
			if err := w.crmCustomer(c); err != nil {
				return fmt.Errorf("crm customer %s: %w", c.ID, err)
			}
		}
		return nil
	}))
}
