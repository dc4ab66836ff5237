package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

const seedYAML = `
categories:
  - id: grills
    name: Grills
    description: From the charcoal
    items:
      - id: kofta
        name: Kofta
        price: 42.5
      - id: shish
        name: Shish Tawook
        price: 38
      - id: old
        name: Retired dish
        price: 10
        hidden: true
  - id: desserts
    name: Desserts
  - id: seasonal
    name: Ramadan specials
    hidden: true
branches:
  - id: jlt
    name: JLT
    address: Cluster D
  - id: deira
    name: Deira
    closed: true
crm_customers:
  - id: crm_1
    name: Mona
    phone: "+971 50 123 4567"
`

func seeded(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	seed, err := ParseSeed([]byte(seedYAML))
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}
	if err := s.Apply(context.Background(), seed); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Menu
// ---------------------------------------------------------------------------

func TestCategories_ActiveInOrder(t *testing.T) {
	s := seeded(t)
	cats, err := s.Categories(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 2 || cats[0].ID != "grills" || cats[1].ID != "desserts" {
		t.Fatalf("categories = %+v", cats)
	}
	if cats[0].Description != "From the charcoal" {
		t.Fatalf("description = %q", cats[0].Description)
	}
}

func TestItemsInCategory(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	items, err := s.ItemsInCategory(ctx, "grills")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != "kofta" || items[0].Price != 42.5 {
		t.Fatalf("items = %+v", items)
	}

	empty, err := s.ItemsInCategory(ctx, "desserts")
	if err != nil || len(empty) != 0 {
		t.Fatalf("desserts = %+v, %v", empty, err)
	}
}

func TestItem(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	it, err := s.Item(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if it.Available || it.CategoryID != "grills" {
		t.Fatalf("item = %+v", it)
	}
	if _, err := s.Item(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBranches_AcceptingReservations(t *testing.T) {
	s := seeded(t)
	branches, err := s.Branches(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(branches) != 1 || branches[0].ID != "jlt" || branches[0].Address != "Cluster D" {
		t.Fatalf("branches = %+v", branches)
	}
}

func TestUpsertReplaces(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	if err := s.UpsertItem(ctx, Item{ID: "kofta", CategoryID: "grills", Name: "Kofta Platter", Price: 55, Available: true}); err != nil {
		t.Fatal(err)
	}
	it, _ := s.Item(ctx, "kofta")
	if it.Name != "Kofta Platter" || it.Price != 55 {
		t.Fatalf("item = %+v", it)
	}
}

// ---------------------------------------------------------------------------
// CRM directory
// ---------------------------------------------------------------------------

func TestPhoneKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"+971 50 123 4567", "501234567"},
		{"971501234567", "501234567"},
		{"050-123-4567", "501234567"},
		{"(050) 1234567", "501234567"},
		{"12345", "12345"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := PhoneKey(tt.in); got != tt.want {
			t.Errorf("PhoneKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFindByPhone(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	// WhatsApp reports numbers as bare international digits.
	c, err := s.FindByPhone(ctx, "971501234567")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "crm_1" || c.Name != "Mona" {
		t.Fatalf("crm customer = %+v", c)
	}
	if _, err := s.FindByPhone(ctx, "971509999999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.FindByPhone(ctx, "n/a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Seed
// ---------------------------------------------------------------------------

func TestParseSeed_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":   "categories:\n  - id: a\n    name: A\n    colour: red\n",
		"missing name":    "categories:\n  - id: a\n",
		"item without id": "categories:\n  - id: a\n    name: A\n    items:\n      - name: x\n",
		"branch no id":    "branches:\n  - name: JLT\n",
	}
	for name, doc := range tests {
		if _, err := ParseSeed([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseSeed_Empty(t *testing.T) {
	seed, err := ParseSeed(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(seed.Categories) != 0 {
		t.Fatalf("seed = %+v", seed)
	}
}

func TestLoadSeed(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "menu.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadSeed(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	cats, _ := s.Categories(context.Background())
	if len(cats) != 2 {
		t.Fatalf("categories = %d", len(cats))
	}
	if err := s.LoadSeed(context.Background(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApply_FailingRecordWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed, err := ParseSeed([]byte(seedYAML))
	if err != nil {
		t.Fatal(err)
	}
	// The last table the seed touches is missing.
	if _, err := s.db.Exec(`DROP TABLE crm_customers`); err != nil {
		t.Fatal(err)
	}

	err = s.Apply(ctx, seed)
	if err == nil || !strings.Contains(err.Error(), "crm customer") {
		t.Fatalf("err = %v", err)
	}
	cats, err := s.Categories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	branches, err := s.Branches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 0 || len(branches) != 0 {
		t.Fatalf("partial seed written: %d categories, %d branches", len(cats), len(branches))
	}
}
