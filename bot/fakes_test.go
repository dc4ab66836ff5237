package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/catalog"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

type staticCatalog struct {
	categories []catalog.Category
	items      map[string][]catalog.Item
	branches   []catalog.Branch
	err        error
}

func (c *staticCatalog) Categories(context.Context) ([]catalog.Category, error) {
	return c.categories, c.err
}

func (c *staticCatalog) ItemsInCategory(_ context.Context, id string) ([]catalog.Item, error) {
	return c.items[id], c.err
}

func (c *staticCatalog) Item(_ context.Context, id string) (*catalog.Item, error) {
	if c.err != nil {
		return nil, c.err
	}
	for _, items := range c.items {
		for _, it := range items {
			if it.ID == id {
				return &it, nil
			}
		}
	}
	return nil, catalog.ErrNotFound
}

func (c *staticCatalog) Branches(context.Context) ([]catalog.Branch, error) {
	return c.branches, c.err
}

func testCatalog() *staticCatalog {
	return &staticCatalog{
		categories: []catalog.Category{
			{ID: "123", Name: "Grills", Description: "From the charcoal"},
			{ID: "200", Name: "Desserts"},
		},
		items: map[string][]catalog.Item{
			"123": {
				{ID: "kofta", CategoryID: "123", Name: "Kofta", Description: "Minced lamb", Price: 42.5, Available: true},
				{ID: "shish", CategoryID: "123", Name: "Shish Tawook", Price: 38, Available: true},
			},
		},
		branches: []catalog.Branch{
			{ID: "jlt", Name: "JLT", Address: "Cluster D", Phone: "+971 4 000 0000"},
			{ID: "deira", Name: "Deira"},
		},
	}
}

// panicCatalog panics on every read.
type panicCatalog struct{}

func (panicCatalog) Categories(context.Context) ([]catalog.Category, error) { panic("catalog exploded") }
func (panicCatalog) ItemsInCategory(context.Context, string) ([]catalog.Item, error) {
	panic("catalog exploded")
}
func (panicCatalog) Item(context.Context, string) (*catalog.Item, error) { panic("catalog exploded") }
func (panicCatalog) Branches(context.Context) ([]catalog.Branch, error) { panic("catalog exploded") }

type sent struct {
	to  string
	msg whatsapp.Outbound
}

// fakeSender records sends. failAt makes the n-th send (1-based) fail.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sent
	read     []string
	failAt   int
	readErr  error
	attempts int
}

func (f *fakeSender) Send(_ context.Context, to string, msg whatsapp.Outbound) (*whatsapp.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failAt > 0 && f.attempts == f.failAt {
		return nil, &whatsapp.APIError{StatusCode: 503, Kind: whatsapp.KindTransient, Message: "unavailable"}
	}
	f.sent = append(f.sent, sent{to: to, msg: msg})
	return &whatsapp.SendResult{MessageID: fmt.Sprintf("wamid.OUT%d", len(f.sent))}, nil
}

func (f *fakeSender) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return f.readErr
}

func (f *fakeSender) messages() []whatsapp.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]whatsapp.Outbound, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.msg
	}
	return out
}

var errCatalogDown = errors.New("catalog down")

func catalogCategory(i int) catalog.Category {
	return catalog.Category{ID: fmt.Sprintf("c%d", i), Name: fmt.Sprintf("Category %d", i)}
}
