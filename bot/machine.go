package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/catalog"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

// Result is the outcome of one transition.
type Result struct {
	Next    Context
	Replies []whatsapp.Outbound
	// Escalate hands the conversation to staff.
	Escalate bool
	// OptIn, when set, is the customer's marketing choice.
	OptIn *bool
}

// Machine computes transitions. It performs no writes: its only inputs are
// the current context, the event and catalog reads.
type Machine struct {
	catalog catalog.Catalog
	copy    Copy
}

// NewMachine returns a Machine reading menu and branch data from cat.
func NewMachine(cat catalog.Catalog, c Copy) *Machine {
	if c.RestaurantName == "" {
		c.RestaurantName = DefaultCopy.RestaurantName
	}
	if c.Currency == "" {
		c.Currency = DefaultCopy.Currency
	}
	return &Machine{catalog: cat, copy: c}
}

// Transition returns the next context and the replies for ev. Unknown
// states are handled as idle. Typing "menu" returns to the main menu from
// any state.
func (m *Machine) Transition(ctx context.Context, cur Context, ev Event) (Result, error) {
	if ev.IsKeyword("menu") {
		return m.mainMenu(), nil
	}
	switch cur.State {
	case StateBrowsingMenu:
		return m.browsing(ctx, cur, ev)
	case StateReservation:
		return m.reservation(ctx, ev)
	case StateMarketingOptIn:
		return m.optIn(ev), nil
	case StateSupport:
		return m.support(), nil
	}
	return m.idle(ctx, ev)
}

func (m *Machine) idle(ctx context.Context, ev Event) (Result, error) {
	switch ev.Selection() {
	case IDMenu:
		return m.categories(ctx, nil)
	case IDReservation:
		return m.startReservation(ctx)
	case IDOffers:
		return Result{Next: NewContext(OptInData{}), Replies: []whatsapp.Outbound{offersPrompt()}}, nil
	case IDSupport:
		return m.support(), nil
	}
	return m.mainMenu(), nil
}

func (m *Machine) mainMenu(prefix ...whatsapp.Outbound) Result {
	return Result{Next: Idle(), Replies: append(prefix, m.copy.mainMenu())}
}

// categories shows the category list, preceded by prefix.
func (m *Machine) categories(ctx context.Context, prefix []whatsapp.Outbound) (Result, error) {
	cats, err := m.catalog.Categories(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("bot: load categories: %w", err)
	}
	if len(cats) == 0 {
		return m.mainMenu(append(prefix, whatsapp.Text{Body: textMenuUpdating})...), nil
	}
	return Result{
		Next:    NewContext(MenuData{}),
		Replies: append(prefix, categoryList(cats)),
	}, nil
}

func (m *Machine) browsing(ctx context.Context, cur Context, ev Event) (Result, error) {
	data, _ := cur.Data.(MenuData)
	sel := ev.Selection()
	switch {
	case sel == IDMainMenu:
		return m.mainMenu(), nil

	case strings.HasPrefix(sel, PrefixCategory):
		id := strings.TrimPrefix(sel, PrefixCategory)
		items, err := m.catalog.ItemsInCategory(ctx, id)
		if err != nil {
			return Result{}, fmt.Errorf("bot: load items of %q: %w", id, err)
		}
		if len(items) == 0 {
			return m.categories(ctx, []whatsapp.Outbound{whatsapp.Text{Body: textNoItems}})
		}
		return Result{
			Next:    NewContext(MenuData{SelectedCategoryID: id}),
			Replies: []whatsapp.Outbound{m.copy.itemList(items)},
		}, nil

	case strings.HasPrefix(sel, PrefixItem):
		id := strings.TrimPrefix(sel, PrefixItem)
		it, err := m.catalog.Item(ctx, id)
		if errors.Is(err, catalog.ErrNotFound) {
			return m.categories(ctx, []whatsapp.Outbound{whatsapp.Text{Body: textItemNotFound}})
		}
		if err != nil {
			return Result{}, fmt.Errorf("bot: load item %q: %w", id, err)
		}
		category := data.SelectedCategoryID
		if category == "" {
			category = it.CategoryID
		}
		return Result{
			Next:    NewContext(MenuData{SelectedCategoryID: category, SelectedItemID: id}),
			Replies: m.copy.itemDetail(it),
		}, nil
	}
	// BACK_TO_MENU and anything unrecognized.
	return m.categories(ctx, nil)
}

func (m *Machine) startReservation(ctx context.Context) (Result, error) {
	branches, err := m.catalog.Branches(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("bot: load branches: %w", err)
	}
	if len(branches) == 0 {
		return m.mainMenu(whatsapp.Text{Body: textNoBranches}), nil
	}
	return Result{
		Next:    NewContext(ReservationData{}),
		Replies: []whatsapp.Outbound{branchList(branches)},
	}, nil
}

// reservation answers any reply with the call-us notice and returns to the
// main menu. Booking through the chat is not offered yet.
func (m *Machine) reservation(ctx context.Context, ev Event) (Result, error) {
	body := textReservationTBD
	if sel := ev.Selection(); strings.HasPrefix(sel, PrefixBranch) {
		branches, err := m.catalog.Branches(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("bot: load branches: %w", err)
		}
		id := strings.TrimPrefix(sel, PrefixBranch)
		for _, b := range branches {
			if b.ID == id && b.Phone != "" {
				body += fmt.Sprintf(" You can reach %s on %s.", b.Name, b.Phone)
				break
			}
		}
	}
	return m.mainMenu(whatsapp.Text{Body: body}), nil
}

func (m *Machine) optIn(ev Event) Result {
	switch ev.Selection() {
	case IDOptInYes:
		yes := true
		r := m.mainMenu(whatsapp.Text{Body: textOptedIn})
		r.OptIn = &yes
		return r
	case IDOptInNo:
		no := false
		r := m.mainMenu(whatsapp.Text{Body: textOptedOut})
		r.OptIn = &no
		return r
	}
	return Result{Next: NewContext(OptInData{}), Replies: []whatsapp.Outbound{offersPrompt()}}
}

func (m *Machine) support() Result {
	return Result{
		Next:     NewContext(SupportData{}),
		Replies:  []whatsapp.Outbound{whatsapp.Text{Body: textSupport}},
		Escalate: true,
	}
}
