package bot

import (
	"fmt"
	"unicode/utf8"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/catalog"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

// Reply ids.
const (
	IDMenu        = "MENU"
	IDReservation = "RESERVATION"
	IDOffers      = "OFFERS"
	IDSupport     = "SUPPORT"
	IDOptInYes    = "OPTIN_YES"
	IDOptInNo     = "OPTIN_NO"
	IDBackToMenu  = "BACK_TO_MENU"
	IDMainMenu    = "MAIN_MENU"

	PrefixCategory = "CAT_"
	PrefixItem     = "ITEM_"
	PrefixBranch   = "BRANCH_"
)

// ApologyText is sent once when handling an inbound message fails.
const ApologyText = "Sorry, I encountered an error. Please try again or type 'menu' to start over."

const (
	textMenuUpdating   = "Sorry, our menu is currently being updated. Please check back soon!"
	textNoItems        = "No items found in this category. Please select another category."
	textItemNotFound   = "Item not found. Please try again."
	textNoBranches     = "Sorry, we're not taking reservations at the moment. Please try again later."
	textReservationTBD = "Great! Reservation feature is coming soon. For now, please call us directly to book a table. Type 'menu' to return to main menu."
	textOffersPrompt   = "🎁 *Special Offers & Events*\n\nWould you like to receive exclusive offers and event updates via WhatsApp?"
	textOptedIn        = "🎉 You're subscribed! We'll send you our exclusive offers and event updates."
	textOptedOut       = "No problem! You won't receive promotional messages from us."
	textSupport        = "👋 We're here to help!\n\nOur support team will get back to you shortly. A staff member will respond to your message soon.\n\nType 'menu' to return to the main menu."
	footerBack         = "Type 'menu' to go back"
)

// Copy holds the configurable parts of the bot's wording.
type Copy struct {
	RestaurantName string
	Currency       string
}

// DefaultCopy is the wording used when none is configured.
var DefaultCopy = Copy{RestaurantName: "Hadoota Masreya", Currency: "AED"}

func (c Copy) mainMenu() whatsapp.Buttons {
	return whatsapp.Buttons{
		Body:   fmt.Sprintf("Welcome to %s! 🎉\n\nHow can I help you today?", c.RestaurantName),
		Footer: `Type "help" anytime for assistance`,
		Buttons: []whatsapp.Button{
			{ID: IDMenu, Title: "🍽 Browse Menu"},
			{ID: IDReservation, Title: "📅 Book Table"},
			{ID: IDOffers, Title: "🎁 Special Offers"},
		},
	}
}

func (c Copy) price(v float64) string {
	return fmt.Sprintf("%s %.2f", c.Currency, v)
}

func categoryList(cats []catalog.Category) whatsapp.List {
	rows := make([]whatsapp.Row, 0, min(len(cats), whatsapp.MaxListRows))
	for _, cat := range cats[:min(len(cats), whatsapp.MaxListRows)] {
		rows = append(rows, whatsapp.Row{
			ID:          PrefixCategory + cat.ID,
			Title:       truncate(cat.Name, whatsapp.MaxRowTitle),
			Description: truncate(cat.Description, whatsapp.MaxRowDescription),
		})
	}
	return whatsapp.List{
		Body:     "🍽 *Browse Our Menu*\n\nSelect a category to explore:",
		Footer:   footerBack,
		Button:   "View Categories",
		Sections: []whatsapp.Section{{Rows: rows}},
	}
}

func (c Copy) itemList(items []catalog.Item) whatsapp.List {
	rows := make([]whatsapp.Row, 0, min(len(items), whatsapp.MaxListRows))
	for _, it := range items[:min(len(items), whatsapp.MaxListRows)] {
		rows = append(rows, whatsapp.Row{
			ID:          PrefixItem + it.ID,
			Title:       truncate(it.Name, whatsapp.MaxRowTitle),
			Description: truncate(c.price(it.Price), whatsapp.MaxRowDescription),
		})
	}
	return whatsapp.List{
		Body:     "Select an item to view details:",
		Footer:   footerBack,
		Button:   "View Items",
		Sections: []whatsapp.Section{{Rows: rows}},
	}
}

func (c Copy) itemDetail(it *catalog.Item) []whatsapp.Outbound {
	body := fmt.Sprintf("🍽 *%s*\n\n", it.Name)
	if it.Description != "" {
		body += it.Description + "\n\n"
	}
	body += "💰 Price: " + c.price(it.Price)
	return []whatsapp.Outbound{
		whatsapp.Text{Body: body},
		whatsapp.Buttons{
			Body: "What would you like to do?",
			Buttons: []whatsapp.Button{
				{ID: IDBackToMenu, Title: "⬅️ Back to Menu"},
				{ID: IDMainMenu, Title: "🏠 Main Menu"},
			},
		},
	}
}

func branchList(branches []catalog.Branch) whatsapp.List {
	rows := make([]whatsapp.Row, 0, min(len(branches), whatsapp.MaxListRows))
	for _, b := range branches[:min(len(branches), whatsapp.MaxListRows)] {
		rows = append(rows, whatsapp.Row{
			ID:          PrefixBranch + b.ID,
			Title:       truncate(b.Name, whatsapp.MaxRowTitle),
			Description: truncate(b.Address, whatsapp.MaxRowDescription),
		})
	}
	return whatsapp.List{
		Body:     "📅 *Book a Table*\n\nFirst, select your preferred location:",
		Button:   "Select Branch",
		Sections: []whatsapp.Section{{Rows: rows}},
	}
}

func offersPrompt() whatsapp.Buttons {
	return whatsapp.Buttons{
		Body: textOffersPrompt,
		Buttons: []whatsapp.Button{
			{ID: IDOptInYes, Title: "✅ Yes, sign me up!"},
			{ID: IDOptInNo, Title: "❌ No thanks"},
		},
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
