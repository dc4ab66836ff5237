package whatsapp

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func rows(n int) []Row {
	out := make([]Row, n)
	for i := range out {
		out[i] = Row{ID: fmt.Sprintf("ITEM_%d", i), Title: fmt.Sprintf("Dish %d", i)}
	}
	return out
}

func assertInvalid(t *testing.T, err error, field string) {
	t.Helper()
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if !strings.HasPrefix(ve.Field, field) {
		t.Fatalf("field = %q, want prefix %q", ve.Field, field)
	}
}

// ---------------------------------------------------------------------------
// List boundaries
// ---------------------------------------------------------------------------

func TestList_TenRowsAcrossSectionsAccepted(t *testing.T) {
	l := List{
		Body:   "Pick a dish",
		Button: "View Items",
		Sections: []Section{
			{Title: "Mains", Rows: rows(6)},
			{Title: "Desserts", Rows: []Row{
				{ID: "D1", Title: "Basbousa"}, {ID: "D2", Title: "Om Ali"},
				{ID: "D3", Title: "Konafa"}, {ID: "D4", Title: "Roz Bel Laban"},
			}},
		},
	}
	if l.RowCount() != 10 {
		t.Fatalf("RowCount = %d", l.RowCount())
	}
	if err := l.Validate(); err != nil {
		t.Fatalf("10 rows rejected: %v", err)
	}
}

func TestList_ElevenRowsRejected(t *testing.T) {
	l := List{
		Body:   "Pick a dish",
		Button: "View Items",
		Sections: []Section{
			{Title: "Mains", Rows: rows(6)},
			{Title: "Desserts", Rows: []Row{
				{ID: "D1", Title: "a"}, {ID: "D2", Title: "b"}, {ID: "D3", Title: "c"},
				{ID: "D4", Title: "d"}, {ID: "D5", Title: "e"},
			}},
		},
	}
	assertInvalid(t, l.Validate(), "sections")
}

func TestList_FieldLimits(t *testing.T) {
	base := func() List {
		return List{Body: "b", Button: "View", Sections: []Section{{Rows: []Row{{ID: "R1", Title: "t"}}}}}
	}

	tests := []struct {
		name  string
		edit  func(*List)
		field string
		ok    bool
	}{
		{"row title 24", func(l *List) { l.Sections[0].Rows[0].Title = strings.Repeat("x", 24) }, "", true},
		{"row title 25", func(l *List) { l.Sections[0].Rows[0].Title = strings.Repeat("x", 25) }, "sections[0].rows[0].title", false},
		{"row description 72", func(l *List) { l.Sections[0].Rows[0].Description = strings.Repeat("x", 72) }, "", true},
		{"row description 73", func(l *List) { l.Sections[0].Rows[0].Description = strings.Repeat("x", 73) }, "sections[0].rows[0].description", false},
		{"button 20", func(l *List) { l.Button = strings.Repeat("x", 20) }, "", true},
		{"button 21", func(l *List) { l.Button = strings.Repeat("x", 21) }, "button", false},
		{"button empty", func(l *List) { l.Button = "" }, "button", false},
		{"no rows", func(l *List) { l.Sections[0].Rows = nil }, "sections", false},
		{"no sections", func(l *List) { l.Sections = nil }, "sections", false},
		{"duplicate row id", func(l *List) {
			l.Sections[0].Rows = append(l.Sections[0].Rows, Row{ID: "R1", Title: "again"})
		}, "sections[0].rows[1].id", false},
		{"untitled multi section", func(l *List) {
			l.Sections = append(l.Sections, Section{Rows: []Row{{ID: "R2", Title: "t"}}})
		}, "sections[0].title", false},
		{"body empty", func(l *List) { l.Body = "" }, "body", false},
		{"footer 61", func(l *List) { l.Footer = strings.Repeat("x", 61) }, "footer", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := base()
			tt.edit(&l)
			err := l.Validate()
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			assertInvalid(t, err, tt.field)
		})
	}
}

// ---------------------------------------------------------------------------
// Button boundaries
// ---------------------------------------------------------------------------

func TestButtons_TitleBoundary(t *testing.T) {
	ok := Buttons{Body: "b", Buttons: []Button{{ID: "A", Title: strings.Repeat("x", 20)}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("20-char title rejected: %v", err)
	}
	bad := Buttons{Body: "b", Buttons: []Button{{ID: "A", Title: strings.Repeat("x", 21)}}}
	assertInvalid(t, bad.Validate(), "buttons[0].title")
}

func TestButtons_CountsRunesNotBytes(t *testing.T) {
	// 20 runes, 40+ bytes.
	title := strings.Repeat("ب", 20)
	b := Buttons{Body: "b", Buttons: []Button{{ID: "A", Title: title}}}
	if err := b.Validate(); err != nil {
		t.Fatalf("20 Arabic runes rejected: %v", err)
	}
}

func TestButtons_Count(t *testing.T) {
	btn := func(id string) Button { return Button{ID: id, Title: id} }
	three := Buttons{Body: "b", Buttons: []Button{btn("A"), btn("B"), btn("C")}}
	if err := three.Validate(); err != nil {
		t.Fatalf("3 buttons rejected: %v", err)
	}
	four := Buttons{Body: "b", Buttons: []Button{btn("A"), btn("B"), btn("C"), btn("D")}}
	assertInvalid(t, four.Validate(), "buttons")

	assertInvalid(t, Buttons{Body: "b"}.Validate(), "buttons")
	assertInvalid(t, Buttons{Body: "b", Buttons: []Button{btn("A"), btn("A")}}.Validate(), "buttons[1].id")
}

// ---------------------------------------------------------------------------
// Other shapes
// ---------------------------------------------------------------------------

func TestText_Validate(t *testing.T) {
	assertInvalid(t, Text{}.Validate(), "text.body")
	if err := (Text{Body: strings.Repeat("x", MaxTextBody)}).Validate(); err != nil {
		t.Fatalf("max text rejected: %v", err)
	}
	assertInvalid(t, Text{Body: strings.Repeat("x", MaxTextBody+1)}.Validate(), "text.body")
}

func TestImage_Validate(t *testing.T) {
	if err := (Image{Link: "https://cdn.example.com/a.jpg", Caption: "Koshari"}).Validate(); err != nil {
		t.Fatalf("valid image rejected: %v", err)
	}
	if err := (Image{ID: "1234567890"}).Validate(); err != nil {
		t.Fatalf("media id image rejected: %v", err)
	}
	assertInvalid(t, Image{}.Validate(), "image")
	assertInvalid(t, Image{Link: "https://x.example/a.jpg", ID: "1"}.Validate(), "image")
	assertInvalid(t, Image{Link: "http://127.0.0.1/a.jpg"}.Validate(), "image.link")
}

func TestTemplate_Validate(t *testing.T) {
	if err := (Template{Name: "weekly_offer", Category: CategoryMarketing}).Validate(); err != nil {
		t.Fatalf("valid template rejected: %v", err)
	}
	assertInvalid(t, Template{}.Validate(), "template.name")
	assertInvalid(t, Template{Name: "x", Category: "promo"}.Validate(), "template.category")
}

func TestKinds(t *testing.T) {
	tests := []struct {
		msg  Outbound
		kind string
		api  string
	}{
		{Text{}, "text", "text"},
		{Buttons{}, "buttons", "interactive"},
		{List{}, "list", "interactive"},
		{Template{}, "template", "template"},
		{Image{}, "image", "image"},
	}
	for _, tt := range tests {
		if tt.msg.Kind() != tt.kind || tt.msg.apiType() != tt.api {
			t.Errorf("%T: kind=%q api=%q", tt.msg, tt.msg.Kind(), tt.msg.apiType())
		}
	}
}
