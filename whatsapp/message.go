package whatsapp

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/horosafe"
)

// Provider format limits. Lengths count characters (runes), not bytes.
const (
	MaxButtons         = 3
	MaxButtonTitle     = 20
	MaxButtonID        = 256
	MaxListRows        = 10
	MaxListSections    = 10
	MaxSectionTitle    = 24
	MaxRowTitle        = 24
	MaxRowDescription  = 72
	MaxRowID           = 200
	MaxListButton      = 20
	MaxHeaderText      = 60
	MaxFooterText      = 60
	MaxInteractiveBody = 1024
	MaxTextBody        = 4096
	MaxCaption         = 1024
)

// Outbound is a message shape the Client can send. The set is closed:
// Text, Buttons, List, Template and Image.
type Outbound interface {
	// Kind is the content type recorded with the stored message.
	Kind() string
	// Validate checks the provider format limits without any I/O.
	Validate() error

	apiType() string
	apiBody() any
}

// Content serializes msg for the message log.
func Content(msg Outbound) string {
	data, err := json.Marshal(msg)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Text is a plain text message.
type Text struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

func (Text) Kind() string    { return "text" }
func (Text) apiType() string { return "text" }
func (t Text) apiBody() any  { return t }

func (t Text) Validate() error {
	if t.Body == "" {
		return invalid("text.body", "required")
	}
	return maxLen("text.body", t.Body, MaxTextBody)
}

// Button is one reply button.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Buttons is an interactive message with up to three reply buttons.
type Buttons struct {
	Header  string   `json:"header,omitempty"`
	Body    string   `json:"body"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons"`
}

func (Buttons) Kind() string    { return "buttons" }
func (Buttons) apiType() string { return "interactive" }

func (b Buttons) Validate() error {
	if err := validateFrame(b.Header, b.Body, b.Footer); err != nil {
		return err
	}
	if len(b.Buttons) == 0 {
		return invalid("buttons", "at least one button is required")
	}
	if len(b.Buttons) > MaxButtons {
		return invalid("buttons", fmt.Sprintf("%d buttons exceeds %d", len(b.Buttons), MaxButtons))
	}
	seen := make(map[string]bool, len(b.Buttons))
	for i, btn := range b.Buttons {
		field := fmt.Sprintf("buttons[%d]", i)
		if btn.ID == "" {
			return invalid(field+".id", "required")
		}
		if seen[btn.ID] {
			return invalid(field+".id", fmt.Sprintf("duplicate id %q", btn.ID))
		}
		seen[btn.ID] = true
		if err := maxLen(field+".id", btn.ID, MaxButtonID); err != nil {
			return err
		}
		if btn.Title == "" {
			return invalid(field+".title", "required")
		}
		if err := maxLen(field+".title", btn.Title, MaxButtonTitle); err != nil {
			return err
		}
	}
	return nil
}

func (b Buttons) apiBody() any {
	type reply struct {
		Type  string `json:"type"`
		Reply Button `json:"reply"`
	}
	buttons := make([]reply, len(b.Buttons))
	for i, btn := range b.Buttons {
		buttons[i] = reply{Type: "reply", Reply: btn}
	}
	body := interactive{
		Type:   "button",
		Header: textHeader(b.Header),
		Body:   &textField{Text: b.Body},
		Footer: textFooter(b.Footer),
		Action: map[string]any{"buttons": buttons},
	}
	return body
}

// Row is one selectable row of a list message.
type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Section groups rows under an optional title.
type Section struct {
	Title string `json:"title,omitempty"`
	Rows  []Row  `json:"rows"`
}

// List is an interactive list message. The row limit applies across all
// sections.
type List struct {
	Header   string    `json:"header,omitempty"`
	Body     string    `json:"body"`
	Footer   string    `json:"footer,omitempty"`
	Button   string    `json:"button"`
	Sections []Section `json:"sections"`
}

func (List) Kind() string    { return "list" }
func (List) apiType() string { return "interactive" }

// RowCount returns the number of rows across all sections.
func (l List) RowCount() int {
	n := 0
	for _, s := range l.Sections {
		n += len(s.Rows)
	}
	return n
}

func (l List) Validate() error {
	if err := validateFrame(l.Header, l.Body, l.Footer); err != nil {
		return err
	}
	if l.Button == "" {
		return invalid("button", "required")
	}
	if err := maxLen("button", l.Button, MaxListButton); err != nil {
		return err
	}
	if len(l.Sections) == 0 {
		return invalid("sections", "at least one section is required")
	}
	if len(l.Sections) > MaxListSections {
		return invalid("sections", fmt.Sprintf("%d sections exceeds %d", len(l.Sections), MaxListSections))
	}
	total := l.RowCount()
	if total == 0 {
		return invalid("sections", "at least one row is required")
	}
	if total > MaxListRows {
		return invalid("sections", fmt.Sprintf("%d rows exceeds %d", total, MaxListRows))
	}
	if len(l.Sections) > 1 {
		for i, s := range l.Sections {
			if s.Title == "" {
				return invalid(fmt.Sprintf("sections[%d].title", i), "required when there are several sections")
			}
		}
	}
	seen := make(map[string]bool, total)
	for i, s := range l.Sections {
		if err := maxLen(fmt.Sprintf("sections[%d].title", i), s.Title, MaxSectionTitle); err != nil {
			return err
		}
		for j, r := range s.Rows {
			field := fmt.Sprintf("sections[%d].rows[%d]", i, j)
			if r.ID == "" {
				return invalid(field+".id", "required")
			}
			if seen[r.ID] {
				return invalid(field+".id", fmt.Sprintf("duplicate id %q", r.ID))
			}
			seen[r.ID] = true
			if err := maxLen(field+".id", r.ID, MaxRowID); err != nil {
				return err
			}
			if r.Title == "" {
				return invalid(field+".title", "required")
			}
			if err := maxLen(field+".title", r.Title, MaxRowTitle); err != nil {
				return err
			}
			if err := maxLen(field+".description", r.Description, MaxRowDescription); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l List) apiBody() any {
	return interactive{
		Type:   "list",
		Header: textHeader(l.Header),
		Body:   &textField{Text: l.Body},
		Footer: textFooter(l.Footer),
		Action: map[string]any{"button": l.Button, "sections": l.Sections},
	}
}

// TemplateCategory is the provider pricing category of a template.
type TemplateCategory string

const (
	CategoryMarketing      TemplateCategory = "marketing"
	CategoryUtility        TemplateCategory = "utility"
	CategoryAuthentication TemplateCategory = "authentication"
)

// TemplateParameter fills one placeholder of a template component.
type TemplateParameter struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// TemplateComponent is a header, body or button component with parameters.
type TemplateComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

// Template is a pre-approved template message. Category is not sent to the
// provider; it is recorded with the message for pricing.
type Template struct {
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Category   TemplateCategory    `json:"category,omitempty"`
	Components []TemplateComponent `json:"components,omitempty"`
}

func (Template) Kind() string    { return "template" }
func (Template) apiType() string { return "template" }

func (t Template) Validate() error {
	if t.Name == "" {
		return invalid("template.name", "required")
	}
	switch t.Category {
	case "", CategoryMarketing, CategoryUtility, CategoryAuthentication:
	default:
		return invalid("template.category", fmt.Sprintf("unknown category %q", t.Category))
	}
	return nil
}

func (t Template) apiBody() any {
	lang := t.Language
	if lang == "" {
		lang = "en"
	}
	body := map[string]any{
		"name":     t.Name,
		"language": map[string]string{"code": lang},
	}
	if len(t.Components) > 0 {
		body["components"] = t.Components
	}
	return body
}

// Image is an image message referenced by public link or uploaded media id.
type Image struct {
	Link    string `json:"link,omitempty"`
	ID      string `json:"id,omitempty"`
	Caption string `json:"caption,omitempty"`
}

func (Image) Kind() string    { return "image" }
func (Image) apiType() string { return "image" }
func (i Image) apiBody() any  { return i }

func (i Image) Validate() error {
	switch {
	case i.Link == "" && i.ID == "":
		return invalid("image", "link or id is required")
	case i.Link != "" && i.ID != "":
		return invalid("image", "link and id are mutually exclusive")
	}
	if i.Link != "" {
		if err := horosafe.ValidatePublicURL(i.Link); err != nil {
			return invalid("image.link", err.Error())
		}
	}
	return maxLen("image.caption", i.Caption, MaxCaption)
}

// ---------------------------------------------------------------------------
// Interactive wire shapes
// ---------------------------------------------------------------------------

type textField struct {
	Text string `json:"text"`
}

type header struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type interactive struct {
	Type   string     `json:"type"`
	Header *header    `json:"header,omitempty"`
	Body   *textField `json:"body"`
	Footer *textField `json:"footer,omitempty"`
	Action any        `json:"action"`
}

func textHeader(s string) *header {
	if s == "" {
		return nil
	}
	return &header{Type: "text", Text: s}
}

func textFooter(s string) *textField {
	if s == "" {
		return nil
	}
	return &textField{Text: s}
}

func validateFrame(head, body, foot string) error {
	if body == "" {
		return invalid("body", "required")
	}
	if err := maxLen("body", body, MaxInteractiveBody); err != nil {
		return err
	}
	if err := maxLen("header", head, MaxHeaderText); err != nil {
		return err
	}
	return maxLen("footer", foot, MaxFooterText)
}

func maxLen(field, s string, limit int) error {
	if n := utf8.RuneCountInString(s); n > limit {
		return invalid(field, fmt.Sprintf("%d chars exceeds %d", n, limit))
	}
	return nil
}
