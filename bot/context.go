package bot

import (
	"encoding/json"
	"fmt"
)

// State tags the conversation flow a customer is in.
type State string

const (
	StateIdle           State = "idle"
	StateBrowsingMenu   State = "browsing_menu"
	StateReservation    State = "reservation"
	StateMarketingOptIn State = "marketing_optin"
	StateSupport        State = "support"
)

// Known reports whether s is one of the defined states.
func (s State) Known() bool {
	switch s {
	case StateIdle, StateBrowsingMenu, StateReservation, StateMarketingOptIn, StateSupport:
		return true
	}
	return false
}

// Data is the state-scoped payload of a Context. Each state has exactly one
// Data type.
type Data interface {
	state() State
}

type IdleData struct{}

type MenuData struct {
	SelectedCategoryID string `json:"selectedCategoryId,omitempty"`
	SelectedItemID     string `json:"selectedItemId,omitempty"`
}

type ReservationData struct {
	BranchID        string `json:"branchId,omitempty"`
	SectionID       string `json:"sectionId,omitempty"`
	Date            string `json:"date,omitempty"`
	Time            string `json:"time,omitempty"`
	PartySize       int    `json:"partySize,omitempty"`
	SpecialRequests string `json:"specialRequests,omitempty"`
}

type OptInData struct{}

type SupportData struct{}

func (IdleData) state() State        { return StateIdle }
func (MenuData) state() State        { return StateBrowsingMenu }
func (ReservationData) state() State { return StateReservation }
func (OptInData) state() State       { return StateMarketingOptIn }
func (SupportData) state() State     { return StateSupport }

// Context is the bot session stored with the customer:
// {"state": <tag>, "data": {...}}.
type Context struct {
	State State
	Data  Data
}

// NewContext returns the context for d; the state follows from the data type.
func NewContext(d Data) Context {
	return Context{State: d.state(), Data: d}
}

// Idle is the starting context of every customer.
func Idle() Context { return NewContext(IdleData{}) }

type wireContext struct {
	State State           `json:"state"`
	Data  json.RawMessage `json:"data"`
}

func (c Context) MarshalJSON() ([]byte, error) {
	d := c.Data
	if d == nil {
		d = zeroData(c.State)
	}
	if d.state() != c.State {
		return nil, fmt.Errorf("bot: context state %q carries %T", c.State, d)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireContext{State: c.State, Data: raw})
}

func (c *Context) UnmarshalJSON(b []byte) error {
	var w wireContext
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !w.State.Known() {
		return fmt.Errorf("bot: unknown state %q", w.State)
	}
	d, err := decodeData(w.State, w.Data)
	if err != nil {
		return err
	}
	*c = Context{State: w.State, Data: d}
	return nil
}

// Encode serializes c for the customer's context blob.
func Encode(c Context) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("bot: encode context: %w", err)
	}
	return string(b), nil
}

// Decode rebuilds the context from the stored state tag and blob. The tag
// is authoritative: an unknown tag yields Idle with no error, a blob that
// does not parse for the tag yields the tag's zero data and an error.
func Decode(tag, blob string) (Context, error) {
	st := State(tag)
	if !st.Known() {
		return Idle(), nil
	}
	zero := Context{State: st, Data: zeroData(st)}
	if blob == "" || blob == "{}" {
		return zero, nil
	}
	var w wireContext
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return zero, fmt.Errorf("bot: decode context: %w", err)
	}
	d, err := decodeData(st, w.Data)
	if err != nil {
		return zero, fmt.Errorf("bot: decode context: %w", err)
	}
	return Context{State: st, Data: d}, nil
}

func zeroData(s State) Data {
	switch s {
	case StateBrowsingMenu:
		return MenuData{}
	case StateReservation:
		return ReservationData{}
	case StateMarketingOptIn:
		return OptInData{}
	case StateSupport:
		return SupportData{}
	}
	return IdleData{}
}

func decodeData(s State, raw json.RawMessage) (Data, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return zeroData(s), nil
	}
	switch s {
	case StateBrowsingMenu:
		var d MenuData
		err := json.Unmarshal(raw, &d)
		return d, err
	case StateReservation:
		var d ReservationData
		err := json.Unmarshal(raw, &d)
		return d, err
	case StateMarketingOptIn:
		var d OptInData
		err := json.Unmarshal(raw, &d)
		return d, err
	case StateSupport:
		var d SupportData
		err := json.Unmarshal(raw, &d)
		return d, err
	}
	var d IdleData
	err := json.Unmarshal(raw, &d)
	return d, err
}
