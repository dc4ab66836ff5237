package conversation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func inbound(t *testing.T, s *Store, conv *Conversation, providerID string) {
	t.Helper()
	m := &Message{ConversationID: conv.ID, ProviderMessageID: providerID, Direction: Inbound,
		Type: "text", Content: `{"body":"hi"}`, Sender: SenderCustomer, Timestamp: testNow}
	if _, err := s.SaveMessage(context.Background(), m); err != nil {
		t.Fatal(err)
	}
}

func TestApplyStateChange_WritesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := newConversation(t, s)
	inbound(t, s, conv, "wamid.IN1")

	yes := true
	at := testNow.Add(-time.Minute)
	v, err := s.ApplyStateChange(ctx, StateChange{
		CustomerID: conv.CustomerID, ExpectedVersion: 1,
		State: "support", ContextData: `{"state":"support"}`,
		OptIn: &yes, OptInAt: at,
		ConversationID: conv.ID, Status: StatusWaitingHuman,
		HandledMessageID: "wamid.IN1",
	})
	if err != nil || v != 2 {
		t.Fatalf("v=%d err=%v", v, err)
	}
	c, _ := s.GetCustomer(ctx, conv.CustomerID)
	if c.State != "support" || c.Version != 2 || !c.OptInMarketing || !c.OptInDate.Equal(at) {
		t.Fatalf("customer = %+v", c)
	}
	got, _ := s.GetConversation(ctx, conv.ID)
	if got.Status != StatusWaitingHuman {
		t.Fatalf("status = %s", got.Status)
	}
	m, _ := s.GetMessageByProviderID(ctx, "wamid.IN1")
	if !m.HandledAt.Equal(testNow) {
		t.Fatalf("handled_at = %v", m.HandledAt)
	}
}

func TestApplyStateChange_FailureWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := newConversation(t, s)
	inbound(t, s, conv, "wamid.IN1")
	yes := true

	_, err := s.ApplyStateChange(ctx, StateChange{
		CustomerID: conv.CustomerID, ExpectedVersion: 7, State: "support",
		OptIn: &yes, ConversationID: conv.ID, Status: StatusWaitingHuman, HandledMessageID: "wamid.IN1",
	})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}

	if err := s.Close(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	_, err = s.ApplyStateChange(ctx, StateChange{
		CustomerID: conv.CustomerID, ExpectedVersion: 1, State: "support",
		OptIn: &yes, ConversationID: conv.ID, Status: StatusWaitingHuman, HandledMessageID: "wamid.IN1",
	})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}

	c, _ := s.GetCustomer(ctx, conv.CustomerID)
	if c.State != "idle" || c.Version != 1 || c.OptInMarketing {
		t.Fatalf("customer written: %+v", c)
	}
	if m, _ := s.GetMessageByProviderID(ctx, "wamid.IN1"); !m.HandledAt.IsZero() {
		t.Fatalf("message marked handled: %v", m.HandledAt)
	}

	if _, err := s.ApplyStateChange(ctx, StateChange{CustomerID: "cus_missing", ExpectedVersion: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyStateChange_BackToActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := newConversation(t, s)
	if err := s.Escalate(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	v, err := s.ApplyStateChange(ctx, StateChange{CustomerID: conv.CustomerID, ExpectedVersion: 1,
		State: "idle", ConversationID: conv.ID, Status: StatusActive})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetConversation(ctx, conv.ID); got.Status != StatusActive {
		t.Fatalf("status = %s", got.Status)
	}

	// Taken over conversations stay with staff.
	if err := s.Escalate(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.TakeOver(ctx, conv.ID, "usr_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyStateChange(ctx, StateChange{CustomerID: conv.CustomerID, ExpectedVersion: v,
		State: "idle", ConversationID: conv.ID, Status: StatusActive}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetConversation(ctx, conv.ID)
	if got.AssignedTo != "usr_1" {
		t.Fatalf("conversation = %+v", got)
	}

	if _, err := s.ApplyStateChange(ctx, StateChange{CustomerID: conv.CustomerID, ExpectedVersion: v + 1,
		ConversationID: conv.ID, Status: StatusClosed}); err == nil {
		t.Fatal("closing through a state change must be rejected")
	}
}

func TestMarkMessageHandled_KeepsFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := newConversation(t, s)
	inbound(t, s, conv, "wamid.IN1")

	if err := s.MarkMessageHandled(ctx, "wamid.IN1"); err != nil {
		t.Fatal(err)
	}
	later := testNow.Add(time.Hour)
	s.now = func() time.Time { return later }
	if err := s.MarkMessageHandled(ctx, "wamid.IN1"); err != nil {
		t.Fatal(err)
	}
	m, err := s.GetMessageByProviderID(ctx, "wamid.IN1")
	if err != nil {
		t.Fatal(err)
	}
	if !m.HandledAt.Equal(testNow) {
		t.Fatalf("handled_at = %v, want first mark", m.HandledAt)
	}
	if err := s.MarkMessageHandled(ctx, "wamid.UNKNOWN"); err != nil {
		t.Fatal(err)
	}
}
