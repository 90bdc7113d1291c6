package mailer

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestLogMailerSend(t *testing.T) {
	var m Mailer = LogMailer{}

	res, err := m.Send(context.Background(), &Message{
		To:      "sara@example.com",
		Subject: "Welcome",
		Text:    "Hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID == "" {
		t.Fatal("expected a message id")
	}
	if _, err := uuid.Parse(res.MessageID); err != nil {
		t.Errorf("message id %q is not a uuid: %v", res.MessageID, err)
	}
}

func TestLogMailerUniqueMessageIDs(t *testing.T) {
	m := LogMailer{}
	msg := &Message{To: "sara@example.com", Subject: "x"}

	a, _ := m.Send(context.Background(), msg)
	b, _ := m.Send(context.Background(), msg)
	if a.MessageID == b.MessageID {
		t.Error("expected distinct message ids per send")
	}
}
