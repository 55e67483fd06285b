package envelope

import (
	"bytes"
	"testing"

	"github.com/mostro-exchange/mostrod/internal/keys"
)

func TestWrapOpenRoundTrip(t *testing.T) {
	author, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	recipient, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	payload := []byte(`{"action":"new-order"}`)
	gw, err := Wrap(author, recipient.Public(), "rumor-1", payload)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	if gw.RecipientP != recipient.Public().Hex() {
		t.Errorf("RecipientP = %s, want %s", gw.RecipientP, recipient.Public().Hex())
	}

	gotAuthor, gotPayload, err := Open(recipient, gw)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if gotAuthor.Hex() != author.Public().Hex() {
		t.Errorf("recovered author = %s, want %s", gotAuthor.Hex(), author.Public().Hex())
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("recovered payload = %s, want %s", gotPayload, payload)
	}
}

func TestOpenRejectsWrongRecipient(t *testing.T) {
	author, _ := keys.Generate()
	recipient, _ := keys.Generate()
	stranger, _ := keys.Generate()

	gw, err := Wrap(author, recipient.Public(), "rumor-2", []byte(`{"action":"cancel"}`))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	if _, _, err := Open(stranger, gw); err == nil {
		t.Error("expected Open() to fail for a recipient the gift wrap wasn't addressed to")
	}
}

func TestEphemeralKeyChangesPerWrap(t *testing.T) {
	author, _ := keys.Generate()
	recipient, _ := keys.Generate()

	gw1, err := Wrap(author, recipient.Public(), "rumor-3", []byte(`{"action":"cancel"}`))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	gw2, err := Wrap(author, recipient.Public(), "rumor-4", []byte(`{"action":"cancel"}`))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	if gw1.EphemeralKey == gw2.EphemeralKey {
		t.Error("expected a fresh ephemeral key on every Wrap call")
	}
}
