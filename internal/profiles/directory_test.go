package profiles

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDirectory_LookupAndContacts(t *testing.T) {
	d := NewMemoryDirectory(Profile{ID: "a", DisplayName: "Ada"})
	d.AddContact("a", Contact{Platform: "fcm", Token: "t1"})

	p, err := d.Lookup(context.Background(), "a")
	if err != nil || p.DisplayName != "Ada" {
		t.Fatalf("unexpected lookup %+v %v", p, err)
	}
	cs, err := d.Contacts(context.Background(), "a")
	if err != nil || len(cs) != 1 || cs[0].Token != "t1" {
		t.Fatalf("unexpected contacts %+v %v", cs, err)
	}
	if _, err := d.Lookup(context.Background(), "zed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
