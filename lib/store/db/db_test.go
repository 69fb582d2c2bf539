package db

import (
	"errors"
	"testing"

	"github.com/tarancss/chainkit/lib/store"
)

func TestNew(t *testing.T) {
	for _, o := range []string{"", MEMORY} {
		c, err := New(o, "")
		if err != nil {
			t.Fatalf("%q: %v", o, err)
		}
		if err = c.Save("k", []byte("v")); err != nil {
			t.Errorf("%q: save %v", o, err)
		}
		if err = Close(o, c); err != nil {
			t.Errorf("%q: close %v", o, err)
		}
	}

	if _, err := New("redis", ""); !errors.Is(err, store.ErrUnknownStore) {
		t.Errorf("expected ErrUnknownStore, got %v", err)
	}
}
