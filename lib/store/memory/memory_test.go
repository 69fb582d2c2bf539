package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/tarancss/chainkit/lib/store"
)

func TestMemory(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewWithClock(func() time.Time { return now })

	if ok, _ := m.Exists("k"); ok {
		t.Errorf("empty store reports key")
	}
	if _, err := m.Load("k"); !errors.Is(err, store.ErrDataNotFound) {
		t.Errorf("expected ErrDataNotFound, got %v", err)
	}

	data := []byte("value")
	if err := m.Save("k", data); err != nil {
		t.Fatalf("save: %v", err)
	}
	data[0] = 'X' // the store keeps its own copy

	got, err := m.Load("k")
	if err != nil || string(got) != "value" {
		t.Errorf("load: %q %v", got, err)
	}

	cases := []struct {
		advance time.Duration
		age     time.Duration
		cleared bool
	}{
		{0, time.Minute, false},
		{time.Minute, time.Minute, false},
		{time.Second, time.Minute, true},
		{0, time.Minute, false}, // already gone
	}
	for i, c := range cases {
		now = now.Add(c.advance)
		cleared, err := m.ClearIfOlderThan("k", c.age)
		if err != nil || cleared != c.cleared {
			t.Errorf("case %d: cleared %v err %v", i, cleared, err)
		}
	}

	if ok, _ := m.Exists("k"); ok {
		t.Errorf("key should have been cleared")
	}

	_ = m.Save("j", nil)
	_ = m.Clear("j")
	if ok, _ := m.Exists("j"); ok {
		t.Errorf("key should have been cleared")
	}
}

func TestModels(t *testing.T) {
	m := New()
	defer m.Close()

	if _, err := store.LoadExplorer(m, "mainnet"); !errors.Is(err, store.ErrDataNotFound) {
		t.Errorf("expected ErrDataNotFound, got %v", err)
	}

	ne := store.NetExplorer{Block: 208, Assets: []string{"XCP"}, Msgs: 3}
	if err := store.SaveExplorer(m, "mainnet", ne); err != nil {
		t.Fatalf("save explorer: %v", err)
	}
	if got, err := store.LoadExplorer(m, "mainnet"); err != nil || got.Block != 208 || got.Msgs != 3 {
		t.Errorf("load explorer: %+v %v", got, err)
	}

	added, err := store.AddAsset(m, "mainnet", "XCP")
	if err != nil || !added {
		t.Errorf("add asset: %v %v", added, err)
	}
	if added, _ = store.AddAsset(m, "mainnet", "XCP"); added {
		t.Errorf("asset added twice")
	}
	_, _ = store.AddAsset(m, "mainnet", "PEPECASH")

	assets, err := store.ListenedAssets(m, "mainnet")
	if err != nil || len(assets) != 2 {
		t.Errorf("listened assets: %v %v", assets, err)
	}
	if err = store.RemoveAsset(m, "mainnet", "XCP"); err != nil {
		t.Errorf("remove asset: %v", err)
	}
	if err = store.RemoveAsset(m, "mainnet", "XCP"); !errors.Is(err, store.ErrDataNotFound) {
		t.Errorf("expected ErrDataNotFound, got %v", err)
	}
	if assets, _ = store.ListenedAssets(m, "testnet"); len(assets) != 0 {
		t.Errorf("unexpected assets %v", assets)
	}
}
