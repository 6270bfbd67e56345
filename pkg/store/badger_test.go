package store

import (
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store failed: %v", err)
		}
	})
	return s
}

func TestBadgerStore_SetGetDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Update(func(tx Tx) error {
		return tx.Set([]byte("/doc/a"), []byte("state-a"))
	}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	err := s.View(func(tx Tx) error {
		val, err := tx.Get([]byte("/doc/a"))
		if err != nil {
			return err
		}
		if string(val) != "state-a" {
			t.Errorf("got %q, want %q", val, "state-a")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if err := s.Update(func(tx Tx) error {
		return tx.Delete([]byte("/doc/a"))
	}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	err = s.View(func(tx Tx) error {
		_, err := tx.Get([]byte("/doc/a"))
		return err
	})
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestBadgerStore_ScanPrefix(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(func(tx Tx) error {
		for _, k := range []string{"/doc/b", "/doc/a", "/other/x"} {
			if err := tx.Set([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	var keys []string
	err = s.View(func(tx Tx) error {
		return tx.Scan([]byte("/doc/"), func(key, _ []byte) error {
			keys = append(keys, string(key))
			return nil
		})
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "/doc/a" || keys[1] != "/doc/b" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestOpenBadger_RejectsBadOption(t *testing.T) {
	if _, err := OpenBadger(t.TempDir(), WithValueLogFileSize(0)); err == nil {
		t.Fatal("expected error for zero value log size")
	}
}
