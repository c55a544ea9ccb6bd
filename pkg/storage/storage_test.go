package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
)

// runBackendSuite exercises the Backend contract. Every backend runs it.
func runBackendSuite(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("get_missing", func(t *testing.T) {
		if _, err := b.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("put_get_overwrite", func(t *testing.T) {
		if err := b.Put(ctx, "k1", []byte("one")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := b.Put(ctx, "k1", []byte("two")); err != nil {
			t.Fatalf("Put overwrite: %v", err)
		}
		got, err := b.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "two" {
			t.Errorf("Get = %q, want %q", got, "two")
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := b.Put(ctx, "gone", []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := b.Delete(ctx, "gone"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := b.Delete(ctx, "gone"); err != nil {
			t.Errorf("Delete of missing key should not fail: %v", err)
		}
		if _, err := b.Get(ctx, "gone"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
		}
	})

	t.Run("scan_and_delete_prefix", func(t *testing.T) {
		keys := []string{
			"c/assets-v1/GET https://example.com/a.js?x=*",
			"c/assets-v1/GET https://example.com/b.js",
			"c/assets-v2/GET https://example.com/a.js",
			"q/01HZX",
		}
		for _, k := range keys {
			if err := b.Put(ctx, k, []byte(k)); err != nil {
				t.Fatalf("Put(%q): %v", k, err)
			}
		}

		var seen []string
		err := b.Scan(ctx, "c/assets-v1/", func(key string, value []byte) error {
			if key != string(value) {
				t.Errorf("Scan value for %q = %q", key, value)
			}
			seen = append(seen, key)
			return nil
		})
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		sort.Strings(seen)
		if len(seen) != 2 || seen[0] != keys[0] || seen[1] != keys[1] {
			t.Errorf("Scan(c/assets-v1/) = %v, want %v", seen, keys[:2])
		}

		n, err := b.DeletePrefix(ctx, "c/assets-v1/")
		if err != nil {
			t.Fatalf("DeletePrefix: %v", err)
		}
		if n != 2 {
			t.Errorf("DeletePrefix removed %d keys, want 2", n)
		}
		if _, err := b.Get(ctx, keys[2]); err != nil {
			t.Errorf("key outside prefix was removed: %v", err)
		}
		if _, err := b.Get(ctx, keys[3]); err != nil {
			t.Errorf("queue key was removed: %v", err)
		}
	})

	t.Run("scan_stops_on_error", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		_ = b.Put(ctx, "s/1", []byte("1"))
		_ = b.Put(ctx, "s/2", []byte("2"))
		err := b.Scan(ctx, "s/", func(string, []byte) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Errorf("Scan error = %v, want %v", err, stop)
		}
		if calls != 1 {
			t.Errorf("fn called %d times, want 1", calls)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := b.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	runBackendSuite(t, m)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Put(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after Close error = %v, want ErrClosed", err)
	}
}

func TestMemory_FailPuts(t *testing.T) {
	m := NewMemory()
	boom := errors.New("disk full")
	m.FailPuts(boom)

	if err := m.Put(context.Background(), "k", []byte("v")); !errors.Is(err, boom) {
		t.Errorf("Put error = %v, want %v", err, boom)
	}

	m.FailPuts(nil)
	if err := m.Put(context.Background(), "k", []byte("v")); err != nil {
		t.Errorf("Put after restore: %v", err)
	}
}

func TestLevelDB(t *testing.T) {
	db, err := OpenLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("OpenLevelDB: %v", err)
	}
	defer db.Close()

	runBackendSuite(t, db)
}

func TestLevelDB_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	db, err := OpenLevelDB(path)
	if err != nil {
		t.Fatalf("OpenLevelDB: %v", err)
	}
	if err := db.Put(ctx, "q/1", []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = OpenLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	got, err := db.Get(ctx, "q/1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get = %q, want %q", got, "payload")
	}
}

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a*b", `a\*b`},
		{"q?x=[1]", `q\?x=\[1\]`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeGlob(tt.in); got != tt.want {
			t.Errorf("escapeGlob(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
