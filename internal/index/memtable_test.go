package index

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemtable_InsertLookup(t *testing.T) {
	tests := map[string]struct {
		puts [][2]string
		key  string
		want string
		ok   bool
	}{
		"present": {
			puts: [][2]string{{"name", "Alice"}, {"city", "Ankh-Morpork"}},
			key:  "name",
			want: "Alice",
			ok:   true,
		},
		"missing": {
			puts: [][2]string{{"name", "Alice"}},
			key:  "age",
			want: "",
			ok:   false,
		},
		"overwrite keeps latest": {
			puts: [][2]string{{"name", "Alice"}, {"name", "Bob"}},
			key:  "name",
			want: "Bob",
			ok:   true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m := New(1 << 20)
			for _, kv := range tc.puts {
				m.Insert([]byte(kv[0]), []byte(kv[1]))
			}

			got, ok := m.Lookup([]byte(tc.key))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && string(got) != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestMemtable_DrainSorted(t *testing.T) {
	m := New(1 << 20)
	for _, kv := range []struct{ k, v string }{
		{"c", "3"}, {"a", "1"}, {"b", "2"},
	} {
		m.Insert([]byte(kv.k), []byte(kv.v))
	}

	want := []Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}
	got := m.DrainSorted()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf(diff)
	}

	// DrainSorted must not clear the memtable: a concurrent Get may still
	// be consulting it while a flush is in flight.
	if m.Len() != 3 {
		t.Errorf("expected memtable to retain 3 entries after drain, got %d", m.Len())
	}
}

func TestMemtable_IsFull(t *testing.T) {
	m := New(10)
	if m.IsFull() {
		t.Fatal("empty memtable should not be full")
	}
	m.Insert([]byte("long-enough-key"), []byte("long-enough-value"))
	if !m.IsFull() {
		t.Error("expected memtable to report full once over budget")
	}
}
