package index

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSkipList_SetGet(t *testing.T) {
	tests := map[string]struct {
		keys []string
		get  string
		want string
		ok   bool
	}{
		"single key":     {[]string{"b"}, "b", "b-v0", true},
		"missing key":    {[]string{"b"}, "z", "", false},
		"many keys sort": {[]string{"d", "b", "a", "c"}, "c", "c-v3", true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			sl := newSkipList()
			for i, k := range tc.keys {
				sl.set([]byte(k), []byte(fmt.Sprintf("%s-v%d", k, i)))
			}

			got, ok := sl.get([]byte(tc.get))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && string(got) != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSkipList_SetOverwrite(t *testing.T) {
	sl := newSkipList()
	_, existed := sl.set([]byte("k"), []byte("v1"))
	if existed {
		t.Fatal("first set should report existed=false")
	}

	prev, existed := sl.set([]byte("k"), []byte("v2"))
	if !existed {
		t.Fatal("second set should report existed=true")
	}
	if string(prev) != "v1" {
		t.Errorf("expected previous value %q, got %q", "v1", prev)
	}

	got, _ := sl.get([]byte("k"))
	if string(got) != "v2" {
		t.Errorf("expected %q, got %q", "v2", got)
	}
	if sl.length != 1 {
		t.Errorf("expected length 1, got %d", sl.length)
	}
}

func TestSkipList_Ascend(t *testing.T) {
	sl := newSkipList()
	for _, k := range []string{"mango", "apple", "kiwi", "banana", "fig"} {
		sl.set([]byte(k), []byte(k))
	}

	var got []string
	sl.ascend(func(key, value []byte) bool {
		got = append(got, string(key))
		return true
	})

	want := []string{"apple", "banana", "fig", "kiwi", "mango"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf(diff)
	}
}

func TestSkipList_AscendStopsEarly(t *testing.T) {
	sl := newSkipList()
	for _, k := range []string{"a", "b", "c", "d"} {
		sl.set([]byte(k), []byte(k))
	}

	var got []string
	sl.ascend(func(key, value []byte) bool {
		got = append(got, string(key))
		return string(key) != "b"
	})

	want := []string{"a", "b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf(diff)
	}
}

func TestSkipList_ManyKeysStayOrdered(t *testing.T) {
	sl := newSkipList()
	const n = 500
	for i := n - 1; i >= 0; i-- {
		k := []byte(fmt.Sprintf("key-%04d", i))
		sl.set(k, k)
	}

	var prev []byte
	count := 0
	sl.ascend(func(key, value []byte) bool {
		if prev != nil && string(prev) >= string(key) {
			t.Fatalf("keys out of order: %q then %q", prev, key)
		}
		prev = key
		count++
		return true
	})
	if count != n {
		t.Errorf("expected %d entries, got %d", n, count)
	}
}
