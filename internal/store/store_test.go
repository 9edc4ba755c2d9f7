package store

import "testing"

func TestPut_EvictsByBytes(t *testing.T) {
	s := New(10)
	s.Put("a", "1")
	s.Put("bb", "22")
	// "ccc" needs 6 bytes on top of 6 used; evicting "a" leaves 4+6=10,
	// which fits the budget exactly, so "bb" survives.
	s.Put("ccc", "333")

	if _, ok := s.Get("a"); ok {
		t.Errorf("expected %q evicted", "a")
	}
	if v, ok := s.Get("bb"); !ok || v != "22" {
		t.Errorf("Get(bb) = %q, %v, want 22, true", v, ok)
	}
	if v, ok := s.Get("ccc"); !ok || v != "333" {
		t.Errorf("Get(ccc) = %q, %v, want 333, true", v, ok)
	}
	if got := s.UsedBytes(); got != 10 {
		t.Errorf("UsedBytes() = %d, want 10", got)
	}
}

func TestGet_TouchReordersRecency(t *testing.T) {
	s := New(10)
	s.Put("a", "1")
	s.Put("b", "2")
	s.Put("c", "3")

	if v, ok := s.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	// "b" is now least recently used. Inserting "d" (3 bytes) brings used
	// to 9, within budget, so nothing is evicted; the 2-byte "e" after it
	// no longer fits and evicts "b".
	s.Put("d", "45")
	if s.Len() != 4 {
		t.Errorf("Len() = %d after Put(d), want 4 (no eviction)", s.Len())
	}
	s.Put("e", "6")

	if _, ok := s.Get("b"); ok {
		t.Errorf("expected %q evicted after touching %q", "b", "a")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := s.Get(k); !ok {
			t.Errorf("expected %q to remain", k)
		}
	}
}

func TestPut_OversizeRejected(t *testing.T) {
	s := New(4)
	if s.Put("hello", "x") {
		t.Error("Put should fail when key+value exceeds max bytes")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestPutIfAbsent(t *testing.T) {
	s := New(100)
	if !s.PutIfAbsent("k", "v1") {
		t.Fatal("first PutIfAbsent should succeed")
	}
	if s.PutIfAbsent("k", "v2") {
		t.Error("second PutIfAbsent should fail")
	}
	if v, _ := s.Get("k"); v != "v1" {
		t.Errorf("Get(k) = %q, want v1 (untouched by failed PutIfAbsent)", v)
	}
}

func TestSet_RequiresPresentKey(t *testing.T) {
	s := New(100)
	if s.Set("missing", "v") {
		t.Error("Set on absent key should fail")
	}
	s.Put("k", "v1")
	if !s.Set("k", "v2") {
		t.Fatal("Set on present key should succeed")
	}
	if v, _ := s.Get("k"); v != "v2" {
		t.Errorf("Get(k) = %q, want v2", v)
	}
}

func TestDelete(t *testing.T) {
	s := New(100)
	if s.Delete("missing") {
		t.Error("Delete on absent key should return false")
	}
	s.Put("k", "v")
	if !s.Delete("k") {
		t.Fatal("Delete on present key should return true")
	}
	if _, ok := s.Get("k"); ok {
		t.Error("key should be gone after Delete")
	}
	if s.UsedBytes() != 0 {
		t.Errorf("UsedBytes() = %d, want 0", s.UsedBytes())
	}
}

func TestPut_Idempotent(t *testing.T) {
	s := New(100)
	s.Put("k", "v")
	used1 := s.UsedBytes()
	s.Put("k", "v")
	if s.UsedBytes() != used1 || s.Len() != 1 {
		t.Errorf("repeated identical Put changed store state")
	}
}

func TestRoundTrip(t *testing.T) {
	s := New(100)
	s.Put("key", "value")
	if v, ok := s.Get("key"); !ok || v != "value" {
		t.Errorf("Get(key) = %q, %v, want value, true", v, ok)
	}
}

func TestStats(t *testing.T) {
	s := New(100)
	s.Put("k", "v")
	s.Get("k")
	s.Get("missing")
	st := s.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats() = %+v, want Hits=1 Misses=1", st)
	}
}

func TestInvariant_UsedBytesMatchesSum(t *testing.T) {
	s := New(1000)
	keys := []string{"alpha", "beta", "gamma", "delta"}
	vals := []string{"1", "22", "333", "4444"}
	for i, k := range keys {
		s.Put(k, vals[i])
	}
	sum := 0
	for i, k := range keys {
		sum += len(k) + len(vals[i])
		_ = i
	}
	if s.UsedBytes() != sum {
		t.Errorf("UsedBytes() = %d, want %d", s.UsedBytes(), sum)
	}
}
