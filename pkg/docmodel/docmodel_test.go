package docmodel

import "testing"

func key(v int) ShardKey {
	return ShardKey{{Field: "k", Value: v}}
}

func TestCompareOrdersByValue(t *testing.T) {
	if Compare(key(1), key(2)) != -1 {
		t.Fatal("expected 1 < 2")
	}
	if Compare(key(2), key(1)) != 1 {
		t.Fatal("expected 2 > 1")
	}
	if Compare(key(1), key(1)) != 0 {
		t.Fatal("expected 1 == 1")
	}
}

func TestCompareMixedNumericTypes(t *testing.T) {
	a := ShardKey{{Field: "k", Value: int64(5)}}
	b := ShardKey{{Field: "k", Value: float64(5)}}
	if Compare(a, b) != 0 {
		t.Fatal("expected int64(5) == float64(5)")
	}
}

func TestCompareNilSortsFirst(t *testing.T) {
	a := ShardKey{{Field: "k", Value: nil}}
	b := key(0)
	if Compare(a, b) != -1 {
		t.Fatal("expected nil to sort before 0")
	}
}

func TestInRangeHalfOpen(t *testing.T) {
	min, max := key(0), key(100)
	if !InRange(min, max, key(0)) {
		t.Fatal("expected min to be in range (inclusive)")
	}
	if InRange(min, max, key(100)) {
		t.Fatal("expected max to be out of range (exclusive)")
	}
	if !InRange(min, max, key(50)) {
		t.Fatal("expected 50 to be in range")
	}
	if InRange(min, max, key(-1)) {
		t.Fatal("expected -1 to be out of range")
	}
}

func TestProjectMissingFieldYieldsNil(t *testing.T) {
	doc := Document{"other": 1}
	proj := Project(doc, key(0))
	if proj[0].Value != nil {
		t.Fatalf("expected nil for missing field, got %v", proj[0].Value)
	}
}

func TestProjectPreservesKeyOrder(t *testing.T) {
	k := ShardKey{{Field: "b", Value: 0}, {Field: "a", Value: 0}}
	doc := Document{"a": 1, "b": 2}
	proj := Project(doc, k)
	if proj[0].Field != "b" || proj[0].Value != 2 {
		t.Fatalf("got %+v", proj[0])
	}
	if proj[1].Field != "a" || proj[1].Value != 1 {
		t.Fatalf("got %+v", proj[1])
	}
}

func TestExtractID(t *testing.T) {
	id, ok := ExtractID(Document{"_id": "x"})
	if !ok || id != "x" {
		t.Fatalf("got %v, %v", id, ok)
	}
	if _, ok := ExtractID(Document{"other": 1}); ok {
		t.Fatal("expected no _id present")
	}
	if _, ok := ExtractID(nil); ok {
		t.Fatal("expected no _id present on nil document")
	}
}

func TestSortShardKeys(t *testing.T) {
	keys := []ShardKey{key(3), key(1), key(2)}
	SortShardKeys(keys)
	if Compare(keys[0], key(1)) != 0 || Compare(keys[1], key(2)) != 0 || Compare(keys[2], key(3)) != 0 {
		t.Fatalf("got %+v", keys)
	}
}
