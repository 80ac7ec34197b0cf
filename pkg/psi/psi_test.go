package psi

import (
	"testing"
)

func TestNewItem(t *testing.T) {
	a := ItemFromString("alice@hello.com")
	b := NewItem([]byte("alice@hello.com"))
	if a != b {
		t.Fatalf("same value derived different items: %s != %s", a, b)
	}

	c := ItemFromString("bob@hello.com")
	if a == c {
		t.Fatalf("different values derived the same item %s", a)
	}
}

func TestItems(t *testing.T) {
	values := []string{"Amir", "Charlie", "Danny", "Eve"}
	items := Items(values...)
	if len(items) != len(values) {
		t.Fatalf("expected %d items, got %d", len(values), len(items))
	}
	for k, v := range values {
		if items[k] != ItemFromString(v) {
			t.Errorf("item %d does not match %s", k, v)
		}
	}
}
