package utils

import (
	"reflect"
	"testing"
)

func TestJoinInts(t *testing.T) {
	if got := JoinInts([]int{3, 1, 3, 2}); got != "1,2,3" {
		t.Fatalf("got %q", got)
	}
	if got := JoinInts(nil); got != "" {
		t.Fatalf("empty: got %q", got)
	}
}

func TestSplitInts(t *testing.T) {
	ids, err := SplitInts(" 4, 5 ,6")
	if err != nil {
		t.Fatalf("SplitInts: %v", err)
	}
	if !reflect.DeepEqual(ids, []int{4, 5, 6}) {
		t.Fatalf("got %v", ids)
	}
	if ids, err := SplitInts(""); err != nil || ids != nil {
		t.Fatalf("empty: got %v, %v", ids, err)
	}
	if _, err := SplitInts("1,x"); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
}
