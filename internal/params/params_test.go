package params

import "testing"

func TestValidateAccepts(t *testing.T) {
	ok := Validate([]Param{{Key: "ns", Value: "prod"}, {Key: "pod", Value: "my-pod_1"}})
	if !ok {
		t.Fatal("expected valid params to pass")
	}
}

func TestValidateRejectsBadByte(t *testing.T) {
	ok := Validate([]Param{{Key: "ns", Value: "prod"}, {Key: "pod", Value: "my pod"}})
	if ok {
		t.Fatal("expected a value containing a space to fail validation")
	}
}

func TestValidateRejectsEmptyKeyOrValue(t *testing.T) {
	if Validate([]Param{{Key: "", Value: "x"}}) {
		t.Error("expected empty key to fail")
	}
	if Validate([]Param{{Key: "x", Value: ""}}) {
		t.Error("expected empty value to fail")
	}
}

func TestValidateWholeRequestRejection(t *testing.T) {
	ok := Validate([]Param{{Key: "ns", Value: "prod"}, {Key: "pod", Value: "bad;rm"}})
	if ok {
		t.Fatal("a single invalid param must fail the whole request")
	}
}

func TestLookup(t *testing.T) {
	list := []Param{{Key: "ns", Value: "prod"}}
	if v, ok := Lookup(list, "ns"); !ok || v != "prod" {
		t.Errorf("Lookup(ns) = %q, %v", v, ok)
	}
	if _, ok := Lookup(list, "pod"); ok {
		t.Error("expected missing key to report not found")
	}
}
