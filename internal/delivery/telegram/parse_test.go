package telegram

import (
	"reflect"
	"testing"
)

func TestCommandArgs(t *testing.T) {
	if args := commandArgs("/connect +33612345678"); len(args) != 1 || args[0] != "+33612345678" {
		t.Errorf("unexpected args: %v", args)
	}
	if args := commandArgs("/status"); args != nil {
		t.Errorf("expected nil args, got %v", args)
	}
	if args := commandArgs("/add_redirection  foot   100,101  200"); len(args) != 3 {
		t.Errorf("expected repeated spaces collapsed, got %v", args)
	}
}

func TestSplitOwner(t *testing.T) {
	rest, phone, err := splitOwner([]string{"foot", "100,101", "200", "on", "+33612345678"})
	if err != nil {
		t.Fatalf("splitOwner failed: %v", err)
	}
	if phone != "+33612345678" {
		t.Errorf("expected phone extracted, got %q", phone)
	}
	if !reflect.DeepEqual(rest, []string{"foot", "100,101", "200"}) {
		t.Errorf("unexpected rest: %v", rest)
	}

	if _, _, err := splitOwner([]string{"foot", "100", "200"}); err == nil {
		t.Error("expected error when 'on' clause is missing")
	}
	if _, _, err := splitOwner([]string{"foot", "on"}); err == nil {
		t.Error("expected error when phone after 'on' is missing")
	}
}

func TestParseIDList(t *testing.T) {
	ids, err := parseIDList("100, -1001234567890,300")
	if err != nil {
		t.Fatalf("parseIDList failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{100, -1001234567890, 300}) {
		t.Errorf("unexpected ids: %v", ids)
	}

	if _, err := parseIDList("100,abc"); err == nil {
		t.Error("expected error for non-numeric id")
	}
	if _, err := parseIDList(" , "); err == nil {
		t.Error("expected error for empty list")
	}
}
