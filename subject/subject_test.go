package subject_test

import (
	"errors"
	"strings"
	"testing"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/subject"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		subj    string
		want    bool
	}{
		{"orders.created", "orders.created", true},
		{"orders.created", "orders.updated", false},
		{"orders.created", "orders.created.eu", false},
		{"orders.*", "orders.created", true},
		{"orders.*", "orders", false},
		{"orders.*", "orders.created.eu", false},
		{"*.created", "orders.created", true},
		{"orders.*.eu", "orders.created.eu", true},
		{"orders.*.eu", "orders.created.us", false},
		{"orders.>", "orders.created", true},
		{"orders.>", "orders.created.eu.1", true},
		{"orders.>", "orders", false},
		{">", "anything.at.all", true},
		{"accounts.*.>", "accounts.debited.ACC-1", true},
		{"accounts.*.>", "accounts.debited", false},
		{"*", "a.b", false},
	}

	for _, tc := range tests {
		if got := subject.Match(tc.pattern, tc.subj); got != tc.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tc.pattern, tc.subj, got, tc.want)
		}
	}
}

func TestMatch_LiteralPatternsAreEquality(t *testing.T) {
	subjects := []string{"a", "a.b", "a.b.c", "b.a", "a.c", "x.y.z"}
	for _, p := range subjects {
		for _, s := range subjects {
			if got := subject.Match(p, s); got != (p == s) {
				t.Fatalf("Match(%q, %q) = %v, want %v", p, s, got, p == s)
			}
		}
	}
}

func TestMatch_TailIgnoresSubjectLength(t *testing.T) {
	for n := 1; n <= 8; n++ {
		subj := "events.user" + strings.Repeat(".x", n)
		if !subject.Match("events.user.>", subj) {
			t.Fatalf("tail pattern should match %q", subj)
		}
	}

	if subject.Match("events.user.>", "events.admin.x") {
		t.Fatalf("tail pattern must still compare the leading segments")
	}
}

func TestAddressing(t *testing.T) {
	if got := subject.RPC("accounts", "debit"); got != "accounts.rpc.debit" {
		t.Fatalf("rpc subject: %s", got)
	}

	if got := subject.Async("accounts", "audit"); got != "accounts.async.audit" {
		t.Fatalf("async subject: %s", got)
	}

	if !subject.Match(subject.RPCPattern("accounts"), "accounts.rpc.debit") {
		t.Fatalf("rpc pattern should match rpc subject")
	}

	if subject.Match(subject.RPCPattern("accounts"), "accounts.async.debit") {
		t.Fatalf("rpc pattern must not match async subject")
	}

	if got := subject.Method("accounts.rpc.debit"); got != "debit" {
		t.Fatalf("method: %s", got)
	}

	if got := subject.Method("plain"); got != "plain" {
		t.Fatalf("method of single token: %s", got)
	}
}

func TestValidate(t *testing.T) {
	good := []string{"a", "a.b", "a.*", "a.>", "*.b.>", ">"}
	for _, p := range good {
		if err := subject.ValidatePattern(p); err != nil {
			t.Fatalf("pattern %q: %v", p, err)
		}
	}

	bad := []string{"", "a..b", "a.>.b", "a.b*", "a b", ".a", "a."}
	for _, p := range bad {
		if err := subject.ValidatePattern(p); !errors.Is(err, berr.ErrInvalidSubject) {
			t.Fatalf("pattern %q: want ErrInvalidSubject, got %v", p, err)
		}
	}

	if err := subject.ValidateSubject("orders.created"); err != nil {
		t.Fatalf("subject: %v", err)
	}

	if err := subject.ValidateSubject("orders.*"); !errors.Is(err, berr.ErrInvalidSubject) {
		t.Fatalf("wildcard subject should be rejected, got %v", err)
	}
}
