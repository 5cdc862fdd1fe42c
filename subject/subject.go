/*
Package subject implements the dot-delimited addressing scheme shared by every service.

RPC handlers live at "{service}.rpc.{method}", fire-and-forget handlers at
"{service}.async.{method}". Event patterns may use two wildcard tokens: `*` matches
exactly one segment and `>` matches one or more trailing segments and must be last.
*/
package subject

import (
	"fmt"
	"strings"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

const (
	// Single matches exactly one segment.
	Single = "*"
	// Tail matches one or more trailing segments.
	Tail = ">"

	rpcInfix   = ".rpc."
	asyncInfix = ".async."
)

// RPC returns the subject an RPC method is reachable at.
func RPC(service, method string) string { return service + rpcInfix + method }

// Async returns the subject a fire-and-forget method is reachable at.
func Async(service, method string) string { return service + asyncInfix + method }

// RPCPattern matches every RPC subject of service.
func RPCPattern(service string) string { return service + rpcInfix + Tail }

// AsyncPattern matches every fire-and-forget subject of service.
func AsyncPattern(service string) string { return service + asyncInfix + Tail }

// Method returns the last token of subj, which names the method for RPC and async subjects.
func Method(subj string) string {
	if i := strings.LastIndexByte(subj, '.'); i >= 0 {
		return subj[i+1:]
	}
	return subj
}

// Match reports whether subj matches pattern.
//
// Segment counts must agree unless the pattern ends in `>`. Tokens are compared left
// to right: `>` matches the rest, `*` consumes one subject token, literals must be equal.
func Match(pattern, subj string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subj, ".")

	if len(pt) != len(st) && pt[len(pt)-1] != Tail {
		return false
	}

	for i, tok := range pt {
		if i >= len(st) {
			return false
		}

		switch tok {
		case Tail:
			return true
		case Single:
			continue
		default:
			if tok != st[i] {
				return false
			}
		}
	}

	return len(pt) == len(st)
}

// ValidatePattern checks that pattern is a well-formed subscription pattern.
func ValidatePattern(pattern string) error {
	toks, err := split(pattern)
	if err != nil {
		return err
	}

	for i, tok := range toks {
		if tok == Tail && i != len(toks)-1 {
			return fmt.Errorf("pattern %q: %q must be the last token: %w", pattern, Tail, berr.ErrInvalidSubject)
		}

		if tok != Tail && tok != Single && strings.ContainsAny(tok, "*>") {
			return fmt.Errorf("pattern %q: wildcard inside token %q: %w", pattern, tok, berr.ErrInvalidSubject)
		}
	}

	return nil
}

// ValidateSubject checks that subj is a concrete, publishable subject.
func ValidateSubject(subj string) error {
	toks, err := split(subj)
	if err != nil {
		return err
	}

	for _, tok := range toks {
		if strings.ContainsAny(tok, "*>") {
			return fmt.Errorf("subject %q: wildcards are not publishable: %w", subj, berr.ErrInvalidSubject)
		}
	}

	return nil
}

func split(s string) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("empty subject: %w", berr.ErrInvalidSubject)
	}

	if strings.ContainsAny(s, " \t\r\n") {
		return nil, fmt.Errorf("subject %q: whitespace: %w", s, berr.ErrInvalidSubject)
	}

	toks := strings.Split(s, ".")
	for _, tok := range toks {
		if tok == "" {
			return nil, fmt.Errorf("subject %q: empty segment: %w", s, berr.ErrInvalidSubject)
		}
	}

	return toks, nil
}
