package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodePublishFailed)
	if e.Error() != berr.ErrCodePublishFailed {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrHandlerExists, berr.ErrCodeHandlerExists},
		{berr.ErrHandlerNotFound, berr.ErrCodeHandlerNotFound},
		{berr.ErrUnknownMethod, berr.ErrCodeUnknownMethod},
		{berr.ErrInvalidSubject, berr.ErrCodeInvalidSubject},
		{berr.ErrTransportNotConfigured, berr.ErrCodeTransportNotConfigured},
		{berr.ErrPublishFailed, berr.ErrCodePublishFailed},
		{berr.ErrRequestFailed, berr.ErrCodeRequestFailed},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
		{berr.ErrRemoteTimeout, berr.ErrCodeRemoteTimeout},
		{berr.ErrRemote, berr.ErrCodeRemote},
		{berr.ErrNoResponders, berr.ErrCodeNoResponders},
		{berr.ErrClosed, berr.ErrCodeClosed},
		{berr.ErrUnknownSaga, berr.ErrCodeUnknownSaga},
		{berr.ErrInvalidSaga, berr.ErrCodeInvalidSaga},
		{berr.ErrSagaNotFound, berr.ErrCodeSagaNotFound},
		{berr.ErrStepFailed, berr.ErrCodeStepFailed},
		{berr.ErrJournalFailed, berr.ErrCodeJournalFailed},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestTypedRemoteErrors(t *testing.T) {
	var err error = &berr.TimeoutError{Service: "accounts", Method: "debit", Timeout: 2 * time.Second}

	wrapped := fmt.Errorf("step debit: %w", err)
	if !errors.Is(wrapped, berr.ErrRemoteTimeout) {
		t.Fatalf("timeout error should match ErrRemoteTimeout")
	}

	if errors.Is(wrapped, berr.ErrRemote) {
		t.Fatalf("timeout error must not match ErrRemote")
	}

	if !strings.Contains(err.Error(), "accounts.debit") {
		t.Fatalf("timeout message should name target: %s", err)
	}

	var te *berr.TimeoutError
	if !errors.As(wrapped, &te) || te.Timeout != 2*time.Second {
		t.Fatalf("errors.As timeout: %+v", te)
	}

	remote := fmt.Errorf("call: %w", &berr.RemoteError{Service: "accounts", Method: "credit", Message: "account ACC-2 not found"})
	if !errors.Is(remote, berr.ErrRemote) {
		t.Fatalf("remote error should match ErrRemote")
	}

	var re *berr.RemoteError
	if !errors.As(remote, &re) || re.Message != "account ACC-2 not found" {
		t.Fatalf("errors.As remote: %+v", re)
	}
}
