package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/dialwire/dialwire/pkg/core"
)

func TestFromErrorNil(t *testing.T) {
	coreErr, status := FromError(nil, "req_1")
	if coreErr != nil || status != http.StatusOK {
		t.Fatalf("got %v %d", coreErr, status)
	}
}

func TestFromErrorCanonical(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{core.NewConflictError(core.CodeCallInProgress, "busy"), http.StatusConflict, core.CodeCallInProgress},
		{core.NewPreconditionError(core.CodeElevenLabsKeyMissing, "no key"), http.StatusUnprocessableEntity, core.CodeElevenLabsKeyMissing},
		{core.NewNotFoundError(core.CodeProfileNotFound, "nope"), http.StatusNotFound, core.CodeProfileNotFound},
		{core.NewTimeoutError("too slow"), http.StatusGatewayTimeout, core.CodeRequestTimeout},
		{core.NewProviderError(core.CodeTwilioAPIError, "upstream", nil), http.StatusBadGateway, core.CodeTwilioAPIError},
		{core.NewInvalidRequestErrorWithParam("bad", "phone"), http.StatusBadRequest, ""},
		{core.NewAuthenticationError("who"), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		coreErr, status := FromError(tc.err, "req_1")
		if status != tc.wantStatus {
			t.Errorf("%v: status=%d, want %d", tc.err, status, tc.wantStatus)
		}
		if coreErr.Code != tc.wantCode {
			t.Errorf("%v: code=%q, want %q", tc.err, coreErr.Code, tc.wantCode)
		}
		if coreErr.RequestID != "req_1" {
			t.Errorf("%v: request id not stamped", tc.err)
		}
	}
}

func TestFromErrorWrapped(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", core.NewConflictError(core.CodeCallInProgress, "busy"))
	coreErr, status := FromError(wrapped, "req_2")
	if status != http.StatusConflict || coreErr.Code != core.CodeCallInProgress {
		t.Fatalf("wrapped: %d %q", status, coreErr.Code)
	}
}

func TestFromErrorContext(t *testing.T) {
	coreErr, status := FromError(context.DeadlineExceeded, "req_3")
	if status != http.StatusGatewayTimeout || coreErr.Code != core.CodeRequestTimeout {
		t.Fatalf("deadline: %d %q", status, coreErr.Code)
	}
	_, status = FromError(context.Canceled, "req_3")
	if status != http.StatusRequestTimeout {
		t.Fatalf("canceled: %d", status)
	}
}

func TestFromErrorUnknownDoesNotLeak(t *testing.T) {
	coreErr, status := FromError(errors.New("pgx: connection refused to 10.0.0.5"), "req_4")
	if status != http.StatusInternalServerError {
		t.Fatalf("status=%d", status)
	}
	if coreErr.Message != "internal error" {
		t.Fatalf("leaked: %q", coreErr.Message)
	}
}
