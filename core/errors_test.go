package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestDefaultErrorMapper_AssignsStableCodes(t *testing.T) {
	mapped := DefaultErrorMapper(fmt.Errorf("lookup: %w", ErrEventNotFound))
	if mapped.TextCode != ErrorCodeNotFound {
		t.Fatalf("expected not found text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", mapped.Code)
	}

	mapped = DefaultErrorMapper(ErrEventIDRequired)
	if mapped.TextCode != ErrorCodeMissingEventID || mapped.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected missing event id bad input, got %q/%q", mapped.TextCode, mapped.Category)
	}

	mapped = DefaultErrorMapper(ErrInvalidEventStatusTransition)
	if mapped.Category != goerrors.CategoryConflict || mapped.Code != http.StatusConflict {
		t.Fatalf("expected conflict, got %q/%d", mapped.Category, mapped.Code)
	}

	mapped = DefaultErrorMapper(stderrors.New("webhooks: signature mismatch"))
	if mapped.TextCode != ErrorCodeInvalidSignature || mapped.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid signature mapping, got %q/%d", mapped.TextCode, mapped.Code)
	}
}

func TestDefaultErrorMapper_KeepsRichErrors(t *testing.T) {
	rich := goerrors.New("custom", goerrors.CategoryRateLimit).WithTextCode("CUSTOM")
	mapped := DefaultErrorMapper(rich)
	if mapped.TextCode != "CUSTOM" {
		t.Fatalf("expected text code preserved, got %q", mapped.TextCode)
	}
	if mapped.Code == 0 {
		t.Fatalf("expected http code to be filled in")
	}
}

func TestServiceMethods_MapStoreErrors(t *testing.T) {
	store := &flakyStore{MemoryEventStore: newTestStore(t), claimErr: ErrEventNotFound}
	svc := newTestService(t, store)
	event := seedEvent(t, store, "evt_map", "email.sent")

	_, err := svc.ProcessEvent(context.Background(), event, nil)
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorCodeNotFound {
		t.Fatalf("expected not found text code, got %q", richErr.TextCode)
	}
}

func TestWrapError_FillsEnvelope(t *testing.T) {
	wrapped := WrapError(stderrors.New("disk full"), goerrors.CategoryInternal, "store failed", ErrorCodeInternal)
	if wrapped.TextCode != ErrorCodeInternal {
		t.Fatalf("expected internal text code, got %q", wrapped.TextCode)
	}
	if wrapped.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", wrapped.Code)
	}
}
