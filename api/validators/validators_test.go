package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
)

type sampleBody struct {
	PlanID string `json:"planId" validate:"required,max=8"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"planId":""}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok || details["planId"] != "is required" {
		t.Fatalf("unexpected details %#v", typed.Details())
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"planId":"pro","extra":1}`))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); err == nil {
		t.Fatal("expected unknown field rejection")
	}
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestPathID(t *testing.T) {
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "customerId", "  cust-1 ")
	got, err := PathID(req, "customerId")
	if err != nil || got != "cust-1" {
		t.Fatalf("expected cust-1, got %q err=%v", got, err)
	}

	req = withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "customerId", " ")
	if _, err := PathID(req, "customerId"); err == nil {
		t.Fatal("expected error for blank id")
	}
}

func TestDecodeJSONBodyTrimsStringsBeforeValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"planId":"   "}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("blank after trim should fail required, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"planId":" pro "}`))
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.PlanID != "pro" {
		t.Fatalf("expected trimmed value, got %q", body.PlanID)
	}
}

func TestDecodeJSONBodyRejectsEmptyAndTrailingData(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":    ``,
		"trailing": `{"planId":"pro"}{"planId":"max"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		var body sampleBody
		if err := DecodeJSONBody(req, &body); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	if got := SanitizeString(" héllo\x00 ", 2); got != "h" {
		t.Fatalf("expected rune-safe cut, got %q", got)
	}
	if got := SanitizeString("a\tb", 0); got != "ab" {
		t.Fatalf("expected control characters dropped, got %q", got)
	}
}

type keyedBody struct {
	Key string `json:"idempotencyKey" validate:"required,idemkey"`
}

func TestIdempotencyKeyTag(t *testing.T) {
	cases := []struct {
		raw string
		ok  bool
	}{
		{raw: `{"idempotencyKey":"order-42_retry.1"}`, ok: true},
		{raw: `{"idempotencyKey":"has space"}`},
		{raw: `{"idempotencyKey":"` + strings.Repeat("k", 256) + `"}`},
	}
	for _, tc := range cases {
		raw, ok := tc.raw, tc.ok
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		var body keyedBody
		err := DecodeJSONBody(req, &body)
		if ok && err != nil {
			t.Fatalf("%s: unexpected error %v", raw, err)
		}
		if !ok {
			typed := pkgerrors.As(err)
			if typed == nil {
				t.Fatalf("%s: expected validation error", raw)
			}
			if details, _ := typed.Details().(map[string]string); details["idempotencyKey"] == "" {
				t.Fatalf("%s: expected idempotencyKey detail, got %#v", raw, typed.Details())
			}
		}
	}
}
