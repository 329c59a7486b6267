package resilience

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"testing"
)

func decodeProblem(t *testing.T, resp *Response) Problem {
	t.Helper()
	var p Problem
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		t.Fatalf("decode problem body: %v", err)
	}
	return p
}

func TestFallbackForCatalogLookup(t *testing.T) {
	resp := FallbackFor("catalog:getproducts")

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderFallback) != "true" {
		t.Fatalf("missing %s header", HeaderFallback)
	}
	if resp.Header.Get(HeaderErrorCode) != "catalog-unavailable" {
		t.Fatalf("unexpected error code: %s", resp.Header.Get(HeaderErrorCode))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	p := decodeProblem(t, resp)
	if !strings.HasSuffix(p.Type, "catalog-unavailable") {
		t.Fatalf("unexpected problem type: %s", p.Type)
	}
	if p.Status != http.StatusServiceUnavailable {
		t.Fatalf("problem status %d does not match response", p.Status)
	}
}

func TestFallbackStockCheckDegradesToPending(t *testing.T) {
	resp := FallbackFor("inventory:checkstock")

	// Stock unavailability is deliberately a 200 with a pending body.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderErrorCode) != "stock-pending" {
		t.Fatalf("unexpected error code: %s", resp.Header.Get(HeaderErrorCode))
	}
}

func TestFallbackSessionExpires(t *testing.T) {
	resp := FallbackFor("session:get")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderErrorCode) != "session-expired" {
		t.Fatalf("unexpected error code: %s", resp.Header.Get(HeaderErrorCode))
	}
}

func TestFallbackUnknownKeyUsesDefault(t *testing.T) {
	resp := FallbackFor("warehouse:teleport")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderErrorCode) != "service-degraded" {
		t.Fatalf("unexpected error code: %s", resp.Header.Get(HeaderErrorCode))
	}
	if !resp.Fallback() {
		t.Fatalf("substituted response must report Fallback()")
	}
}

func TestFallbackKeysAreStable(t *testing.T) {
	keys := FallbackKeys()
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("keys not sorted: %v", keys)
	}
	for _, want := range []string{"catalog:getproducts", "cart:additem", "payment:authorize", "inventory:checkstock", "session:get"} {
		found := false
		for _, k := range keys {
			if k == want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("catalog missing key %q: %v", want, keys)
		}
	}
}

func TestInferOperationKey(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/api/catalog/products", "catalog:getproducts"},
		{"GET", "/api/catalog/product", "catalog:getproduct"},
		{"POST", "/api/cart/items", "cart:additem"},
		{"POST", "/api/cart/deactivate", "cart:deactivate"},
		{"POST", "/api/payment/authorizations", "payment:authorize"},
		{"POST", "/api/payment/refunds", "payment:refund"},
		{"GET", "/api/inventory/stock", "inventory:checkstock"},
		{"POST", "/api/inventory/reservations", "inventory:reserve"},
		{"DELETE", "/api/inventory/reservations", "inventory:release"},
		{"POST", "/api/order/confirm", "order:confirm"},
		{"GET", "/api/session/session", "session:get"},
		{"GET", "/catalog/products", "catalog:getproducts"},
		{"PATCH", "/api/warehouse/bins", "warehouse:patchbins"},
		{"GET", "/", "unknown:unknown"},
	}
	for _, tc := range cases {
		if got := InferOperationKey(tc.method, tc.path); got != tc.want {
			t.Fatalf("InferOperationKey(%s, %s) = %s, want %s", tc.method, tc.path, got, tc.want)
		}
	}
}
