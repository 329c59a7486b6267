package resilience

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Problem is an RFC-7807 style body substituted for a failed call. The status
// code is part of the contract: stock unavailability deliberately degrades to
// 200 with a pending body so clients do not cascade the failure.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

const problemTypeBase = "urn:baton:problem:"

// HeaderFallback marks a substituted response.
const HeaderFallback = "X-Fallback-Response"

// HeaderErrorCode carries the stable fallback slug.
const HeaderErrorCode = "X-Error-Code"

type fallbackEntry struct {
	slug   string
	title  string
	status int
	detail string
}

// The fallback catalog is a pure function of (service, operation): stable and
// enumerable so tests can assert the full surface.
var fallbackCatalog = map[string]fallbackEntry{
	"catalog:getproducts":  {"catalog-unavailable", "Catalog unavailable", http.StatusServiceUnavailable, "Product catalog is temporarily unavailable."},
	"catalog:getproduct":   {"catalog-unavailable", "Catalog unavailable", http.StatusServiceUnavailable, "Product catalog is temporarily unavailable."},
	"cart:additem":         {"cart-add-failed", "Cart add failed", http.StatusServiceUnavailable, "Item could not be added to the cart right now."},
	"cart:deactivate":      {"cart-unavailable", "Cart unavailable", http.StatusServiceUnavailable, "Cart service is temporarily unavailable."},
	"payment:authorize":    {"payment-unavailable", "Payment unavailable", http.StatusServiceUnavailable, "Payment service is temporarily unavailable."},
	"payment:refund":       {"payment-unavailable", "Payment unavailable", http.StatusServiceUnavailable, "Payment service is temporarily unavailable."},
	"inventory:checkstock": {"stock-pending", "Stock check pending", http.StatusOK, "Stock level could not be confirmed; treating availability as pending."},
	"inventory:reserve":    {"inventory-unavailable", "Inventory unavailable", http.StatusServiceUnavailable, "Inventory service is temporarily unavailable."},
	"inventory:release":    {"inventory-unavailable", "Inventory unavailable", http.StatusServiceUnavailable, "Inventory service is temporarily unavailable."},
	"order:confirm":        {"order-unavailable", "Order service unavailable", http.StatusServiceUnavailable, "Order service is temporarily unavailable."},
	"session:get":          {"session-expired", "Session expired", http.StatusUnauthorized, "The session could not be validated and is treated as expired."},
}

var defaultFallback = fallbackEntry{
	slug:   "service-degraded",
	title:  "Service temporarily degraded",
	status: http.StatusServiceUnavailable,
	detail: "The service is temporarily degraded; please retry later.",
}

// FallbackFor builds the substituted response for an operation key
// ("service:operation").
func FallbackFor(operationKey string) *Response {
	entry, ok := fallbackCatalog[operationKey]
	if !ok {
		entry = defaultFallback
	}
	body, _ := json.Marshal(Problem{
		Type:   problemTypeBase + entry.slug,
		Title:  entry.title,
		Status: entry.status,
		Detail: entry.detail,
	})
	header := http.Header{}
	header.Set("Content-Type", "application/problem+json")
	header.Set(HeaderFallback, "true")
	header.Set(HeaderErrorCode, entry.slug)
	return &Response{
		StatusCode: entry.status,
		Header:     header,
		Body:       body,
	}
}

// FallbackKeys enumerates the catalog's operation keys, sorted.
func FallbackKeys() []string {
	keys := make([]string, 0, len(fallbackCatalog))
	for k := range fallbackCatalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// operationAliases folds route-shaped keys onto catalog keys.
var operationAliases = map[string]string{
	"cart:postitems":               "cart:additem",
	"cart:postdeactivate":          "cart:deactivate",
	"payment:postauthorizations":   "payment:authorize",
	"payment:postrefunds":          "payment:refund",
	"inventory:getstock":           "inventory:checkstock",
	"inventory:postreservations":   "inventory:reserve",
	"inventory:deletereservations": "inventory:release",
	"order:postconfirm":            "order:confirm",
	"session:getsession":           "session:get",
}

// InferOperationKey derives "service:operation" from a request's method and
// path shape, e.g. GET /api/catalog/products -> catalog:getproducts. The
// result is stable for a given (method, path) pair.
func InferOperationKey(method, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 0 && parts[0] == "api" {
		parts = parts[1:]
	}
	if len(parts) == 0 || parts[0] == "" {
		return "unknown:unknown"
	}
	service := strings.ToLower(parts[0])
	verb := strings.ToLower(method)
	resource := service
	if len(parts) > 1 {
		resource = strings.ToLower(parts[len(parts)-1])
	}
	key := service + ":" + verb + resource
	if alias, ok := operationAliases[key]; ok {
		return alias
	}
	return key
}
