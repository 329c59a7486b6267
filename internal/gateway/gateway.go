package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"baton/internal/resilience"

	"go.uber.org/zap"
)

// Gateway is the storefront-facing HTTP front. It forwards /api/{service}/...
// requests to the named backend through the resilience pipeline, so callers
// see either the backend's response or the operation's fallback, never a raw
// transport error.
type Gateway struct {
	pipeline *resilience.Pipeline
	backends map[string]string
	client   *http.Client
	log      *zap.Logger
}

// New constructs a gateway over the given backend base URLs, keyed by service
// name ("catalog", "cart", "payment", ...).
func New(pipeline *resilience.Pipeline, backends map[string]string, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		pipeline: pipeline,
		backends: backends,
		// The pipeline owns the per-call deadline; the client timeout is only
		// a hard upper bound against leaked connections.
		client: &http.Client{Timeout: 2 * time.Minute},
		log:    log,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	service, rest, ok := splitAPIPath(r.URL.Path)
	if !ok {
		writeProblem(w, http.StatusNotFound, "not-found", "No such route.")
		return
	}
	base, ok := g.backends[service]
	if !ok {
		writeProblem(w, http.StatusNotFound, "unknown-service", "No backend is configured for this service.")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeProblem(w, http.StatusRequestEntityTooLarge, "body-too-large", "Request body exceeds the limit.")
		return
	}

	req := resilience.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   body,
	}
	target := base + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	resp, err := g.pipeline.Invoke(r.Context(), req, func(ctx context.Context) (*resilience.Response, error) {
		return g.forward(ctx, r, target, body)
	})
	if err != nil {
		// Only caller cancellation escapes the pipeline.
		g.log.Debug("gateway call canceled",
			zap.String("operation", req.OperationKey()),
			zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (g *Gateway) forward(ctx context.Context, in *http.Request, target string, body []byte) (*resilience.Response, error) {
	out, err := http.NewRequestWithContext(ctx, in.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"Content-Type", "Accept", "Authorization", "Idempotency-Key", "X-Correlation-Id"} {
		if v := in.Header.Get(name); v != "" {
			out.Header.Set(name, v)
		}
	}

	resp, err := g.client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &resilience.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// splitAPIPath returns the service segment and the remainder of an
// /api/{service}/... path. The remainder keeps its leading slash.
func splitAPIPath(path string) (string, string, bool) {
	trimmed := strings.TrimPrefix(path, "/api/")
	if trimmed == path {
		return "", "", false
	}
	service, rest, _ := strings.Cut(trimmed, "/")
	if service == "" {
		return "", "", false
	}
	return service, "/" + rest, true
}

func writeProblem(w http.ResponseWriter, status int, slug, detail string) {
	body, _ := json.Marshal(resilience.Problem{
		Type:   "urn:baton:problem:" + slug,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
