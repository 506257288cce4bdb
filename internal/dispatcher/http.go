package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/brrtrouter/brrtrouter/internal/handler"
)

// HTTPHandler bridges net/http onto a Dispatcher -- the seam where a
// front-end HTTP server plugs in. BRRTRouter implements it directly
// against net/http since it does not ship a hand-rolled socket parser.
func HTTPHandler(d *Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := requestFromHTTP(r)
		resp := d.Handle(r.Context(), req)
		writeHTTPResponse(w, resp)
	})
}

func requestFromHTTP(r *http.Request) *handler.Request {
	query := r.URL.Query()
	queryFirst := make(map[string]string, len(query))
	for k := range query {
		queryFirst[k] = query.Get(k)
	}

	header := make(map[string]string, len(r.Header))
	for k := range r.Header {
		header[k] = r.Header.Get(k)
	}

	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}

	return &handler.Request{
		Context:       r.Context(),
		Method:        r.Method,
		Path:          r.URL.Path,
		Header:        header,
		Cookie:        cookies,
		QueryParams:   queryFirst,
		RawQuery:      map[string][]string(query),
		PathParams:    make(map[string]string),
		BodyReader:    r.Body,
		ContentLength: r.ContentLength,
	}
}

func writeHTTPResponse(w http.ResponseWriter, resp *handler.Response) {
	if resp == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for k, v := range resp.Header {
		w.Header().Set(k, v)
	}

	switch resp.BodyKind {
	case handler.BodySSE:
		writeSSE(w, resp)
	case handler.BodyBytes:
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Bytes)
	case handler.BodyJSON:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		_ = json.NewEncoder(w).Encode(resp.JSON)
	default:
		w.WriteHeader(resp.Status)
	}
}

// writeSSE drains resp.SSE only after the handler has returned (the
// channel is produced by handler.SSEResponse before Submit's reply fires),
// flushing each pre-framed event as it arrives.
func writeSSE(w http.ResponseWriter, resp *handler.Response) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/event-stream")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.Status)

	flusher, canFlush := w.(http.Flusher)
	for event := range resp.SSE {
		_, _ = w.Write([]byte(event))
		if canFlush {
			flusher.Flush()
		}
	}
}
