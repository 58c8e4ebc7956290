package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veilgate/veilgate/internal/events"
)

// sessionHeader carries the caller's session id so repeated turns share one
// token namespace. Without it each request gets its own session.
const sessionHeader = "X-Veilgate-Session"

// guardrail is the prompt-level instruction embedded into proxied chat
// requests. The provider is only instructed, not trusted; the reconciler
// still parses its output defensively.
const guardrail = "Some values in this conversation are replaced by placeholders shaped like " +
	"<TKN_CATEGORY_0123456789>. Treat each placeholder as an opaque name. Repeat placeholders " +
	"exactly as written when referring to them; never alter, expand, or invent placeholders."

// handleProviderProxy sanitizes the request body, forwards it upstream, and
// reconciles the response body on the way back. An empty upstream URL serves
// a deterministic mock response instead, so the gateway works without
// provider credentials.
func (s *Server) handleProviderProxy(w http.ResponseWriter, r *http.Request, prefix, provider, upstream string) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		sessionID = requestID
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read request body", zap.Error(err))
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	r.Body.Close()

	if len(body) > 0 {
		result := s.engine.Sanitize(r.Context(), sessionID, string(body))
		if len(result.Events) > 0 {
			log.Info("request sanitized",
				zap.String("provider", provider),
				zap.Int("encoded", result.Encoded),
				zap.Int("matches", len(result.Events)),
			)
			s.hub.Broadcast(events.Event{
				Type:      events.TypeSanitize,
				SessionID: sessionID,
				Data:      sanitizePayload(result),
			})
		}
		body = injectGuardrail([]byte(result.SanitizedText))
	}

	if upstream == "" {
		s.serveMockResponse(w, r, sessionID, provider, body)
		return
	}

	target, err := url.Parse(upstream)
	if err != nil {
		log.Error("failed to parse upstream URL", zap.String("provider", provider), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	r.URL.Path = strings.TrimPrefix(r.URL.Path, prefix)
	if r.URL.Path == "" {
		r.URL.Path = "/"
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	// Identity encoding keeps the response body reconcilable.
	r.Header.Set("Accept-Encoding", "identity")
	r.Header.Del(sessionHeader)

	proxy := httputil.NewSingleHostReverseProxy(target)

	proxy.Director = func(req *http.Request) {
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
		req.Host = target.Host
		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "veilgate/0.1.0")
		}
	}

	proxy.ModifyResponse = func(resp *http.Response) error {
		return s.reconcileResponse(resp, sessionID)
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("proxy error", zap.String("provider", provider), zap.Error(err))
		http.Error(w, fmt.Sprintf("proxy error: %v", err), http.StatusBadGateway)
	}

	proxy.Transport = &http.Transport{
		ResponseHeaderTimeout: s.config.Upstream.Timeout,
	}

	start := time.Now()
	proxy.ServeHTTP(w, r)
	log.Debug("request proxied",
		zap.String("provider", provider),
		zap.Duration("upstream_duration", time.Since(start)),
	)
}

// reconcileResponse restores permitted placeholders in the upstream response.
func (s *Server) reconcileResponse(resp *http.Response, sessionID string) error {
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read upstream response: %w", err)
	}

	result := s.engine.Reconcile(resp.Request.Context(), sessionID, string(raw), false)
	if result.Decoded > 0 || len(result.Warnings) > 0 {
		s.hub.Broadcast(events.Event{
			Type:      events.TypeReconcile,
			SessionID: sessionID,
			Data: events.ReconcilePayload{
				Placeholders: len(result.Events),
				Decoded:      result.Decoded,
				Warnings:     len(result.Warnings),
			},
		})
	}

	decoded := []byte(result.DecodedText)
	resp.Body = io.NopCloser(bytes.NewReader(decoded))
	resp.ContentLength = int64(len(decoded))
	resp.Header.Set("Content-Length", strconv.Itoa(len(decoded)))
	return nil
}

// serveMockResponse answers a chat request locally, echoing the sanitized
// prompt back through the reconciler.
func (s *Server) serveMockResponse(w http.ResponseWriter, r *http.Request, sessionID, provider string, body []byte) {
	lastUser := lastUserContent(body)
	if len(lastUser) > 400 {
		lastUser = lastUser[:400]
	}

	text := fmt.Sprintf("[MOCK MODE] No %s upstream configured. Last received prompt: %s", provider, lastUser)
	result := s.engine.Reconcile(r.Context(), sessionID, text, false)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": provider,
		"mock":     true,
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": result.DecodedText}},
		},
	})
}

// injectGuardrail prepends the placeholder guardrail as a system message when
// the body is a chat-shaped JSON document. Anything else passes through
// untouched.
func injectGuardrail(body []byte) []byte {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}

	if system, ok := doc["system"].(string); ok {
		doc["system"] = guardrail + "\n\n" + system
	} else if messages, ok := doc["messages"].([]interface{}); ok {
		doc["messages"] = append([]interface{}{
			map[string]interface{}{"role": "system", "content": guardrail},
		}, messages...)
	} else {
		return body
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}

// lastUserContent extracts the trailing user message from a chat-shaped body.
func lastUserContent(body []byte) string {
	var doc struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	for i := len(doc.Messages) - 1; i >= 0; i-- {
		if doc.Messages[i].Role == "user" {
			return doc.Messages[i].Content
		}
	}
	return ""
}
