package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// sessionHeader carries the session id across requests; a client omitting
// it gets a freshly minted session echoed back in the response.
const sessionHeader = "X-Session-Id"

// HTTPHandler exposes Server over plain net/http: one JSON-RPC message per
// POST to /rpc, and a server-sent-events stream of notifications at
// /notifications. No third-party HTTP framework is used — transport framing
// itself (stdio/SSE/HTTP) is an interchangeable front end, so the binding
// stays deliberately thin.
type HTTPHandler struct {
	server *Server
}

// NewHTTPHandler wraps server for net/http.
func NewHTTPHandler(server *Server) *HTTPHandler {
	return &HTTPHandler{server: server}
}

// Mux builds a ServeMux with /rpc and /notifications registered.
func (h *HTTPHandler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", h.handleRPC)
	mux.HandleFunc("/notifications", h.handleNotifications)
	return mux
}

func (h *HTTPHandler) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sessionID := h.server.OpenSession(r.Header.Get(sessionHeader))
	w.Header().Set(sessionHeader, sessionID)

	req, err := UnmarshalRequest(body)
	if err != nil {
		rpcErr, _ := err.(*RPCError)
		writeJSON(w, NewErrorResponse(nil, rpcErr.Code, rpcErr.Message, rpcErr.Data))
		return
	}

	resp := h.server.Handle(r.Context(), sessionID, req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, resp)
}

func (h *HTTPHandler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sessionID := h.server.OpenSession(r.URL.Query().Get("session"))
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(sessionHeader, sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.server.Notifications(sessionID)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.server.CloseSession(sessionID)
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

// ServeStdio reads newline-delimited JSON-RPC messages from r and writes
// responses to w, for the stdio transport binding (
// "stdio / streaming HTTP" pair). Blocks until r is exhausted or errors.
func ServeStdio(server *Server, sessionID string, r io.Reader, w io.Writer) error {
	return stdioLoop(server, sessionID, r, w)
}

func stdioLoop(server *Server, sessionID string, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		req, err := UnmarshalRequest(line)
		if err != nil {
			rpcErr, _ := err.(*RPCError)
			if encErr := writeStdioResponse(w, NewErrorResponse(nil, rpcErr.Code, rpcErr.Message, rpcErr.Data)); encErr != nil {
				return encErr
			}
			continue
		}
		resp := server.Handle(context.Background(), sessionID, req)
		if resp == nil {
			continue
		}
		if err := writeStdioResponse(w, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func writeStdioResponse(w io.Writer, resp *Response) error {
	data, err := Marshal(resp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
