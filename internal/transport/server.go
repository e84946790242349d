package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skillkernel/kernel/internal/executor"
	"github.com/skillkernel/kernel/internal/logging"
	"github.com/skillkernel/kernel/internal/reactor"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
)

// Catalog is the dispatch-map view the Transport Adapter needs for
// tools/list; SkillContext.DispatchSnapshot satisfies it.
type Catalog interface {
	DispatchSnapshot() []domain.ToolCommand
}

// Router ranks the catalog against a free-text task for tools/list;
// Kernel.Route satisfies it. Optional: when none is installed (or a
// request carries no "task" param), tools/list falls back to the full
// unranked dispatch snapshot.
type Router interface {
	Route(ctx context.Context, task, cwd string) ([]RouterHit, error)
}

// RouterHit is one ranked, fully-qualified tool name, mirroring
// router.Hit without importing the router package from transport.
type RouterHit struct {
	FQName string
	Score  float64
}

// Option customizes Server construction.
type Option func(*Server)

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithServerInfo overrides the name/version initialize reports.
func WithServerInfo(name, version string) Option {
	return func(s *Server) {
		if name != "" {
			s.serverName = name
		}
		if version != "" {
			s.serverVersion = version
		}
	}
}

// WithSessionTimeout overrides the default per-call session timeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.sessionTimeout = d
		}
	}
}

// WithRouter installs a Router so tools/list ranks the catalog when a
// request carries a "task" param. Omit to always return the full,
// unranked dispatch snapshot.
func WithRouter(router Router) Option {
	return func(s *Server) { s.router = router }
}

const protocolVersion = "2024-11-05"

// session tracks one connected client's in-flight calls and its
// notification sink.
type session struct {
	id       string
	lastSeen time.Time

	mu      sync.Mutex
	pending map[any]context.CancelFunc
	notify  chan []byte
}

func newSession(id string) *session {
	return &session{
		id:       id,
		lastSeen: time.Now(),
		pending:  make(map[any]context.CancelFunc),
		notify:   make(chan []byte, 16),
	}
}

func (s *session) track(id any, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = cancel
}

func (s *session) untrack(id any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// abort cancels a specific in-flight call. Reports whether it found one.
func (s *session) abort(id any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.pending[id]
	if ok {
		cancel()
		delete(s.pending, id)
	}
	return ok
}

// Server implements the MCP surface: initialize,
// tools/list, tools/call, and the notifications/tools/list_changed push,
// transport-framing-agnostic so stdio/HTTP/SSE bindings share one core.
type Server struct {
	logger        logging.Logger
	exec          *executor.Executor
	catalog       Catalog
	router        Router
	serverName    string
	serverVersion string
	sessionTimeout time.Duration

	mu           sync.Mutex
	sessions     map[string]*session
	lastToolSet  map[string]struct{}
}

// New constructs a Server over the given Executor and tool catalog.
func New(exec *executor.Executor, catalog Catalog, opts ...Option) *Server {
	s := &Server{
		logger:         logging.NewComponentLogger("Transport"),
		exec:           exec,
		catalog:        catalog,
		serverName:     "skillkernel",
		serverVersion:  "0.1.0",
		sessionTimeout: 60 * time.Second,
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSession creates (or, if id already exists, returns) a session,
// assigning a new id via uuid when id is empty.
func (s *Server) OpenSession(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := s.sessions[id]; !ok {
		s.sessions[id] = newSession(id)
	}
	return id
}

// CloseSession aborts any in-flight calls and drops the session.
func (s *Server) CloseSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	for _, cancel := range sess.pending {
		cancel()
	}
	sess.mu.Unlock()
	close(sess.notify)
}

// Abort cancels one in-flight call within a session by its request id.
func (s *Server) Abort(sessionID string, requestID any) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return sess.abort(requestID)
}

func (s *Server) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = newSession(id)
		s.sessions[id] = sess
	}
	sess.lastSeen = time.Now()
	return sess
}

// Notifications returns the channel a transport binding should drain to
// push server-initiated messages (e.g. notifications/tools/list_changed)
// to this session.
func (s *Server) Notifications(sessionID string) <-chan []byte {
	return s.session(sessionID).notify
}

// Handle dispatches one JSON-RPC request within sessionID, blocking until
// the call completes, the session timeout elapses, or the call is
// aborted. Returns nil for a notification (no response expected).
func (s *Server) Handle(ctx context.Context, sessionID string, req *Request) *Response {
	sess := s.session(sessionID)

	switch req.Method {
	case "initialize":
		resp := s.handleInitialize(req)
		if req.IsNotification() {
			return nil
		}
		return resp
	case "tools/list":
		resp := s.handleToolsList(ctx, req)
		if req.IsNotification() {
			return nil
		}
		return resp
	case "tools/call":
		callCtx, cancel := context.WithTimeout(ctx, s.sessionTimeout)
		defer cancel()
		if req.ID != nil {
			sess.track(req.ID, cancel)
			defer sess.untrack(req.ID)
		}
		resp := s.handleToolsCall(callCtx, req)
		if req.IsNotification() {
			return nil
		}
		return resp
	default:
		if req.IsNotification() {
			return nil
		}
		return NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	result := map[string]any{
		"serverName":      s.serverName,
		"serverVersion":   s.serverVersion,
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":         map[string]any{"listChanged": true},
			"notifications": map[string]any{"tools": true},
		},
	}
	return NewResponse(req.ID, result)
}

// handleToolsList returns the full dispatch snapshot by default. If the
// request carries a non-empty "task" param and a Router is installed, the
// snapshot is ranked and trimmed via Router.Route instead; an optional
// "cwd" param is passed through for the Router's sniffer merge.
func (s *Server) handleToolsList(ctx context.Context, req *Request) *Response {
	commands := s.catalog.DispatchSnapshot()
	task, _ := req.Params["task"].(string)

	if task != "" && s.router != nil {
		cwd, _ := req.Params["cwd"].(string)
		hits, err := s.router.Route(ctx, task, cwd)
		if err != nil {
			return NewErrorResponse(req.ID, InternalError, "failed to route tools", err.Error())
		}
		byName := make(map[string]domain.ToolCommand, len(commands))
		for _, cmd := range commands {
			byName[cmd.FQName] = cmd
		}
		tools := make([]map[string]any, 0, len(hits))
		for _, hit := range hits {
			cmd, ok := byName[hit.FQName]
			if !ok {
				continue
			}
			tools = append(tools, map[string]any{
				"name":        cmd.FQName,
				"description": cmd.Description,
				"inputSchema": cmd.Parameters,
				"score":       hit.Score,
			})
		}
		return NewResponse(req.ID, map[string]any{"tools": tools})
	}

	tools := make([]map[string]any, 0, len(commands))
	for _, cmd := range commands {
		tools = append(tools, map[string]any{
			"name":        cmd.FQName,
			"description": cmd.Description,
			"inputSchema": cmd.Parameters,
		})
	}
	return NewResponse(req.ID, map[string]any{"tools": tools})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	name, _ := req.Params["name"].(string)
	if name == "" {
		return NewErrorResponse(req.ID, InvalidParams, "params.name is required", nil)
	}
	arguments, _ := req.Params["arguments"].(map[string]any)

	result := s.exec.Execute(ctx, name, arguments)

	serialized, err := Marshal(result)
	if err != nil {
		return NewErrorResponse(req.ID, InternalError, "failed to serialize tool response", err.Error())
	}
	content := map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(serialized)}},
	}
	return NewResponse(req.ID, content)
}

// WatchCatalog subscribes to index.updated and pushes
// notifications/tools/list_changed to every connected session whenever the
// tool set actually changed.
func (s *Server) WatchCatalog(r *reactor.Reactor) {
	r.Subscribe(domain.TopicIndexUpdated, 0, func(ev reactor.Event) {
		payload, ok := ev.Payload.(domain.IndexUpdatedPayload)
		if !ok || !payload.ToolsChanged {
			return
		}
		s.broadcastListChanged()
	})
}

func (s *Server) broadcastListChanged() {
	notif := NewNotification("notifications/tools/list_changed", nil)
	data, err := Marshal(notif)
	if err != nil {
		s.logger.Error("failed to marshal list_changed notification: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		select {
		case sess.notify <- data:
		default:
			s.logger.Warn("session %s notification channel full, dropping list_changed", sess.id)
		}
	}
}
