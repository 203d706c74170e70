package http

import (
	"bytes"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/realtime"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, p := range []domain.Person{
		{ID: 1, Role: domain.RoleClient, FirstName: "Carla", LastName: "Diaz"},
		{ID: 2, Role: domain.RoleClient, FirstName: "Omar", LastName: "Reyes"},
		{ID: 10, Role: domain.RoleAnalyst, FirstName: "Ana", LastName: "Lopez"},
		{ID: 20, Role: domain.RoleSupervisor, FirstName: "Sara", LastName: "Mena"},
		{ID: 30, Role: domain.RoleAdministrator, FirstName: "Root"},
	} {
		store.SeedPerson(p)
	}

	deps := service.Dependencies{Store: store, Locks: service.NewTicketLocks()}
	tickets := service.NewTicketService(deps)
	assignments := service.NewAssignmentService(deps)
	chat := service.NewChatService(deps)
	tokens := auth.NewTokenManager("router-secret", 5)
	metrics := observability.NewMetrics()

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("helpdesk", "test", nil, metrics, realtime.NewRegistry(1, nil)),
		Tickets:        handlers.NewTicketsHandler(tickets),
		Assignments:    handlers.NewAssignmentsHandler(assignments, tickets),
		Chat:           handlers.NewChatHandler(chat),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})
	return &testServer{app: app, tokens: tokens}
}

// do sends a request as (role, id) and decodes the JSON body into a map.
func (s *testServer) do(t *testing.T, role domain.Role, id int64, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, _, err := s.tokens.GenerateToken(id, role)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func dataField(body map[string]any, key string) any {
	data, _ := body["data"].(map[string]any)
	return data[key]
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	if status, _ := s.do(t, "", 0, nethttp.MethodGet, "/health/live", nil); status != nethttp.StatusOK {
		t.Fatalf("live: %d", status)
	}
	if status, body := s.do(t, "", 0, nethttp.MethodGet, "/health/ready", nil); status != nethttp.StatusOK || body["status"] != "ready" {
		t.Fatalf("ready: %d %v", status, body)
	}
	if status, body := s.do(t, "", 0, nethttp.MethodGet, "/health/stats", nil); status != nethttp.StatusOK || dataField(body, "metrics") == nil {
		t.Fatalf("stats: %d %v", status, body)
	}
}

func TestMetricsExposition(t *testing.T) {
	s := newTestServer(t)
	if status, _ := s.do(t, domain.RoleClient, 1, nethttp.MethodGet, "/api/v1/tickets/999", nil); status != nethttp.StatusNotFound {
		t.Fatalf("missing ticket status = %d", status)
	}

	resp, err := s.app.Test(httptest.NewRequest(nethttp.MethodGet, "/metrics", nil), -1)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	for _, want := range []string{
		`# TYPE helpdesk_http_request_duration_seconds histogram`,
		`helpdesk_http_errors_total{code="NOT_FOUND",method="GET"`,
		`helpdesk_http_request_duration_seconds_count{method="GET"`,
	} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("metrics missing %q:\n%s", want, raw)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, "", 0, nethttp.MethodGet, "/api/v1/tickets/1", nil)
	if status != nethttp.StatusUnauthorized || errorCode(body) != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %v", status, body)
	}
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, domain.RoleClient, 1, nethttp.MethodPost, "/api/v1/tickets", map[string]any{
		"title": "Printer", "description": "jammed",
	})
	if status != nethttp.StatusCreated || dataField(body, "state") != "created" {
		t.Fatalf("create: %d %v", status, body)
	}
	path := "/api/v1/tickets/1"

	status, body = s.do(t, domain.RoleAnalyst, 10, nethttp.MethodPost, path+"/assignment", map[string]any{"analyst_id": 10})
	if status != nethttp.StatusForbidden || errorCode(body) != "FORBIDDEN" {
		t.Fatalf("analyst assign: %d %v", status, body)
	}
	status, body = s.do(t, domain.RoleSupervisor, 20, nethttp.MethodPost, path+"/assignment", map[string]any{"analyst_id": 10})
	if status != nethttp.StatusCreated || dataField(body, "analyst_id") != float64(10) {
		t.Fatalf("assign: %d %v", status, body)
	}

	status, body = s.do(t, domain.RoleAnalyst, 10, nethttp.MethodPut, path+"/state", map[string]any{"state": "in_progress"})
	if status != nethttp.StatusOK || dataField(body, "state") != "in_progress" {
		t.Fatalf("start: %d %v", status, body)
	}
	status, body = s.do(t, domain.RoleClient, 1, nethttp.MethodPut, path+"/state", map[string]any{"state": "waiting"})
	if status != nethttp.StatusConflict || errorCode(body) != "INVALID_TRANSITION" {
		t.Fatalf("client bogus transition: %d %v", status, body)
	}
	status, _ = s.do(t, domain.RoleAnalyst, 10, nethttp.MethodPut, path+"/state", map[string]any{"state": "solved"})
	if status != nethttp.StatusOK {
		t.Fatalf("solve: %d", status)
	}
	status, body = s.do(t, domain.RoleClient, 1, nethttp.MethodPut, path+"/state", map[string]any{"state": "closed", "rating": 9})
	if status != nethttp.StatusBadRequest || errorCode(body) != "INVALID_RATING" {
		t.Fatalf("bad rating: %d %v", status, body)
	}
	status, body = s.do(t, domain.RoleClient, 1, nethttp.MethodPut, path+"/state", map[string]any{"state": "closed", "rating": 5})
	if status != nethttp.StatusOK || dataField(body, "rating") != float64(5) {
		t.Fatalf("close: %d %v", status, body)
	}

	status, body = s.do(t, domain.RoleClient, 2, nethttp.MethodGet, path, nil)
	if status != nethttp.StatusForbidden {
		t.Fatalf("foreign client read: %d %v", status, body)
	}

	status, body = s.do(t, domain.RoleClient, 1, nethttp.MethodGet, path+"/audit", nil)
	entries, _ := body["data"].([]any)
	if status != nethttp.StatusOK || len(entries) == 0 {
		t.Fatalf("audit: %d %v", status, body)
	}
	status, _ = s.do(t, domain.RoleClient, 1, nethttp.MethodGet, path+"/audit?kind=bogus", nil)
	if status != nethttp.StatusBadRequest {
		t.Fatalf("bad audit filter: %d", status)
	}
}

func TestTicketListingOverHTTP(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, domain.RoleClient, 1, nethttp.MethodPost, "/api/v1/tickets", map[string]any{"title": "No description"})
	if status != nethttp.StatusCreated || dataField(body, "description") != "" {
		t.Fatalf("create without description: %d %v", status, body)
	}
	if status, body := s.do(t, domain.RoleClient, 1, nethttp.MethodPost, "/api/v1/tickets", map[string]any{"description": "no title"}); status != nethttp.StatusBadRequest || errorCode(body) != "VALIDATION_FAILED" {
		t.Fatalf("create without title: %d %v", status, body)
	}
	s.do(t, domain.RoleClient, 1, nethttp.MethodPost, "/api/v1/tickets", map[string]any{"title": "Printer"})
	s.do(t, domain.RoleClient, 2, nethttp.MethodPost, "/api/v1/tickets", map[string]any{"title": "Mail"})
	s.do(t, domain.RoleSupervisor, 20, nethttp.MethodPost, "/api/v1/tickets/2/assignment", map[string]any{"analyst_id": 10})

	listed := func(role domain.Role, id int64, path string) []any {
		t.Helper()
		status, body := s.do(t, role, id, nethttp.MethodGet, path, nil)
		if status != nethttp.StatusOK {
			t.Fatalf("GET %s as %s: %d %v", path, role, status, body)
		}
		items, _ := body["data"].([]any)
		return items
	}

	if items := listed(domain.RoleClient, 1, "/api/v1/tickets"); len(items) != 2 {
		t.Fatalf("client list = %v", items)
	}
	if items := listed(domain.RoleAnalyst, 10, "/api/v1/tickets"); len(items) != 1 || items[0].(map[string]any)["id"] != float64(2) {
		t.Fatalf("analyst list = %v", items)
	}
	if items := listed(domain.RoleSupervisor, 20, "/api/v1/tickets"); len(items) != 3 {
		t.Fatalf("supervisor list = %v", items)
	}
	if items := listed(domain.RoleSupervisor, 20, "/api/v1/tickets?page=2&page_size=2"); len(items) != 1 {
		t.Fatalf("supervisor second page = %v", items)
	}
	if items := listed(domain.RoleSupervisor, 20, "/api/v1/tickets/closed"); len(items) != 0 {
		t.Fatalf("closed view = %v", items)
	}

	if status, _ := s.do(t, domain.RoleClient, 1, nethttp.MethodGet, "/api/v1/tickets/closed", nil); status != nethttp.StatusForbidden {
		t.Fatalf("client closed view: %d", status)
	}
	if status, body := s.do(t, domain.RoleSupervisor, 20, nethttp.MethodGet, "/api/v1/tickets?state=lost", nil); status != nethttp.StatusBadRequest {
		t.Fatalf("unknown state filter: %d %v", status, body)
	}
}

func TestChatOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.do(t, domain.RoleClient, 1, nethttp.MethodPost, "/api/v1/tickets", map[string]any{"title": "VPN", "description": "down"})

	status, body := s.do(t, domain.RoleClient, 1, nethttp.MethodPost, "/api/v1/tickets/1/chat/supervisor_analyst", map[string]any{"message": "hi"})
	if status != nethttp.StatusForbidden {
		t.Fatalf("client on staff chat: %d %v", status, body)
	}
	status, _ = s.do(t, domain.RoleAnalyst, 10, nethttp.MethodPost, "/api/v1/tickets/1/chat/analyst_client", map[string]any{"message": "looking"})
	if status != nethttp.StatusCreated {
		t.Fatalf("analyst chat: %d", status)
	}
	status, body = s.do(t, domain.RoleClient, 1, nethttp.MethodGet, "/api/v1/tickets/1/chat/analyst_client", nil)
	entries, _ := body["data"].([]any)
	if status != nethttp.StatusOK || len(entries) != 1 {
		t.Fatalf("history: %d %v", status, body)
	}
	status, _ = s.do(t, domain.RoleAnalyst, 10, nethttp.MethodGet, "/api/v1/tickets/1/chat/gossip", nil)
	if status != nethttp.StatusBadRequest {
		t.Fatalf("unknown channel: %d", status)
	}
}

func TestDeleteRequiresAdministrator(t *testing.T) {
	s := newTestServer(t)
	s.do(t, domain.RoleClient, 1, nethttp.MethodPost, "/api/v1/tickets", map[string]any{"title": "Mail", "description": "bounce"})

	if status, _ := s.do(t, domain.RoleSupervisor, 20, nethttp.MethodDelete, "/api/v1/tickets/1", nil); status != nethttp.StatusForbidden {
		t.Fatalf("supervisor delete: %d", status)
	}
	if status, _ := s.do(t, domain.RoleAdministrator, 30, nethttp.MethodDelete, "/api/v1/tickets/1", nil); status != nethttp.StatusNoContent {
		t.Fatalf("admin delete: %d", status)
	}
	if status, body := s.do(t, domain.RoleAdministrator, 30, nethttp.MethodGet, "/api/v1/tickets/1", nil); status != nethttp.StatusNotFound {
		t.Fatalf("deleted ticket: %d %v", status, body)
	}
}

func TestRequestIDIsEchoedOrGenerated(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(nethttp.MethodGet, "/health/live", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := resp.Header.Get(HeaderRequestID); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	resp, err = s.app.Test(httptest.NewRequest(nethttp.MethodGet, "/health/live", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Header.Get(HeaderRequestID) == "" {
		t.Fatalf("expected a generated request id")
	}
}
