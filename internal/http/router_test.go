package http

import (
	"bytes"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/data/repos/testutil"
	httpH "github.com/zeitwise/detox-backend/internal/http/handlers"
	httpMW "github.com/zeitwise/detox-backend/internal/http/middleware"
	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/services"
)

const routerSecret = "router-secret"

func bearer(t *testing.T, sub uuid.UUID, role string) string {
	t.Helper()
	claims := &services.JWTClaims{Role: role}
	claims.Subject = sub.String()
	claims.Audience = jwt.ClaimStrings{"authenticated"}
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(routerSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + s
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)

	auth, err := services.NewAuthService(log, services.AuthConfig{
		Secret:          routerSecret,
		Audience:        "authenticated",
		PrivilegedRoles: []string{"service_role"},
	}, nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	jobSvc := services.NewJobService(db, log, repos.NewJobRunRepo(db, log), nil)
	detoxSvc := services.NewDetoxService(db, log, repos.NewDetoxItemRepo(db, log), jobSvc)
	memeSvc := services.NewMemeService(log, jobSvc)

	return NewRouter(RouterConfig{
		Log:            log,
		Metrics:        observability.NewMetrics(),
		AuthMiddleware: httpMW.NewAuthMiddleware(log, auth),
		HealthHandler:  httpH.NewHealthHandler(),
		DetoxHandler:   httpH.NewDetoxHandler(log, detoxSvc),
		MemeHandler:    httpH.NewMemeHandler(log, memeSvc, 3),
	})
}

func do(r *gin.Engine, method, target, auth string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouterDetoxFlow(t *testing.T) {
	r := newTestRouter(t)
	owner := bearer(t, uuid.New(), "authenticated")

	if rec := do(r, nethttp.MethodPost, "/api/detox/process", "", map[string]any{"text": "x"}); rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("unauthenticated status=%d", rec.Code)
	}

	rec := do(r, nethttp.MethodPost, "/api/detox/process", owner, map[string]any{"text": "Shocking news about John Doe"})
	if rec.Code != nethttp.StatusAccepted {
		t.Fatalf("process status=%d body=%s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil || accepted.Status != "pending" {
		t.Fatalf("accepted body=%s err=%v", rec.Body.String(), err)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id header")
	}

	statusURL := "/api/detox/status/" + accepted.ID.String()
	if rec := do(r, nethttp.MethodGet, statusURL, owner, nil); rec.Code != nethttp.StatusOK || !strings.Contains(rec.Body.String(), `"status":"pending"`) {
		t.Fatalf("owner status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := do(r, nethttp.MethodGet, statusURL, bearer(t, uuid.New(), "authenticated"), nil); rec.Code != nethttp.StatusForbidden {
		t.Fatalf("stranger status=%d", rec.Code)
	}
	if rec := do(r, nethttp.MethodGet, statusURL, bearer(t, uuid.New(), "service_role"), nil); rec.Code != nethttp.StatusOK {
		t.Fatalf("privileged status=%d", rec.Code)
	}
	if rec := do(r, nethttp.MethodGet, "/api/detox/status/"+uuid.NewString(), owner, nil); rec.Code != nethttp.StatusNotFound {
		t.Fatalf("unknown id status=%d", rec.Code)
	}
	if rec := do(r, nethttp.MethodPost, "/api/detox/process", owner, map[string]any{"text": "  "}); rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("blank text status=%d", rec.Code)
	}
}

func TestRouterMemeFlow(t *testing.T) {
	r := newTestRouter(t)
	owner := bearer(t, uuid.New(), "authenticated")

	rec := do(r, nethttp.MethodPost, "/api/memes/generate", owner, map[string]any{"headline": "Sky falls"})
	if rec.Code != nethttp.StatusAccepted {
		t.Fatalf("generate status=%d body=%s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		TaskID uuid.UUID `json:"task_id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &accepted)

	rec = do(r, nethttp.MethodGet, "/api/memes/status/"+accepted.TaskID.String(), owner, nil)
	if rec.Code != nethttp.StatusOK || !strings.Contains(rec.Body.String(), `"status":"pending"`) {
		t.Fatalf("meme status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := do(r, nethttp.MethodGet, "/api/memes/status/"+accepted.TaskID.String(), bearer(t, uuid.New(), ""), nil); rec.Code != nethttp.StatusForbidden {
		t.Fatalf("stranger meme status=%d", rec.Code)
	}
}

func TestRouterPublicRoutes(t *testing.T) {
	r := newTestRouter(t)
	if rec := do(r, nethttp.MethodGet, "/healthcheck", "", nil); rec.Code != nethttp.StatusOK {
		t.Fatalf("healthcheck status=%d", rec.Code)
	}
	_ = do(r, nethttp.MethodGet, "/healthcheck", "", nil)
	rec := do(r, nethttp.MethodGet, "/metrics", "", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("metrics status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/healthcheck") {
		t.Fatalf("metrics should include the healthcheck route")
	}
}
