package routes

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ShahidDS/game-time-tracker/config"
	"github.com/ShahidDS/game-time-tracker/handlers"
	"github.com/ShahidDS/game-time-tracker/logging"
	"github.com/ShahidDS/game-time-tracker/metrics"
	"github.com/ShahidDS/game-time-tracker/models"
	"github.com/ShahidDS/game-time-tracker/services"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
}

func newTestServer(t *testing.T, auth *services.AuthService) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Environment:    "test",
		AllowedOrigins: []string{"http://localhost:5173"},
		BodyLimitBytes: 1 << 20,
		StatsWindow:    30 * 24 * time.Hour,
	}
	log := logging.Discard()
	if auth == nil {
		auth = services.NewAuthService("", "", "", 0)
	}

	m := metrics.New()
	hub := services.NewHub(log)
	board := services.NewLeaderboard(db, nil, log)
	games := services.NewGameService(db, nil, board, cfg.StatsWindow, log)
	sessions := services.NewSessionService(db, log, board, games, hub, m)
	users := services.NewUserService(db, board, log, games)
	stats := services.NewStatisticsService(db, cfg.StatsWindow)
	reconciler := services.NewReconciler(db, board, log, games)

	router := NewRouter(Dependencies{
		Config:      cfg,
		Logger:      log,
		Metrics:     m,
		Users:       handlers.NewUserHandler(users),
		Games:       handlers.NewGameHandler(games),
		Sessions:    handlers.NewSessionHandler(sessions),
		Statistics:  handlers.NewStatisticsHandler(stats, board),
		Admin:       handlers.NewAdminHandler(auth, reconciler),
		System:      handlers.NewSystemHandler(db, nil, cfg),
		Live:        handlers.NewLiveHandler(hub, log),
		AuthService: auth,
	})
	return &testServer{router: router, db: db}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if len(w.Body.Bytes()) > 0 && w.Body.Bytes()[0] == '{' {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func (s *testServer) createUserAndGame(t *testing.T) (float64, float64) {
	t.Helper()
	w, user := s.do(t, http.MethodPost, "/api/users", map[string]string{
		"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", w.Code, w.Body.String())
	}
	w, game := s.do(t, http.MethodPost, "/api/games", map[string]string{"name": "Chess"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create game: %d %s", w.Code, w.Body.String())
	}
	return user["id"].(float64), game["id"].(float64)
}

func TestRecordAndDeleteSessionScenario(t *testing.T) {
	s := newTestServer(t, nil)
	userID, gameID := s.createUserAndGame(t)

	w, body := s.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{
		"userId": userID, "gameId": gameID,
		"startedAt": "2025-10-10T10:00:00Z", "endedAt": "2025-10-10T10:30:00Z",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("record: %d %s", w.Code, w.Body.String())
	}
	if body["message"] != "Play session recorded successfully" {
		t.Fatalf("message = %v", body["message"])
	}
	session := body["session"].(map[string]interface{})
	if session["minutesPlayed"] != float64(30) {
		t.Fatalf("minutes = %v", session["minutesPlayed"])
	}

	w, report := s.do(t, http.MethodGet, "/api/statistics/1", nil)
	if w.Code != http.StatusOK || report["totalMinutesPlayed"] != float64(30) {
		t.Fatalf("stats: %d %s", w.Code, w.Body.String())
	}
	gameStats := report["gameStats"].([]interface{})
	if len(gameStats) != 1 || gameStats[0].(map[string]interface{})["percentageOfTotal"] != float64(100) {
		t.Fatalf("gameStats = %v", gameStats)
	}

	w, top := s.do(t, http.MethodGet, "/api/statistics/topPlayer/1", nil)
	if w.Code != http.StatusOK || top["topPlayerName"] != "Ada Lovelace" {
		t.Fatalf("top player: %d %s", w.Code, w.Body.String())
	}

	w, board := s.do(t, http.MethodGet, "/api/statistics/leaderboard/1?limit=5", nil)
	if w.Code != http.StatusOK || len(board["entries"].([]interface{})) != 1 {
		t.Fatalf("leaderboard: %d %s", w.Code, w.Body.String())
	}

	w, deleted := s.do(t, http.MethodDelete, "/api/sessions/1", nil)
	if w.Code != http.StatusOK || deleted["sessionId"] != float64(1) {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}

	w, report = s.do(t, http.MethodGet, "/api/statistics/1", nil)
	if w.Code != http.StatusOK || report["totalMinutesPlayed"] != float64(0) || len(report["gameStats"].([]interface{})) != 0 {
		t.Fatalf("stats after delete: %d %s", w.Code, w.Body.String())
	}

	w, _ = s.do(t, http.MethodGet, "/api/statistics/topPlayer/1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("top player after delete: %d", w.Code)
	}
}

func TestSessionValidationErrors(t *testing.T) {
	s := newTestServer(t, nil)
	userID, gameID := s.createUserAndGame(t)

	cases := []struct {
		name  string
		body  interface{}
		code  int
		field string
	}{
		{"end before start", map[string]interface{}{"userId": userID, "gameId": gameID, "startedAt": "2025-10-10T10:30:00Z", "endedAt": "2025-10-10T10:00:00Z"}, 400, "endedAt"},
		{"missing game", map[string]interface{}{"userId": userID, "startedAt": "2025-10-10T10:00:00Z", "endedAt": "2025-10-10T10:30:00Z"}, 400, "gameId"},
		{"string id", `{"userId":"one","gameId":1,"startedAt":"2025-10-10T10:00:00Z","endedAt":"2025-10-10T10:30:00Z"}`, 400, "userId"},
		{"unknown user", map[string]interface{}{"userId": 99, "gameId": gameID, "startedAt": "2025-10-10T10:00:00Z", "endedAt": "2025-10-10T10:30:00Z"}, 404, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := s.do(t, http.MethodPost, "/api/sessions", tc.body)
			if w.Code != tc.code {
				t.Fatalf("status %d body %s", w.Code, w.Body.String())
			}
			if tc.field != "" && body["field"] != tc.field {
				t.Fatalf("field = %v, want %s", body["field"], tc.field)
			}
		})
	}
}

func TestPathParametersAndNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	w, body := s.do(t, http.MethodGet, "/api/statistics/abc", nil)
	if w.Code != http.StatusBadRequest || body["field"] != "id" {
		t.Fatalf("non-numeric id: %d %s", w.Code, w.Body.String())
	}
	w, _ = s.do(t, http.MethodGet, "/api/statistics/0", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("zero id: %d", w.Code)
	}
	w, body = s.do(t, http.MethodGet, "/api/users/42", nil)
	if w.Code != http.StatusNotFound || body["error"] != "User not found" {
		t.Fatalf("missing user: %d %s", w.Code, w.Body.String())
	}
	s.createUserAndGame(t)
	for _, path := range []string{"/api/statistics/999", "/api/statistics/999/1", "/api/sessions/999"} {
		w, body = s.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound || body["error"] != "User not found" {
			t.Fatalf("%s: %d %s", path, w.Code, w.Body.String())
		}
	}
	w, _ = s.do(t, http.MethodGet, "/api/statistics/games/42", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing game stats: %d", w.Code)
	}
	w, body = s.do(t, http.MethodGet, "/api/nothing/here", nil)
	if w.Code != http.StatusNotFound || body["error"] != "Route not found" || body["path"] != "/api/nothing/here" {
		t.Fatalf("unknown route: %d %s", w.Code, w.Body.String())
	}
	w, _ = s.do(t, http.MethodGet, "/api/statistics/leaderboard/1?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", w.Code)
	}
}

func TestCORSAndSystemEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	w, body := s.do(t, http.MethodGet, "/api/users", nil, "Origin", "http://evil.example")
	if w.Code != http.StatusForbidden || body["error"] != "CORS policy: Origin not allowed" {
		t.Fatalf("cors: %d %s", w.Code, w.Body.String())
	}

	w, body = s.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || body["status"] != "OK" || body["database"] != "connected" {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}

	w, body = s.do(t, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK || body["version"] != config.Version {
		t.Fatalf("index: %d %s", w.Code, w.Body.String())
	}

	w, _ = s.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	auth := services.NewAuthService("secret", "admin", string(hash), time.Hour)
	s := newTestServer(t, auth)

	w, _ := s.do(t, http.MethodPost, "/api/games", map[string]string{"name": "Chess"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("create game without token: %d", w.Code)
	}

	w, _ = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "bad"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", w.Code)
	}

	w, login := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "pw"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	bearer := "Bearer " + login["token"].(string)

	w, _ = s.do(t, http.MethodPost, "/api/games", map[string]string{"name": "Chess"}, "Authorization", bearer)
	if w.Code != http.StatusCreated {
		t.Fatalf("create game with token: %d %s", w.Code, w.Body.String())
	}

	w, result := s.do(t, http.MethodPost, "/api/admin/reconcile", nil, "Authorization", bearer)
	if w.Code != http.StatusOK || result["usersCorrected"] != float64(0) {
		t.Fatalf("reconcile: %d %s", w.Code, w.Body.String())
	}
}

func TestOversizedBodiesAnswerJSON(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"firstName":"` + strings.Repeat("a", 2<<20) + `","lastName":"L","email":"a@example.com"}`

	// declared length is rejected up front
	w, out := s.do(t, http.MethodPost, "/api/users", body)
	if w.Code != http.StatusRequestEntityTooLarge || out["error"] != "Request body too large" {
		t.Fatalf("declared length: %d %s", w.Code, w.Body.String())
	}

	// a streamed body is cut off while the handler decodes it
	req := httptest.NewRequest(http.MethodPost, "/api/users", io.MultiReader(strings.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")
	if req.ContentLength != -1 {
		t.Fatalf("content length = %d", req.ContentLength)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("streamed body: %d %s", rec.Code, rec.Body.String())
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil || decoded["error"] != "Request body too large" {
		t.Fatalf("streamed body answer %q: %v", rec.Body.String(), err)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestServer(t, nil)
	userID, _ := s.createUserAndGame(t)

	w, body := s.do(t, http.MethodPost, "/api/users", map[string]string{"firstName": "X", "lastName": "Y", "email": "ada@example.com"})
	if w.Code != http.StatusBadRequest || body["field"] != "email" {
		t.Fatalf("duplicate email: %d %s", w.Code, w.Body.String())
	}

	w, body = s.do(t, http.MethodPut, "/api/users/1", map[string]string{"lastName": "King"})
	if w.Code != http.StatusOK || body["lastName"] != "King" || body["id"] != userID {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}

	w, body = s.do(t, http.MethodDelete, "/api/users/1", nil)
	if w.Code != http.StatusOK || body["message"] != "User deleted successfully" {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	w, _ = s.do(t, http.MethodGet, "/api/users/1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", w.Code)
	}
}
