package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"verifmatos/internal/auth"
	"verifmatos/internal/checklist"
	"verifmatos/internal/config"
	"verifmatos/internal/database"
	"verifmatos/internal/logger"
	"verifmatos/internal/models"
	"verifmatos/internal/realtime"
	"verifmatos/internal/verification"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type testServer struct {
	db     *sql.DB
	router *gin.Engine
	svc    *verification.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Initialize(":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Environment:     "development",
		SecretKey:       "test-secret",
		SessionDuration: time.Hour,
		AllowedOrigins:  []string{"http://localhost:8080"},
	}

	hub := realtime.NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	svc := verification.NewService(db, hub, logger.NewNop())
	t.Cleanup(svc.Wait)

	r := gin.New()
	SetupRoutes(r, New(db, cfg, hub, svc))
	return &testServer{db: db, router: r, svc: svc}
}

func (s *testServer) do(method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// login creates a user that does not need a password change and returns
// its access token cookie.
func (s *testServer) login(t *testing.T, username, role string) *http.Cookie {
	t.Helper()
	_, err := database.CreateUser(s.db, username, "secret", role, false)
	require.NoError(t, err)

	w := s.do("POST", "/login", gin.H{"username": username, "password": "secret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatal("no access token cookie")
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

const bagYAML = `
parents:
  - name: Bag
    children:
      - name: Tent
        type: item
        qty: "1"
      - name: Poles
        children:
          - name: PoleA
            type: item
          - name: PoleB
            type: item
`

type createdEvent struct {
	Event      models.Event `json:"event"`
	PublicPath string       `json:"public_path"`
	Cloned     []int        `json:"cloned"`
	Skipped    []int        `json:"skipped"`
	Nodes      int          `json:"nodes"`
}

func (s *testServer) createBagEvent(t *testing.T, cookie *http.Cookie) createdEvent {
	t.Helper()
	w := s.do("POST", "/materials/parents/import", bagYAML, cookie)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var imported struct {
		Roots   []int `json:"roots"`
		Created int   `json:"created"`
	}
	decode(t, w, &imported)
	require.Len(t, imported.Roots, 1)
	assert.Equal(t, 5, imported.Created)

	w = s.do("POST", "/events", gin.H{
		"name":         "Camp",
		"date":         "2024-07-14",
		"template_ids": []int{imported.Roots[0], 9999},
	}, cookie)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created createdEvent
	decode(t, w, &created)
	return created
}

func (s *testServer) nodeIDs(t *testing.T, eventID int) map[string]int {
	t.Helper()
	nodes, err := database.GetEventNodes(s.db, eventID)
	require.NoError(t, err)
	ids := make(map[string]int, len(nodes))
	for _, n := range nodes {
		ids[n.Name] = n.ID
	}
	return ids
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do("GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLoginAndPasswordChange(t *testing.T) {
	s := newTestServer(t)
	_, err := database.EnsureAdmin(s.db, "admin", "admin")
	require.NoError(t, err)

	w := s.do("POST", "/login", gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do("POST", "/login", gin.H{"username": "admin", "password": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	w = s.do("GET", "/events", nil, cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "password change required")

	w = s.do("POST", "/password", gin.H{"current_password": "nope", "new_password": "better-pass"}, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/password", gin.H{"current_password": "admin", "new_password": "better-pass"}, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do("GET", "/events", nil, cookie)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do("GET", "/events", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserManagement(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "boss", models.RoleAdmin)

	w := s.do("POST", "/users", gin.H{"username": "jo", "password": "secret", "role": "chief"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code, "username too short")

	w = s.do("POST", "/users", gin.H{"username": "josie", "password": "secret", "role": "janitor"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/users", gin.H{"username": "josie", "password": "secret", "role": "chief"}, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		User models.User `json:"user"`
	}
	decode(t, w, &created)
	assert.True(t, created.User.MustChangePassword)

	w = s.do("POST", "/users", gin.H{"username": "josie", "password": "secret", "role": "stock"}, admin)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do("POST", fmt.Sprintf("/users/%d/password", created.User.ID), gin.H{"password": "reset-pass"}, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	boss, err := database.GetUserByUsername(s.db, "boss")
	require.NoError(t, err)
	w = s.do("POST", fmt.Sprintf("/users/%d/delete", boss.ID), nil, admin)
	assert.Equal(t, http.StatusForbidden, w.Code, "cannot delete yourself")

	w = s.do("POST", fmt.Sprintf("/users/%d/delete", created.User.ID), nil, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	chief := s.login(t, "chief", models.RoleChief)
	w = s.do("GET", "/users", nil, chief)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMaterials(t *testing.T) {
	s := newTestServer(t)
	chief := s.login(t, "chief", models.RoleChief)

	w := s.do("POST", "/materials", gin.H{"name": "Kitchen"}, chief)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var kitchen struct {
		Template models.MaterialTemplate `json:"template"`
	}
	decode(t, w, &kitchen)
	assert.Equal(t, models.NodeContainer, kitchen.Template.NodeType)

	w = s.do("POST", "/materials", gin.H{"name": "Stove", "node_type": "item", "expected_qty": 2, "parent_id": kitchen.Template.ID}, chief)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var stove struct {
		Template models.MaterialTemplate `json:"template"`
	}
	decode(t, w, &stove)

	w = s.do("POST", "/materials", gin.H{"name": "Gas", "node_type": "item", "parent_id": stove.Template.ID}, chief)
	assert.Equal(t, http.StatusBadRequest, w.Code, "items cannot have children")

	w = s.do("POST", "/materials", gin.H{"name": "Gas", "node_type": "box"}, chief)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/materials", gin.H{"name": "Gas", "node_type": "item", "parent_id": 9999}, chief)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do("POST", "/materials/wizard", gin.H{"bag": gin.H{"name": "First aid", "children": []gin.H{{"name": "Bandage", "type": "item", "qty": "10"}}}}, chief)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do("POST", "/materials/wizard", gin.H{"root": gin.H{"name": "Empty"}}, chief)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("GET", "/materials/roots", nil, chief)
	require.Equal(t, http.StatusOK, w.Code)
	var roots struct {
		Templates []models.MaterialTemplate `json:"templates"`
	}
	decode(t, w, &roots)
	assert.Len(t, roots.Templates, 2)

	w = s.do("GET", "/materials", nil, chief)
	require.Equal(t, http.StatusOK, w.Code)
	var forest struct {
		Tree []struct {
			Node     models.MaterialTemplate `json:"node"`
			Children []json.RawMessage       `json:"children"`
		} `json:"tree"`
		Templates []models.MaterialTemplate `json:"templates"`
	}
	decode(t, w, &forest)
	assert.Len(t, forest.Tree, 2)
	assert.Len(t, forest.Templates, 4)

	w = s.do("GET", fmt.Sprintf("/materials/parents/export?ids=%d,abc&format=yaml", kitchen.Template.ID), nil, chief)
	require.Equal(t, http.StatusOK, w.Code)
	var exported checklist.ImportPayload
	require.NoError(t, yaml.Unmarshal(w.Body.Bytes(), &exported))
	require.Len(t, exported.Parents, 1)
	assert.Equal(t, "Kitchen", exported.Parents[0].Name)
	assert.Equal(t, "Stove", exported.Parents[0].Children[0].Name)

	w = s.do("GET", "/materials/parents/export?ids=abc", nil, chief)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/materials/parents/import", `{"parents":[{"name":"Ok"},{"name":"Bad","type":"box"}]}`, chief)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "parent 2")

	w = s.do("POST", fmt.Sprintf("/materials/%d/delete", kitchen.Template.ID), nil, chief)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":2}`, w.Body.String())
}

func TestEventLifecycle(t *testing.T) {
	s := newTestServer(t)
	chief := s.login(t, "chief", models.RoleChief)
	created := s.createBagEvent(t, chief)

	assert.Len(t, created.Cloned, 1)
	assert.Equal(t, []int{9999}, created.Skipped)
	assert.Equal(t, 5, created.Nodes)
	require.NotNil(t, created.Event.Date)
	assert.Equal(t, "2024-07-14", created.Event.Date.Format("2006-01-02"))
	assert.True(t, strings.HasPrefix(created.PublicPath, fmt.Sprintf("/public/%d/", created.Event.ID)))

	ids := s.nodeIDs(t, created.Event.ID)
	pub := created.PublicPath

	w := s.do("GET", pub, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "public_token")

	w = s.do("POST", pub, gin.H{"name": "Ana"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do("POST", fmt.Sprintf("%s/item/%d", pub, ids["Tent"]), gin.H{"status": "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do("POST", fmt.Sprintf("%s/item/%d", pub, ids["PoleB"]), gin.H{"status": "problem", "comment": "bent"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result verification.ItemResult
	decode(t, w, &result)
	assert.Equal(t, checklist.Progress{Total: 3, OK: 1, Problem: 1, Pending: 1, Percent: 33}, result.Progress)
	assert.Equal(t, "Ana", result.Node.LastVerifierName)

	w = s.do("GET", pub+"/check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var check struct {
		Tree []struct {
			Status string           `json:"status"`
			Counts checklist.Counts `json:"counts"`
		} `json:"tree"`
		Progress checklist.Progress `json:"progress"`
	}
	decode(t, w, &check)
	require.Len(t, check.Tree, 1)
	assert.Equal(t, models.StatusProblem, check.Tree[0].Status)
	assert.Equal(t, checklist.Counts{Total: 3, OK: 1, Problem: 1, Pending: 1}, check.Tree[0].Counts)

	w = s.do("GET", fmt.Sprintf("/events/%d", created.Event.ID), nil, chief)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.PublicPath)

	s.svc.Wait()
	w = s.do("GET", "/stock/issues", nil, chief)
	assert.Equal(t, http.StatusForbidden, w.Code, "chiefs do not see stock")

	stock := s.login(t, "stock", models.RoleStock)
	w = s.do("GET", "/stock/issues", nil, stock)
	require.Equal(t, http.StatusOK, w.Code)
	var issues struct {
		Issues []models.Issue `json:"issues"`
	}
	decode(t, w, &issues)
	require.Len(t, issues.Issues, 1)
	assert.Equal(t, "PoleB", issues.Issues[0].Name)
	assert.Equal(t, "Camp", issues.Issues[0].EventName)

	w = s.do("POST", fmt.Sprintf("/events/%d/close", created.Event.ID), nil, chief)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do("POST", fmt.Sprintf("/events/%d/close", created.Event.ID), nil, chief)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do("POST", fmt.Sprintf("%s/item/%d", pub, ids["PoleA"]), gin.H{"status": "ok"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do("POST", fmt.Sprintf("/events/%d/delete", created.Event.ID), nil, chief)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do("GET", pub, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicRejections(t *testing.T) {
	s := newTestServer(t)
	chief := s.login(t, "chief", models.RoleChief)
	created := s.createBagEvent(t, chief)
	ids := s.nodeIDs(t, created.Event.ID)
	pub := created.PublicPath

	w := s.do("GET", fmt.Sprintf("/public/%d/not-the-token", created.Event.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do("GET", "/public/abc/whatever", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do("POST", fmt.Sprintf("/public/%d/not-the-token/item/%d", created.Event.ID, ids["Tent"]), gin.H{"status": "ok"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do("POST", fmt.Sprintf("%s/item/%d", pub, ids["Poles"]), gin.H{"status": "ok"})
	assert.Equal(t, http.StatusNotFound, w.Code, "containers are not updatable")

	w = s.do("POST", fmt.Sprintf("%s/item/%d", pub, ids["Tent"]), gin.H{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", pub, gin.H{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateEventValidation(t *testing.T) {
	s := newTestServer(t)
	chief := s.login(t, "chief", models.RoleChief)

	w := s.do("POST", "/events", gin.H{"name": "Camp", "template_ids": []int{}}, chief)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/events", gin.H{"name": "Camp", "date": "14/07/2024", "template_ids": []int{1}}, chief)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/events", gin.H{"name": " ", "template_ids": []int{1}}, chief)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/events", `{"name":`, chief)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicWebsocketReceivesUpdates(t *testing.T) {
	s := newTestServer(t)
	chief := s.login(t, "chief", models.RoleChief)
	created := s.createBagEvent(t, chief)
	ids := s.nodeIDs(t, created.Event.ID)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + created.PublicPath + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot realtime.ProgressMessage
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, realtime.TypeProgress, snapshot.Type)
	assert.Equal(t, 3, snapshot.Progress.Total)
	assert.Zero(t, snapshot.NodeID)

	w := s.do("POST", fmt.Sprintf("%s/item/%d", created.PublicPath, ids["Tent"]), gin.H{"status": "ok", "verifier_name": "Bob"})
	require.Equal(t, http.StatusOK, w.Code)

	var update realtime.ProgressMessage
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, ids["Tent"], update.NodeID)
	assert.Equal(t, models.StatusOK, update.Status)
	assert.Equal(t, "Bob", update.VerifierName)
	assert.Equal(t, 33, update.Progress.Percent)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+fmt.Sprintf("/public/%d/bad/ws", created.Event.ID), nil)
	assert.Error(t, err)
}
