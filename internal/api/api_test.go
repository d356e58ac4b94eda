package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/stoneshop/internal/attachment"
	"github.com/erazemk/stoneshop/internal/auth"
	"github.com/erazemk/stoneshop/internal/blob"
	"github.com/erazemk/stoneshop/internal/db"
	"github.com/erazemk/stoneshop/internal/inventory"
	"github.com/erazemk/stoneshop/internal/model"
	"github.com/erazemk/stoneshop/internal/store"
	"github.com/erazemk/stoneshop/internal/workflow"
)

const (
	testJWTSecret     = "test-secret"
	testAdminPassword = "password"
)

func newDeps(t *testing.T, database *sql.DB) Deps {
	t.Helper()
	backend, err := blob.NewLocal(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	items := &store.Items{DB: database}
	photos := &attachment.Store{DB: database, Backend: backend, TempDir: t.TempDir(), MaxSize: 1 << 20}
	return Deps{
		DB:              database,
		Items:           items,
		Inventory:       &inventory.Service{Items: items, Photos: photos},
		Policy:          workflow.PolicyV2,
		JWTSecret:       testJWTSecret,
		AuthEnabled:     true,
		MaxUploadBytes:  2 << 20,
		MultipartMemory: 1 << 20,
	}
}

func setupTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	database := db.NewTestDB(t)
	server := httptest.NewServer(NewRouter(newDeps(t, database)))
	t.Cleanup(server.Close)

	// Create admin user.
	ctx := context.Background()
	hash, _ := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	if _, err := store.CreateUser(ctx, database, "admin", string(hash), model.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	return server, login(t, server, "admin", testAdminPassword)
}

func login(t *testing.T, server *httptest.Server, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var loginResp map[string]string
	json.NewDecoder(resp.Body).Decode(&loginResp)
	token := loginResp["token"]
	if token == "" {
		t.Fatal("empty token from login")
	}
	return token
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func do(t *testing.T, req *http.Request, wantStatus int, out any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: expected %d, got %d: %s", req.Method, req.URL.Path, wantStatus, resp.StatusCode, b)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
}

func testPNG() []byte {
	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	return buf.Bytes()
}

func multipartUpload(t *testing.T, url, token string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile("photo", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(data)
	}
	mw.Close()

	req, _ := http.NewRequest("POST", url, &body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestLoginEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	// Test invalid credentials.
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, _ := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestItemPhotoLifecycle(t *testing.T) {
	server, token := setupTestServer(t)

	// Create an item; a supplied _id is ignored.
	var created map[string]any
	req, _ := authRequest("POST", server.URL+"/api/items", token, map[string]any{
		"_id":  "not-used",
		"name": "Ruby",
		"size": "5mm",
	})
	do(t, req, http.StatusCreated, &created)
	id, _ := created["_id"].(string)
	if id == "" || id == "not-used" {
		t.Fatalf("unexpected id %q", id)
	}
	if created["step"] != float64(workflow.StepPhotograph) {
		t.Errorf("expected step 1, got %v", created["step"])
	}

	// It shows up in the "needs photos" list.
	var list []map[string]any
	req, _ = authRequest("GET", server.URL+"/api/items?step=1", token, nil)
	do(t, req, http.StatusOK, &list)
	if len(list) != 1 || list[0]["_id"] != id {
		t.Fatalf("expected the item at step 1, got %v", list)
	}

	// Upload two photos in one request.
	var up uploadResponse
	do(t, multipartUpload(t, server.URL+"/api/items/"+id+"/photos", token, map[string][]byte{
		"a.png": testPNG(),
		"b.png": testPNG(),
	}), http.StatusCreated, &up)
	if len(up.Photos) != 2 {
		t.Fatalf("expected 2 photos, got %v", up.Photos)
	}

	var item map[string]any
	req, _ = authRequest("GET", server.URL+"/api/items/"+id, token, nil)
	do(t, req, http.StatusOK, &item)
	if photos, _ := item["photo"].([]any); len(photos) != 2 {
		t.Fatalf("expected 2 linked photos, got %v", item["photo"])
	}
	if item["step"] != float64(workflow.StepMeasure) {
		t.Errorf("expected step 2 after photos, got %v", item["step"])
	}

	// Download with disposition hints.
	req, _ = authRequest("GET", server.URL+"/api/photos/"+up.Photos[0]+"?download=1&summary=Ruby", token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", resp.StatusCode)
	}
	if !bytes.Equal(data, testPNG()) {
		t.Error("downloaded bytes differ from upload")
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") || !strings.Contains(cd, "Ruby") {
		t.Errorf("unexpected disposition %q", cd)
	}

	// Detach the first photo.
	req, _ = authRequest("DELETE", server.URL+"/api/items/"+id+"/photos/"+up.Photos[0], token, nil)
	do(t, req, http.StatusNoContent, nil)
	req, _ = authRequest("GET", server.URL+"/api/photos/"+up.Photos[0], token, nil)
	do(t, req, http.StatusNotFound, nil)

	// Update keeps the photo list.
	req, _ = authRequest("PUT", server.URL+"/api/items/"+id, token, map[string]any{
		"name":   "Ruby",
		"size":   "5mm",
		"weight": "1g",
		"carat":  "0.4",
		"photo":  []string{},
	})
	do(t, req, http.StatusOK, &item)
	if photos, _ := item["photo"].([]any); len(photos) != 1 {
		t.Errorf("update must not touch photos, got %v", item["photo"])
	}
	if item["step"] != float64(workflow.StepList) {
		t.Errorf("expected step 3 after measuring, got %v", item["step"])
	}

	// Cascade delete.
	var res inventory.CascadeResult
	req, _ = authRequest("DELETE", server.URL+"/api/items/"+id, token, nil)
	do(t, req, http.StatusOK, &res)
	if len(res.Deleted) != 1 || res.Deleted[0] != up.Photos[1] || len(res.Failures) != 0 {
		t.Errorf("unexpected cascade result %+v", res)
	}
	req, _ = authRequest("GET", server.URL+"/api/photos/"+up.Photos[1], token, nil)
	do(t, req, http.StatusNotFound, nil)
	req, _ = authRequest("GET", server.URL+"/api/items/"+id, token, nil)
	do(t, req, http.StatusNotFound, nil)
}

func TestRawBodyUpload(t *testing.T) {
	server, token := setupTestServer(t)

	var created map[string]any
	req, _ := authRequest("POST", server.URL+"/api/items", token, map[string]any{"name": "Opal"})
	do(t, req, http.StatusCreated, &created)
	id := created["_id"].(string)

	req, _ = http.NewRequest("POST", server.URL+"/api/items/"+id+"/photos?filename=opal.png", bytes.NewReader(testPNG()))
	req.Header.Set("Authorization", "Bearer "+token)
	var up uploadResponse
	do(t, req, http.StatusCreated, &up)
	if len(up.Photos) != 1 {
		t.Fatalf("expected one photo, got %v", up.Photos)
	}

	req, _ = authRequest("GET", server.URL+"/api/photos/"+up.Photos[0], token, nil)
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if cd := resp.Header.Get("Content-Disposition"); cd != "inline; filename=opal.png" {
		t.Errorf("unexpected disposition %q", cd)
	}
}

func TestUploadErrors(t *testing.T) {
	server, token := setupTestServer(t)

	// Unknown item.
	missing := "00000000-0000-4000-8000-000000000000"
	do(t, multipartUpload(t, server.URL+"/api/items/"+missing+"/photos", token, map[string][]byte{"a.png": testPNG()}),
		http.StatusNotFound, nil)

	// Malformed id.
	do(t, multipartUpload(t, server.URL+"/api/items/nope/photos", token, map[string][]byte{"a.png": testPNG()}),
		http.StatusBadRequest, nil)

	// Larger than the attachment store accepts.
	var created map[string]any
	req, _ := authRequest("POST", server.URL+"/api/items", token, map[string]any{"name": "Big"})
	do(t, req, http.StatusCreated, &created)
	req, _ = http.NewRequest("POST", server.URL+"/api/items/"+created["_id"].(string)+"/photos",
		bytes.NewReader(make([]byte, (1<<20)+10)))
	req.Header.Set("Authorization", "Bearer "+token)
	do(t, req, http.StatusRequestEntityTooLarge, nil)
}

func TestUpdateMissingItemIsLenient(t *testing.T) {
	server, token := setupTestServer(t)

	req, _ := authRequest("PUT", server.URL+"/api/items/00000000-0000-4000-8000-000000000000", token, map[string]any{"name": "x"})
	do(t, req, http.StatusNoContent, nil)
}

func TestPartialUpdateKeepsOtherFields(t *testing.T) {
	server, token := setupTestServer(t)

	var created map[string]any
	req, _ := authRequest("POST", server.URL+"/api/items", token, map[string]any{
		"name":      "Garnet",
		"size":      "5mm",
		"weight":    "1.1g",
		"carat":     "0.5",
		"yahooId":   "y1",
		"buyerName": "Ana",
	})
	do(t, req, http.StatusCreated, &created)
	id := created["_id"].(string)
	if created["step"] != float64(workflow.StepSold) {
		t.Fatalf("expected step 5, got %v", created["step"])
	}

	var item map[string]any
	req, _ = authRequest("PUT", server.URL+"/api/items/"+id, token, map[string]any{"price": 10})
	do(t, req, http.StatusOK, &item)

	if item["price"] != float64(10) {
		t.Errorf("expected price 10, got %v", item["price"])
	}
	for _, k := range []string{"name", "size", "weight", "carat", "yahooId", "buyerName"} {
		if item[k] != created[k] {
			t.Errorf("%s changed from %v to %v", k, created[k], item[k])
		}
	}
	if item["step"] != float64(workflow.StepSold) {
		t.Errorf("expected step to stay 5, got %v", item["step"])
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	database := db.NewTestDB(t)
	server := httptest.NewServer(NewRouter(newDeps(t, database)))
	t.Cleanup(server.Close)

	resp, _ := http.Get(server.URL + "/api/items")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated request, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuthDisabled(t *testing.T) {
	database := db.NewTestDB(t)
	deps := newDeps(t, database)
	deps.AuthEnabled = false
	server := httptest.NewServer(NewRouter(deps))
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL+"/api/items", "application/json", strings.NewReader(`{"name":"Jade"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201 with auth disabled, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	server, token := setupTestServer(t)

	req, _ := authRequest("POST", server.URL+"/api/auth/logout", token, nil)
	do(t, req, http.StatusOK, nil)

	req, _ = authRequest("GET", server.URL+"/api/items", token, nil)
	do(t, req, http.StatusUnauthorized, nil)
}

func TestRoleBasedAccess(t *testing.T) {
	database := db.NewTestDB(t)
	server := httptest.NewServer(NewRouter(newDeps(t, database)))
	t.Cleanup(server.Close)

	viewerToken, _ := auth.GenerateToken(testJWTSecret, 2, "viewer1", model.RoleViewer)
	staffToken, _ := auth.GenerateToken(testJWTSecret, 3, "staff1", model.RoleStaff)

	// Viewers read but cannot write.
	req, _ := authRequest("GET", server.URL+"/api/items", viewerToken, nil)
	do(t, req, http.StatusOK, nil)
	req, _ = authRequest("POST", server.URL+"/api/items", viewerToken, map[string]string{"name": "Test"})
	do(t, req, http.StatusForbidden, nil)

	// Staff write items but cannot manage users.
	req, _ = authRequest("POST", server.URL+"/api/items", staffToken, map[string]string{"name": "Test"})
	do(t, req, http.StatusCreated, nil)
	req, _ = authRequest("GET", server.URL+"/api/users", staffToken, nil)
	do(t, req, http.StatusForbidden, nil)
}

func TestUserManagement(t *testing.T) {
	server, token := setupTestServer(t)

	var u model.User
	req, _ := authRequest("POST", server.URL+"/api/users", token, map[string]string{
		"username": "maja", "password": "longenough", "role": model.RoleStaff,
	})
	do(t, req, http.StatusCreated, &u)

	req, _ = authRequest("POST", server.URL+"/api/users", token, map[string]string{
		"username": "x", "password": "longenough", "role": "owner",
	})
	do(t, req, http.StatusBadRequest, nil)

	req, _ = authRequest("POST", server.URL+"/api/users", token, map[string]string{
		"username": "maja", "password": "otherpassword", "role": model.RoleViewer,
	})
	do(t, req, http.StatusConflict, nil)

	req, _ = authRequest("PUT", server.URL+"/api/users/"+strconv.FormatInt(u.ID, 10)+"/password", token, map[string]string{
		"password": "resetpassword",
	})
	do(t, req, http.StatusNoContent, nil)
	login(t, server, "maja", "resetpassword")

	req, _ = authRequest("DELETE", server.URL+"/api/users/"+strconv.FormatInt(u.ID, 10), token, nil)
	do(t, req, http.StatusNoContent, nil)
	req, _ = authRequest("DELETE", server.URL+"/api/users/"+strconv.FormatInt(u.ID, 10), token, nil)
	do(t, req, http.StatusNotFound, nil)
}

func TestChangeOwnPassword(t *testing.T) {
	server, token := setupTestServer(t)

	req, _ := authRequest("PUT", server.URL+"/api/auth/password", token, map[string]string{
		"current_password": "wrong-password", "new_password": "brandnewpass",
	})
	do(t, req, http.StatusUnauthorized, nil)

	req, _ = authRequest("PUT", server.URL+"/api/auth/password", token, map[string]string{
		"current_password": testAdminPassword, "new_password": "short",
	})
	do(t, req, http.StatusBadRequest, nil)

	req, _ = authRequest("PUT", server.URL+"/api/auth/password", token, map[string]string{
		"current_password": testAdminPassword, "new_password": "brandnewpass",
	})
	do(t, req, http.StatusNoContent, nil)

	login(t, server, "admin", "brandnewpass")
}
