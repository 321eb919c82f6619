package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/parcel-matching/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(storage.NewMemoryStore(), logger)
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func createPackage(t *testing.T, srv *Server, owner string) string {
	t.Helper()
	rec, out := doJSON(t, srv, "POST", "/api/v1/packages", map[string]any{
		"owner_uid": owner,
		"from":      "Milan",
		"to":        "Tunis",
		"deadline":  "2025-06-10",
		"size":      "small",
		"price":     30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create package: status %d body %v", rec.Code, out)
	}
	return out["id"].(string)
}

func createTrip(t *testing.T, srv *Server, owner string, capacity int) string {
	t.Helper()
	rec, out := doJSON(t, srv, "POST", "/api/v1/trips", map[string]any{
		"owner_uid": owner,
		"from":      "Milan",
		"to":        "Tunis",
		"date":      "2025-06-08",
		"capacity":  capacity,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create trip: status %d body %v", rec.Code, out)
	}
	return out["id"].(string)
}

func TestCreateAndFetchPackage(t *testing.T) {
	srv := newTestServer(t)
	id := createPackage(t, srv, "sender-1")

	rec, out := doJSON(t, srv, "GET", "/api/v1/packages/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get package: status %d", rec.Code)
	}
	if out["status"] != "pending" {
		t.Fatalf("new package status = %v, want pending", out["status"])
	}
	if out["from"] != "Milan" || out["to"] != "Tunis" {
		t.Fatalf("route not preserved: %v -> %v", out["from"], out["to"])
	}
}

func TestCreatePackageValidation(t *testing.T) {
	srv := newTestServer(t)
	cases := []map[string]any{
		{"owner_uid": "u", "from": "A", "to": "B", "deadline": "not-a-date"},
		{"owner_uid": "", "from": "A", "to": "B", "deadline": "2025-06-10"},
		{"owner_uid": "u", "from": "A", "to": "B", "deadline": "2025-06-10", "price": -1},
	}
	for i, body := range cases {
		rec, _ := doJSON(t, srv, "POST", "/api/v1/packages", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("case %d: status %d, want 400", i, rec.Code)
		}
	}
}

func TestLocationNormalization(t *testing.T) {
	srv := newTestServer(t)
	rec, out := doJSON(t, srv, "POST", "/api/v1/packages", map[string]any{
		"owner_uid": "sender-1",
		"from":      "  Milan ",
		"to":        "Tunis   City",
		"deadline":  "2025-06-10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d", rec.Code)
	}
	if out["from"] != "Milan" || out["to"] != "Tunis City" {
		t.Fatalf("locations not normalized: %v -> %v", out["from"], out["to"])
	}
}

func TestCompatibleTripsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	pkgID := createPackage(t, srv, "sender-1")
	tripID := createTrip(t, srv, "traveler-1", 1)
	// wrong route, must not appear
	doJSON(t, srv, "POST", "/api/v1/trips", map[string]any{
		"owner_uid": "traveler-2", "from": "Paris", "to": "Tunis",
		"date": "2025-06-08", "capacity": 1,
	})

	rec, out := doJSON(t, srv, "GET", "/api/v1/packages/"+pkgID+"/compatible-trips", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	trips := out["trips"].([]any)
	if len(trips) != 1 {
		t.Fatalf("got %d compatible trips, want 1", len(trips))
	}
	if trips[0].(map[string]any)["id"] != tripID {
		t.Fatalf("unexpected trip in results")
	}
}

func TestProposeMatchFlow(t *testing.T) {
	srv := newTestServer(t)
	pkgID := createPackage(t, srv, "sender-1")
	tripID := createTrip(t, srv, "traveler-1", 1)

	rec, out := doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"package_id": pkgID, "trip_id": tripID, "traveler_uid": "traveler-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("propose: status %d body %v", rec.Code, out)
	}
	matchID := out["id"].(string)
	if out["status"] != "accepted" {
		t.Fatalf("match status = %v, want accepted", out["status"])
	}

	// the identical call is idempotent and resumes the same match
	rec, out = doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"package_id": pkgID, "trip_id": tripID, "traveler_uid": "traveler-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("identical re-propose: status %d body %v", rec.Code, out)
	}
	if out["id"] != matchID {
		t.Fatalf("identical re-propose returned match %v, want %v", out["id"], matchID)
	}

	// a different traveler retrying the claimed package loses the race
	rivalTrip := createTrip(t, srv, "traveler-2", 1)
	rec, out = doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"package_id": pkgID, "trip_id": rivalTrip, "traveler_uid": "traveler-2",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("rival propose: status %d, want 409", rec.Code)
	}
	if out["code"] != "already_matched" {
		t.Fatalf("conflict code = %v, want already_matched", out["code"])
	}

	rec, out = doJSON(t, srv, "POST", "/api/v1/matches/"+matchID+"/confirm-delivery", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: status %d body %v", rec.Code, out)
	}
	if out["status"] != "completed" {
		t.Fatalf("confirmed match status = %v, want completed", out["status"])
	}

	rec, out = doJSON(t, srv, "GET", "/api/v1/packages/"+pkgID, nil)
	if rec.Code != http.StatusOK || out["status"] != "completed" {
		t.Fatalf("package after delivery: status %d, doc status %v", rec.Code, out["status"])
	}
}

func TestProposeMatchSelfConflict(t *testing.T) {
	srv := newTestServer(t)
	pkgID := createPackage(t, srv, "solo")
	tripID := createTrip(t, srv, "solo", 1)

	rec, out := doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"package_id": pkgID, "trip_id": tripID, "traveler_uid": "solo",
	})
	if rec.Code != http.StatusConflict || out["code"] != "self_match" {
		t.Fatalf("status %d code %v, want 409 self_match", rec.Code, out["code"])
	}
}

func TestMatchedPackageLeavesCandidatePool(t *testing.T) {
	srv := newTestServer(t)
	pkgID := createPackage(t, srv, "sender-1")
	tripID := createTrip(t, srv, "traveler-1", 2)

	doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"package_id": pkgID, "trip_id": tripID, "traveler_uid": "traveler-1",
	})

	rec, out := doJSON(t, srv, "GET", "/api/v1/trips/"+tripID+"/compatible-packages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if pkgs := out["packages"].([]any); len(pkgs) != 0 {
		t.Fatalf("matched package still listed as candidate: %v", pkgs)
	}
}

func TestUpdatePackageGuards(t *testing.T) {
	srv := newTestServer(t)
	pkgID := createPackage(t, srv, "sender-1")

	rec, _ := doJSON(t, srv, "PATCH", "/api/v1/packages/"+pkgID, map[string]any{
		"owner_uid": "intruder", "description": "mine now",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner edit: status %d, want 403", rec.Code)
	}

	rec, out := doJSON(t, srv, "PATCH", "/api/v1/packages/"+pkgID, map[string]any{
		"owner_uid": "sender-1", "description": "fragile",
	})
	if rec.Code != http.StatusOK || out["description"] != "fragile" {
		t.Fatalf("owner edit: status %d body %v", rec.Code, out)
	}

	tripID := createTrip(t, srv, "traveler-1", 1)
	doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"package_id": pkgID, "trip_id": tripID, "traveler_uid": "traveler-1",
	})
	rec, _ = doJSON(t, srv, "PATCH", "/api/v1/packages/"+pkgID, map[string]any{
		"owner_uid": "sender-1", "description": "too late",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("edit after match: status %d, want 409", rec.Code)
	}
}

func TestDeletePackage(t *testing.T) {
	srv := newTestServer(t)
	pkgID := createPackage(t, srv, "sender-1")

	rec, _ := doJSON(t, srv, "DELETE", "/api/v1/packages/"+pkgID+"?owner_uid=sender-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d, want 204", rec.Code)
	}
	rec, _ = doJSON(t, srv, "GET", "/api/v1/packages/"+pkgID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d, want 404", rec.Code)
	}
}

func TestReviewEndpoint(t *testing.T) {
	srv := newTestServer(t)
	pkgID := createPackage(t, srv, "sender-1")
	tripID := createTrip(t, srv, "traveler-1", 1)
	doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"package_id": pkgID, "trip_id": tripID, "traveler_uid": "traveler-1",
	})

	review := map[string]any{
		"author_uid": "sender-1", "subject_uid": "traveler-1",
		"package_id": pkgID, "rating": 5, "comment": "great",
	}
	rec, out := doJSON(t, srv, "POST", "/api/v1/reviews", review)
	if rec.Code != http.StatusCreated {
		t.Fatalf("review: status %d body %v", rec.Code, out)
	}
	if out["new_count"].(float64) != 1 || out["new_average"].(float64) != 5 {
		t.Fatalf("aggregate = %v/%v, want 5/1", out["new_average"], out["new_count"])
	}

	rec, out = doJSON(t, srv, "POST", "/api/v1/reviews", review)
	if rec.Code != http.StatusConflict || out["code"] != "duplicate_review" {
		t.Fatalf("duplicate: status %d code %v", rec.Code, out["code"])
	}

	rec, out = doJSON(t, srv, "GET", "/api/v1/users/traveler-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get user: status %d", rec.Code)
	}
	if out["rating"].(float64) != 5 || out["review_count"].(float64) != 1 {
		t.Fatalf("user projection = %v/%v, want 5/1", out["rating"], out["review_count"])
	}
}

func TestConversationMessages(t *testing.T) {
	srv := newTestServer(t)
	pkgID := createPackage(t, srv, "sender-1")
	tripID := createTrip(t, srv, "traveler-1", 1)
	doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"package_id": pkgID, "trip_id": tripID, "traveler_uid": "traveler-1",
	})

	convs, err := srv.Store.QueryConversations(httptest.NewRequest("GET", "/", nil).Context(), storage.ConversationQuery{PackageID: pkgID})
	if err != nil || len(convs) != 1 {
		t.Fatalf("conversation lookup: %v (n=%d)", err, len(convs))
	}
	convID := convs[0].ID
	base := fmt.Sprintf("/api/v1/conversations/%s/messages", convID)

	rec, _ := doJSON(t, srv, "POST", base, map[string]any{
		"sender_uid": "sender-1", "content": "hello",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("post message: status %d", rec.Code)
	}

	rec, _ = doJSON(t, srv, "POST", base, map[string]any{
		"sender_uid": "outsider", "content": "let me in",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider post: status %d, want 403", rec.Code)
	}

	rec, out := doJSON(t, srv, "GET", base+"?uid=traveler-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	if msgs := out["messages"].([]any); len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestNotFoundMapping(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{
		"/api/v1/packages/nope",
		"/api/v1/trips/nope",
		"/api/v1/users/nope",
	} {
		rec, out := doJSON(t, srv, "GET", path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, rec.Code)
		}
		if out["code"] != "not_found" {
			t.Errorf("%s: code %v, want not_found", path, out["code"])
		}
	}
}
