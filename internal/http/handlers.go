package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/parcel-matching/internal/compat"
	"github.com/example/parcel-matching/internal/models"
	"github.com/example/parcel-matching/internal/rating"
	"github.com/example/parcel-matching/internal/storage"
)

type createPackageRequest struct {
	OwnerUID    string  `json:"owner_uid"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Deadline    string  `json:"deadline"`
	Description string  `json:"description"`
	Size        string  `json:"size"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url"`
}

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req createPackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	deadline, err := parseDate(req.Deadline)
	if err != nil {
		badRequest(w, "invalid deadline")
		return
	}
	req.From = compat.NormalizeLocation(req.From)
	req.To = compat.NormalizeLocation(req.To)
	if req.OwnerUID == "" || req.From == "" || req.To == "" {
		badRequest(w, "owner_uid, from and to are required")
		return
	}
	if req.Price < 0 {
		badRequest(w, "price must not be negative")
		return
	}

	pkg := &models.PackageRequest{
		OwnerUID:    req.OwnerUID,
		From:        req.From,
		To:          req.To,
		Deadline:    deadline,
		Description: req.Description,
		Size:        req.Size,
		Price:       req.Price,
		ImageURL:    req.ImageURL,
		Status:      models.PackagePending,
	}
	if _, err := s.Store.CreatePackage(r.Context(), pkg); err != nil {
		s.fail(w, r, err)
		return
	}
	s.bootstrapUser(r.Context(), req.OwnerUID)
	if err := s.Index.UpsertPackage(r.Context(), pkg); err != nil {
		s.logger.Warn("route index upsert failed", "package_id", pkg.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := s.Store.GetPackage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

type updatePackageRequest struct {
	OwnerUID    string   `json:"owner_uid"`
	Description *string  `json:"description"`
	Size        *string  `json:"size"`
	Price       *float64 `json:"price"`
	Deadline    *string  `json:"deadline"`
	ImageURL    *string  `json:"image_url"`
}

// Edits are owner-only and only while the package is still pending; once a
// match claims it, its shape is frozen.
func (s *Server) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updatePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	pkg, err := s.Store.GetPackage(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if pkg.OwnerUID != req.OwnerUID {
		writeError(w, http.StatusForbidden, "forbidden", "only the owner can edit a package")
		return
	}
	if pkg.Status != models.PackagePending {
		writeError(w, http.StatusConflict, "not_editable", "package is no longer pending")
		return
	}

	patch := storage.PackagePatch{
		Description: req.Description,
		Size:        req.Size,
		Price:       req.Price,
		ImageURL:    req.ImageURL,
	}
	if req.Deadline != nil {
		d, err := parseDate(*req.Deadline)
		if err != nil {
			badRequest(w, "invalid deadline")
			return
		}
		patch.Deadline = &d
	}
	if err := s.Store.PatchPackage(r.Context(), id, patch); err != nil {
		s.fail(w, r, err)
		return
	}
	pkg, err = s.Store.GetPackage(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Index.UpsertPackage(r.Context(), pkg); err != nil {
		s.logger.Warn("route index upsert failed", "package_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	owner := r.URL.Query().Get("owner_uid")
	pkg, err := s.Store.GetPackage(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if pkg.OwnerUID != owner {
		writeError(w, http.StatusForbidden, "forbidden", "only the owner can delete a package")
		return
	}
	if pkg.Status != models.PackagePending {
		writeError(w, http.StatusConflict, "not_editable", "package is no longer pending")
		return
	}
	if err := s.Store.DeletePackage(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Index.RemovePackage(r.Context(), pkg.From, pkg.To, id); err != nil {
		s.logger.Warn("route index remove failed", "package_id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type createTripRequest struct {
	OwnerUID string `json:"owner_uid"`
	From     string `json:"from"`
	To       string `json:"to"`
	Date     string `json:"date"`
	Capacity int    `json:"capacity"`
	Notes    string `json:"notes"`
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var req createTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		badRequest(w, "invalid date")
		return
	}
	req.From = compat.NormalizeLocation(req.From)
	req.To = compat.NormalizeLocation(req.To)
	if req.OwnerUID == "" || req.From == "" || req.To == "" {
		badRequest(w, "owner_uid, from and to are required")
		return
	}
	if req.Capacity < 1 {
		badRequest(w, "capacity must be at least 1")
		return
	}

	trip := &models.TripOffer{
		OwnerUID: req.OwnerUID,
		From:     req.From,
		To:       req.To,
		Date:     date,
		Capacity: req.Capacity,
		Notes:    req.Notes,
		Status:   models.TripActive,
	}
	if _, err := s.Store.CreateTrip(r.Context(), trip); err != nil {
		s.fail(w, r, err)
		return
	}
	s.bootstrapUser(r.Context(), req.OwnerUID)
	if err := s.Index.UpsertTrip(r.Context(), trip); err != nil {
		s.logger.Warn("route index upsert failed", "trip_id", trip.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Store.GetTrip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleCompatibleTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := s.Finder.CompatibleTrips(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trips": trips})
}

func (s *Server) handleCompatiblePackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := s.Finder.CompatiblePackages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": pkgs})
}

type proposeMatchRequest struct {
	PackageID   string `json:"package_id"`
	TripID      string `json:"trip_id"`
	TravelerUID string `json:"traveler_uid"`
}

func (s *Server) handleProposeMatch(w http.ResponseWriter, r *http.Request) {
	var req proposeMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	m, err := s.Coord.ProposeMatch(r.Context(), req.PackageID, req.TripID, req.TravelerUID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// the package left the open pool; drop it from the candidate index
	if pkg, perr := s.Store.GetPackage(r.Context(), m.PackageID); perr == nil {
		if ierr := s.Index.RemovePackage(r.Context(), pkg.From, pkg.To, pkg.ID); ierr != nil {
			s.logger.Warn("route index remove failed", "package_id", pkg.ID, "error", ierr)
		}
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	m, err := s.Coord.ConfirmDelivery(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Coord.Reconcile(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"match_id": id, "reconciled": true})
}

type recordReviewRequest struct {
	AuthorUID  string `json:"author_uid"`
	SubjectUID string `json:"subject_uid"`
	PackageID  string `json:"package_id"`
	TripID     string `json:"trip_id"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

func (s *Server) handleRecordReview(w http.ResponseWriter, r *http.Request) {
	var req recordReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	res, err := s.Ratings.RecordReview(r.Context(), &models.Review{
		AuthorUID:  req.AuthorUID,
		SubjectUID: req.SubjectUID,
		PackageID:  req.PackageID,
		TripID:     req.TripID,
		Rating:     req.Rating,
		Comment:    req.Comment,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"new_average": rating.DisplayRating(res.NewAverage),
		"new_count":   res.NewCount,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.Store.GetUser(r.Context(), mux.Vars(r)["uid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uid":          u.UID,
		"display_name": u.DisplayName,
		"photo_url":    u.PhotoURL,
		"rating":       rating.DisplayRating(u.Rating),
		"review_count": u.ReviewCount,
		"created_at":   u.CreatedAt,
	})
}

type postMessageRequest struct {
	SenderUID string `json:"sender_uid"`
	Content   string `json:"content"`
	Kind      string `json:"kind"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Kind == "" {
		req.Kind = string(models.MessageText)
	}
	msg, err := s.Messages.Post(r.Context(), mux.Vars(r)["id"], req.SenderUID, req.Content, models.MessageKind(req.Kind))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	reader := r.URL.Query().Get("uid")
	msgs, err := s.Messages.List(r.Context(), mux.Vars(r)["id"], reader)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		badRequest(w, "upgrade failed")
		return
	}
	sess := s.WSReg.Add(uid, conn)
	go func() {
		defer func() {
			s.WSReg.Remove(uid, sess)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// bootstrapUser creates the minimal profile document on first reference so
// the rating aggregator always has a subject to patch.
func (s *Server) bootstrapUser(ctx context.Context, uid string) {
	if _, err := s.Store.GetUser(ctx, uid); err == nil {
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err := s.Store.PutUser(ctx, &models.User{UID: uid}); err != nil {
		s.logger.Warn("user bootstrap failed", "uid", uid, "error", err)
	}
}

// parseDate accepts a plain date or a full RFC3339 timestamp.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
