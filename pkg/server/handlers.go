package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	resonance "github.com/unowned-ai/resonance/pkg"
	"github.com/unowned-ai/resonance/pkg/memories"
)

type putRecordRequest struct {
	RecordID         string     `json:"record_id"`
	OwnerID          string     `json:"owner_id"`
	Category         string     `json:"category"`
	CreatedAt        *time.Time `json:"created_at"`
	PayloadRef       string     `json:"payload_ref"`
	Tags             []string   `json:"tags"`
	Transcript       *string    `json:"transcript"`
	DetectedCategory *string    `json:"detected_category"`
	NextReminderAt   *time.Time `json:"next_reminder_at"`
}

type updateRecordRequest struct {
	Version           int64      `json:"version"`
	Category          *string    `json:"category"`
	Tags              *[]string  `json:"tags"`
	Transcript        *string    `json:"transcript"`
	DetectedCategory  *string    `json:"detected_category"`
	NextReminderAt    *time.Time `json:"next_reminder_at"`
	ClearNextReminder bool       `json:"clear_next_reminder"`
}

type tickResponse struct {
	Events []memories.ReminderEvent `json:"events"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": resonance.Version})
}

func (s *Server) handlePutRecord(w http.ResponseWriter, r *http.Request) {
	var req putRecordRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	category, err := memories.ParseCategory(req.Category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec := memories.Record{
		RecordID:         req.RecordID,
		OwnerID:          req.OwnerID,
		Category:         category,
		PayloadRef:       req.PayloadRef,
		Tags:             req.Tags,
		Transcript:       req.Transcript,
		DetectedCategory: req.DetectedCategory,
		NextReminderAt:   req.NextReminderAt,
	}
	if req.CreatedAt != nil {
		rec.CreatedAt = *req.CreatedAt
	}

	stored, err := s.engine.Store.Put(r.Context(), rec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var (
		rec memories.Record
		err error
	)
	if owner := r.URL.Query().Get("ownerId"); owner != "" {
		rec, err = s.engine.Store.Get(r.Context(), owner, id)
	} else {
		rec, err = s.engine.Store.GetByID(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRandomRecord(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var category memories.Category
	if raw := q.Get("category"); raw != "" {
		c, err := parseQueryCategory(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		category = c
	}

	rec, err := s.engine.Sampler.RandomMatch(r.Context(), category, q.Get("ownerId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req updateRecordRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Version <= 0 {
		s.writeError(w, r, fmt.Errorf("%w: version is required", memories.ErrInvalidRecord))
		return
	}

	m := memories.Mutation{
		Tags:              req.Tags,
		Transcript:        req.Transcript,
		DetectedCategory:  req.DetectedCategory,
		NextReminderAt:    req.NextReminderAt,
		ClearNextReminder: req.ClearNextReminder,
	}
	if req.Category != nil {
		c, err := memories.ParseCategory(*req.Category)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		m.Category = &c
	}

	rec, err := s.engine.Store.Update(r.Context(), r.PathValue("ownerId"), r.PathValue("id"), req.Version, m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store.Delete(r.Context(), r.PathValue("ownerId"), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListOwnerRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params, err := parseListParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	oq := memories.OwnerQuery{
		OwnerID:  r.PathValue("ownerId"),
		Start:    params.start,
		End:      params.end,
		Cursor:   params.cursor,
		PageSize: params.pageSize,
	}
	if raw := q.Get("category"); raw != "" {
		c, err := parseQueryCategory(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		oq.Category = &c
	}

	page, err := s.engine.Query.ListByOwner(r.Context(), oq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListCategoryRecords(w http.ResponseWriter, r *http.Request) {
	category, err := parseQueryCategory(r.PathValue("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.engine.Query.ListByCategory(r.Context(), memories.CategoryQuery{
		Category: category,
		Start:    params.start,
		End:      params.end,
		Cursor:   params.cursor,
		PageSize: params.pageSize,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.engine.Store.ListTags(r.Context(), r.PathValue("ownerId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	if raw := r.URL.Query().Get("now"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: now must be RFC 3339: %v", memories.ErrInvalidQuery, err))
			return
		}
		now = t
	}

	events, err := s.engine.Scheduler.Tick(r.Context(), now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tickResponse{Events: events})
}

type listParams struct {
	cursor   string
	pageSize int
	start    *time.Time
	end      *time.Time
}

func parseListParams(r *http.Request) (listParams, error) {
	q := r.URL.Query()
	p := listParams{cursor: q.Get("cursor")}

	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return listParams{}, fmt.Errorf("%w: pageSize must be an integer", memories.ErrInvalidQuery)
		}
		p.pageSize = n
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"start", &p.start}, {"end", &p.end}} {
		raw := q.Get(bound.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return listParams{}, fmt.Errorf("%w: %s must be RFC 3339", memories.ErrInvalidQuery, bound.name)
		}
		*bound.dst = &t
	}
	return p, nil
}

func parseQueryCategory(raw string) (memories.Category, error) {
	c := memories.Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", memories.ErrInvalidQuery, raw)
	}
	return c, nil
}
