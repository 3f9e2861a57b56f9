// Package server exposes a Gallery over JSON/HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/hypergopher/astroglossary"
)

// DefaultAllowedOrigins are the browser origins allowed when none are configured.
var DefaultAllowedOrigins = []string{"http://localhost:3000"}

type Server struct {
	gallery        *astroglossary.Gallery
	logger         *slog.Logger
	metrics        *Metrics
	allowedOrigins []string
}

// Options is a struct for configuring a new Server.
type Options struct {
	Gallery        *astroglossary.Gallery // Gallery serves the posts. Required.
	Logger         *slog.Logger           // Logger is the request logger. Default is a debug logger to stderr.
	Metrics        *Metrics               // Metrics collects request and post metrics. Default registers on a new registry.
	AllowedOrigins []string               // AllowedOrigins are the CORS origins accepted. Default is DefaultAllowedOrigins.
}

type messageResponse struct {
	Message string `json:"message"`
}

type flaggedResponse struct {
	Users []astroglossary.FlaggedUser `json:"users"`
}

type allPostsResponse struct {
	Posts []*astroglossary.Post `json:"posts"`
	Total int                   `json:"total"`
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}

	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = DefaultAllowedOrigins
	}

	origins := make([]string, 0, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins = append(origins, strings.TrimSuffix(o, "/"))
	}

	s := &Server{
		gallery:        opts.Gallery,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		allowedOrigins: origins,
	}

	if err := s.metrics.refreshPosts(context.Background(), s.gallery); err != nil {
		s.logger.Warn("failed to initialize post metrics", slog.String("error", err.Error()))
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Routes
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /types", s.handleTypes)
	mux.HandleFunc("GET /posts", s.handleListPosts)
	mux.HandleFunc("GET /posts/all", s.handleAllPosts)
	mux.HandleFunc("GET /posts/stats", s.handleStats)
	mux.HandleFunc("GET /posts/{id}", s.handleGetPost)
	mux.HandleFunc("POST /posts", s.requireUser(s.handleCreatePost))
	mux.HandleFunc("PUT /posts/{id}", s.requireUser(s.handleUpdatePost))
	mux.HandleFunc("DELETE /posts/{id}", s.requireUser(s.handleDeletePost))
	mux.HandleFunc("GET /flagged", s.requireUser(s.requireAdmin(s.handleFlagged)))
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.instrument(s.cors(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gallery.Types())
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	filter := ParseFilter(r)

	page, err := s.gallery.Search(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAllPosts(w http.ResponseWriter, r *http.Request) {
	page, err := s.gallery.All(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, allPostsResponse{Posts: page.Posts, Total: page.Total})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.gallery.TypeCounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.gallery.GetWithUser(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request, user astroglossary.User) {
	var post astroglossary.Post
	if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}

	if post.UserID == "" {
		post.UserID = user.ID
	}

	if _, err := s.gallery.Create(r.Context(), &post); err != nil {
		s.writeError(w, err)
		return
	}

	s.afterWrite(r.Context())
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Post created successfully"})
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request, user astroglossary.User) {
	var post astroglossary.Post
	if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}

	post.ID = r.PathValue("id")
	if err := s.gallery.Update(r.Context(), &post); err != nil {
		s.writeError(w, err)
		return
	}

	s.afterWrite(r.Context())
	writeJSON(w, http.StatusOK, messageResponse{Message: "Post updated successfully"})
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request, user astroglossary.User) {
	if err := s.gallery.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}

	s.afterWrite(r.Context())
	writeJSON(w, http.StatusOK, messageResponse{Message: "Post deleted successfully"})
}

// requireUser resolves the bearer token to a user and rejects the request when it is missing or unknown.
func (s *Server) requireUser(next func(http.ResponseWriter, *http.Request, astroglossary.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			s.writeError(w, astroglossary.ErrUnauthorized)
			return
		}

		user, ok := s.gallery.Users().ByToken(strings.TrimSpace(token))
		if !ok {
			s.writeError(w, astroglossary.ErrUnauthorized)
			return
		}

		next(w, r, user)
	}
}

func (s *Server) requireAdmin(next func(http.ResponseWriter, *http.Request, astroglossary.User)) func(http.ResponseWriter, *http.Request, astroglossary.User) {
	return func(w http.ResponseWriter, r *http.Request, user astroglossary.User) {
		if !user.IsAdmin() {
			s.writeError(w, astroglossary.ErrForbidden)
			return
		}
		next(w, r, user)
	}
}

func (s *Server) handleFlagged(w http.ResponseWriter, r *http.Request, _ astroglossary.User) {
	writeJSON(w, http.StatusOK, flaggedResponse{Users: s.gallery.Users().Flagged()})
}

// RefreshMetrics recounts the posts gauge. Call it after the gallery changes outside of a request,
// such as an import.
func (s *Server) RefreshMetrics(ctx context.Context) {
	s.afterWrite(ctx)
}

func (s *Server) afterWrite(ctx context.Context) {
	if err := s.metrics.refreshPosts(ctx, s.gallery); err != nil {
		s.logger.Warn("failed to refresh post metrics", slog.String("error", err.Error()))
	}
}

// ParseFilter reads search, types, offset, page and limit from the query string.
// A present but empty types parameter selects no types; an absent one disables the type filter.
// Offset takes precedence over the 1-based page.
func ParseFilter(r *http.Request) astroglossary.FilterOptions {
	q := r.URL.Query()

	filter := astroglossary.FilterOptions{
		Search: strings.TrimSpace(q.Get("search")),
		Limit:  astroglossary.DefaultPageSize,
	}

	if values, ok := q["types"]; ok {
		filter.FilterTypes = true
		filter.Types = []string{}
		for _, value := range values {
			for _, t := range strings.Split(value, ",") {
				if t = strings.TrimSpace(t); t != "" {
					filter.Types = append(filter.Types, t)
				}
			}
		}
	}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset >= 0 {
		filter.Offset = offset
	} else if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Offset = astroglossary.OffsetForPage(page, filter.Limit)
	}

	return filter
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, messageResponse{Message: message})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, astroglossary.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, astroglossary.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, astroglossary.ErrPostNotFound):
		return http.StatusNotFound, "Post not found"
	case errors.Is(err, astroglossary.ErrPostExists):
		return http.StatusConflict, "Post with this ID already exists"
	case errors.Is(err, astroglossary.ErrMissingField):
		return http.StatusBadRequest, "All fields are required"
	case errors.Is(err, astroglossary.ErrInvalidType):
		return http.StatusBadRequest, "Invalid type"
	case errors.Is(err, astroglossary.ErrInvalidTitle):
		return http.StatusBadRequest, "Title must start with a letter"
	case errors.Is(err, astroglossary.ErrInvalidDate):
		return http.StatusBadRequest, "Invalid date"
	case errors.Is(err, astroglossary.ErrSourceImmutable):
		return http.StatusBadRequest, "Source cannot be changed"
	case errors.Is(err, astroglossary.ErrDateImmutable):
		return http.StatusBadRequest, "Date cannot be changed"
	case errors.Is(err, astroglossary.ErrMissingID):
		return http.StatusBadRequest, "Post ID is required"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
