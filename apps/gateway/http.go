package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mahaj/staff-chat/pkg/auth"
	"github.com/mahaj/staff-chat/pkg/engine"
	"github.com/mahaj/staff-chat/pkg/media"
	"github.com/mahaj/staff-chat/pkg/model"
	"github.com/mahaj/staff-chat/pkg/presence"
)

// Server is the HTTP surface of the gateway: login, history, room
// provisioning, presence and uploads. Everything real-time stays on the
// websocket; these endpoints cover what a client needs before and between
// sessions.
type Server struct {
	log      *zap.SugaredLogger
	engine   *engine.Engine
	tokens   *auth.Manager
	presence *presence.Tracker
	media    media.Store
}

func NewServer(log *zap.SugaredLogger, eng *engine.Engine, tokens *auth.Manager, tracker *presence.Tracker, uploads media.Store) *Server {
	return &Server{
		log:      log,
		engine:   eng,
		tokens:   tokens,
		presence: tracker,
		media:    uploads,
	}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.Handle("/login", CORSMiddleware(http.HandlerFunc(s.handleLogin)))
	mux.Handle("/history", CORSMiddleware(s.AuthMiddleware(http.HandlerFunc(s.handleHistory))))
	mux.Handle("/replies", CORSMiddleware(s.AuthMiddleware(http.HandlerFunc(s.handleReplyCount))))
	mux.Handle("/rooms", CORSMiddleware(s.AuthMiddleware(http.HandlerFunc(s.handleRooms))))
	mux.Handle("/rooms/", CORSMiddleware(s.AuthMiddleware(http.HandlerFunc(s.handleRoomMembers))))
	mux.Handle("/channels/", CORSMiddleware(s.AuthMiddleware(http.HandlerFunc(s.handlePresence))))
	mux.Handle("/upload", CORSMiddleware(s.AuthMiddleware(http.HandlerFunc(s.handleUpload))))
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware validates the bearer token and stores the claims on the
// request context under auth.UserKey.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		claims, err := s.tokens.Validate(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := auth.WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type LoginRequest struct {
	Identity string `json:"identity"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Identity == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}

	token, err := s.tokens.Generate(req.Identity)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, LoginResponse{Token: token})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	container := r.URL.Query().Get("container")
	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	before := time.Now().UTC()
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid before timestamp", http.StatusBadRequest)
			return
		}
		before = t
	}

	messages, err := s.engine.History(r.Context(), claims.Identity, container, limit, before)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, messages)
}

func (s *Server) handleReplyCount(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	container := r.URL.Query().Get("container")
	parent := r.URL.Query().Get("parent")
	count, err := s.engine.ReplyCount(r.Context(), claims.Identity, container, parent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"count": count})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rooms, err := s.engine.Rooms(r.Context(), claims.Identity)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, rooms)
	case http.MethodPost:
		var room model.Room
		if err := json.NewDecoder(r.Body).Decode(&room); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.engine.CreateRoom(r.Context(), claims.Identity, &room); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, &room)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type memberRequest struct {
	Identity string `json:"identity"`
	Role     string `json:"role,omitempty"`
}

// handleRoomMembers routes /rooms/{id}/members: POST adds a member, DELETE
// removes one. Both fan a membership event out to the room channel.
func (s *Server) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.ClaimsFrom(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "rooms" || parts[2] != "members" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	roomID := parts[1]

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		role := req.Role
		if role == "" {
			role = "member"
		}
		if err := s.engine.MemberAdded(r.Context(), roomID, model.Member{Identity: req.Identity, Role: role}); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.engine.MemberRemoved(r.Context(), roomID, req.Identity); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePresence answers /channels/{key}/users from the Redis presence set.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "channels" || parts[2] != "users" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	users, err := s.presence.Members(r.Context(), model.Channel(parts[1]))
	if err != nil {
		s.log.Warnw("presence lookup failed", "channel", parts[1], "err", err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, users)
}

type uploadResponse struct {
	Ref string `json:"ref"`
}

const maxUploadBytes = 25 << 20

// handleUpload stores raw bytes with the object store and returns the opaque
// reference the client then embeds in an image or file payload. Message
// payloads never carry raw bytes.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.media == nil {
		http.Error(w, "Uploads not configured", http.StatusNotImplemented)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Read one byte past the limit so an oversize upload is rejected rather
	// than stored truncated.
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusInternalServerError)
		return
	}
	if len(data) > maxUploadBytes {
		http.Error(w, "Upload exceeds size limit", http.StatusRequestEntityTooLarge)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := fmt.Sprintf("uploads/%s%s", uuid.NewString(), path.Ext(header.Filename))

	ref, err := s.media.Store(r.Context(), key, contentType, data)
	if err != nil {
		s.log.Errorw("upload failed", "key", key, "err", err)
		http.Error(w, "Failed to store upload", http.StatusInternalServerError)
		return
	}
	writeJSON(w, uploadResponse{Ref: ref})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInvalidReply):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrTransientStore):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":  model.ErrorCode(err),
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
