package internal

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"boardlive/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxUsernameLength = 32
	defaultHistory    = 50
	maxHistory        = 500
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Avatar   string `json:"avatar,omitempty"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type userDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type onlineUserDTO struct {
	userDTO
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

type onlineResponse struct {
	Users []onlineUserDTO `json:"users"`
}

type presenceResponse struct {
	User   userDTO `json:"user"`
	Online bool    `json:"online"`
	Status string  `json:"status"`
}

type historyMessageDTO struct {
	ID        string  `json:"id"`
	User      userDTO `json:"user"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

type historyResponse struct {
	Room     string              `json:"room"`
	Messages []historyMessageDTO `json:"messages"`
}

func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	if len(username) > maxUsernameLength {
		writeError(w, http.StatusBadRequest, errors.New("username is too long"))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	id, err := s.store.CreateUser(r.Context(), username, strings.TrimSpace(req.Avatar), hash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusConflict, errors.New("username already taken"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncSignup()
	s.log.Info("user signed up", zap.Int64("user_id", id), zap.String("username", username))
	writeJSON(w, http.StatusCreated, userDTO{ID: id, Username: username, Avatar: strings.TrimSpace(req.Avatar)})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, errors.New("username and password are required"))
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	token := uuid.NewString()
	expiresAt := s.now().Add(s.tokenTTL)
	if err := s.store.CreateSession(r.Context(), user.ID, token, expiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: user.ID, Username: user.Username, ExpiresAt: expiresAt})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSession(r.Context(), authCtx.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleOnline lists the users with at least one authenticated connection.
func (s *Server) HandleOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	snapshot := s.hub.Presence().Snapshot()
	resp := onlineResponse{Users: make([]onlineUserDTO, 0, len(snapshot))}
	for _, u := range snapshot {
		resp.Users = append(resp.Users, onlineUserDTO{
			userDTO:     toUserDTO(u.User),
			Status:      u.Status,
			Connections: u.Connections,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUserPresence serves GET /users/{id}/presence.
func (s *Server) HandleUserPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}
	user, err := s.directory.LookupByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, errors.New("user not found"))
		return
	}
	presence := s.hub.Presence()
	writeJSON(w, http.StatusOK, presenceResponse{
		User:   toUserDTO(*user),
		Online: presence.Online(id),
		Status: presence.Status(id),
	})
}

// HandleRoomHistory serves GET /rooms/{room}/history for archived chat rooms.
func (s *Server) HandleRoomHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}
	room := r.PathValue("room")
	if !storage.IsChatRoom(room) {
		writeError(w, http.StatusNotFound, errors.New("room is not archived"))
		return
	}
	limit := defaultHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = min(n, maxHistory)
	}
	records, err := s.store.RecentChatMessages(r.Context(), room, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := historyResponse{Room: room, Messages: make([]historyMessageDTO, 0, len(records))}
	for _, rec := range records {
		resp.Messages = append(resp.Messages, historyMessageDTO{
			ID:        rec.ID,
			User:      userDTO{ID: rec.UserID, Username: rec.Username},
			Message:   rec.Body,
			Timestamp: rec.CreatedAt.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleRoomExists(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	if s.hub.RoomExists(room) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"connections": s.hub.Count(),
		"rooms":       s.hub.RoomCount(),
	})
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (*authContext, bool) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return nil, false
	}
	return authCtx, true
}

func toUserDTO(u UserIdentity) userDTO {
	return userDTO{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
