package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/logger"
	"github.com/tainanafeng/math-coach/internal/memory"
	"github.com/tainanafeng/math-coach/internal/security"
	"github.com/tainanafeng/math-coach/internal/tutor"
	"github.com/tainanafeng/math-coach/internal/upload"
)

type contextKey int

const usernameKey contextKey = iota

// UsernameFromContext returns the logged-in user set by the session middleware.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

func (s *Server) sessionUser(r *http.Request) (string, error) {
	c, err := r.Cookie(security.SessionCookie)
	if err != nil {
		return "", security.ErrInvalidSession
	}
	return s.sessions.Validate(c.Value)
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, err := s.sessionUser(r)
		if err != nil {
			Error(w, http.StatusUnauthorized, "not logged in")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), usernameKey, username)))
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     security.SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	username, err := s.sessionUser(r)
	if err != nil {
		s.pages.render(w, "login.html", nil)
		return
	}
	s.pages.render(w, "chat.html", map[string]string{"Username": username})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		Error(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	if err := s.accounts.Authenticate(req.Username, req.Password); err != nil {
		s.log.Info("login rejected", zap.String("username", req.Username))
		Error(w, http.StatusUnauthorized, "wrong username or password")
		return
	}

	token, expires, err := s.sessions.Issue(req.Username)
	if err != nil {
		s.log.Error("issue session", zap.Error(err))
		Error(w, http.StatusInternalServerError, "could not start session")
		return
	}
	s.setSessionCookie(w, token, int(s.sessions.TTL().Seconds()))
	s.log.Info("login", zap.String("username", req.Username))
	JSON(w, http.StatusOK, map[string]any{"username": req.Username, "expires_at": expires})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.setSessionCookie(w, "", -1)
	JSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"username": UsernameFromContext(r.Context())})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	username := UsernameFromContext(r.Context())
	msgs, err := s.store.ReadAll(r.Context(), username)
	if err != nil {
		s.storeError(w, r, "read messages", err)
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type summaryResponse struct {
	Summary   string     `json:"summary"`
	Cursor    int64      `json:"cursor"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	username := UsernameFromContext(r.Context())
	sum, err := s.store.GetSummary(r.Context(), username)
	if err != nil {
		s.storeError(w, r, "read summary", err)
		return
	}
	cursor, err := s.store.GetCursor(r.Context(), username)
	if err != nil {
		s.storeError(w, r, "read cursor", err)
		return
	}
	resp := summaryResponse{Cursor: cursor}
	if sum != nil {
		resp.Summary = sum.Text
		updated := sum.UpdatedAt
		resp.UpdatedAt = &updated
	}
	JSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	username := UsernameFromContext(r.Context())
	log := logger.WithContext(r.Context(), s.log).With(zap.String("username", username))

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "the attached file is too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid form")
		return
	}

	f, err := s.readUpload(r)
	if err != nil {
		Error(w, http.StatusBadRequest, "could not read the attached file")
		return
	}

	input, err := s.uploads.BuildUserInput(r.FormValue("message"), f)
	if err != nil {
		log.Info("upload rejected", zap.Error(err))
		switch {
		case errors.Is(err, upload.ErrUnsupportedType):
			Error(w, http.StatusBadRequest, "unsupported file type; attach a PDF, DOCX or text file")
		case errors.Is(err, upload.ErrEmptyDocument):
			Error(w, http.StatusBadRequest, "the attached file contains no readable text")
		default:
			Error(w, http.StatusBadRequest, "could not read the attached file")
		}
		return
	}

	ans, err := s.tutor.Ask(r.Context(), username, input)
	if err != nil {
		msg := tutor.FormatErrorMessage(err)
		switch {
		case errors.Is(err, tutor.ErrTurnInProgress):
			Error(w, http.StatusConflict, msg)
		case errors.Is(err, tutor.ErrEmptyInput):
			Error(w, http.StatusBadRequest, msg)
		default:
			Error(w, http.StatusBadGateway, msg)
		}
		return
	}
	JSON(w, http.StatusOK, ans)
}

// readUpload returns the optional "file" part, or nil when none was sent.
func (s *Server) readUpload(r *http.Request) (*upload.File, error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 && header.Filename == "" {
		return nil, nil
	}
	return &upload.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger.WithContext(r.Context(), s.log).Error(op, zap.Error(err))
	if errors.Is(err, memory.ErrStoreUnavailable) {
		Error(w, http.StatusServiceUnavailable, tutor.FormatErrorMessage(err))
		return
	}
	Error(w, http.StatusInternalServerError, op+" failed")
}
