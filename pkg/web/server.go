package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shouni/gemini-image-editor/pkg/domain"
	"github.com/shouni/gemini-image-editor/pkg/imgutil"
	"github.com/shouni/gemini-image-editor/pkg/session"
)

// maxUploadBytes はアップロード画像の上限です。
const maxUploadBytes = 20 << 20

// ExamplePrompts は画面に表示する編集指示の例です。
var ExamplePrompts = []string{
	"Add a retro, vintage filter",
	"Make the image black and white",
	"Change the background to a sunny beach",
	"Give the main subject a superhero cape",
	"Remove the person in the background",
}

// Server は編集セッションを HTTP API として公開します。
type Server struct {
	registry *Registry
	logger   *slog.Logger
	baseCtx  context.Context
	now      func() time.Time
}

// NewServer は Server を作成します。ctx は非同期の生成処理に引き継がれます。
func NewServer(ctx context.Context, registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		logger:   logger,
		baseCtx:  ctx,
		now:      time.Now,
	}
}

// Router は chi のルーターを組み立てます。
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/api/examples", s.examples)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Put("/image", s.uploadImage)
			r.Put("/instruction", s.setInstruction)
			r.Post("/generate", s.generate)
			r.Post("/edit-again", s.editAgain)
			r.Post("/drop", s.drop)
			r.Get("/download", s.download)
		})
	})
	return r
}

type sessionResponse struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	ImageName        string `json:"image_name,omitempty"`
	ImageMimeType    string `json:"image_mime_type,omitempty"`
	Preview          string `json:"preview,omitempty"`
	Instruction      string `json:"instruction"`
	SecondsRemaining int    `json:"seconds_remaining"`
	Result           string `json:"result,omitempty"`
	Message          string `json:"message,omitempty"`
	Attempts         int    `json:"attempts"`
	CanGenerate      bool   `json:"can_generate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toResponse(id string, snap session.Snapshot) sessionResponse {
	return sessionResponse{
		ID:               id,
		State:            snap.State.String(),
		ImageName:        snap.ImageName,
		ImageMimeType:    snap.ImageMimeType,
		Preview:          string(snap.Preview),
		Instruction:      snap.Instruction,
		SecondsRemaining: snap.SecondsRemaining,
		Result:           string(snap.Result),
		Message:          snap.Message,
		Attempts:         snap.Attempts,
		CanGenerate:      snap.CanGenerate(),
	}
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) error(w http.ResponseWriter, code int, errCode, msg string) {
	s.json(w, code, errorResponse{Code: errCode, Message: msg})
}

// fail はセッション操作のエラーを HTTP ステータスに対応付けます。
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ce *domain.ClassifiedError
	switch {
	case errors.Is(err, domain.ErrValidation):
		s.error(w, http.StatusBadRequest, "validation", session.ValidationMessage)
	case errors.Is(err, domain.ErrDecode):
		s.error(w, http.StatusUnprocessableEntity, "decode", err.Error())
	case errors.Is(err, session.ErrBusy):
		s.error(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, session.ErrNoResult):
		s.error(w, http.StatusConflict, "no_result", err.Error())
	case errors.Is(err, session.ErrUnsupportedDrop):
		s.error(w, http.StatusUnsupportedMediaType, "unsupported_drop", err.Error())
	case errors.Is(err, session.ErrClosed):
		s.error(w, http.StatusGone, "closed", err.Error())
	case errors.As(err, &ce):
		s.error(w, http.StatusBadGateway, ce.Kind.String(), ce.Message)
	default:
		s.logger.ErrorContext(r.Context(), "リクエスト処理に失敗しました", "path", r.URL.Path, "error", err)
		s.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (string, *session.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, ok := s.registry.Get(id)
	if !ok {
		s.error(w, http.StatusNotFound, "not_found", "session not found")
		return "", nil, false
	}
	return id, sess, true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.json(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.registry.Len()})
}

func (s *Server) examples(w http.ResponseWriter, r *http.Request) {
	s.json(w, http.StatusOK, map[string][]string{"examples": ExamplePrompts})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	id, sess, err := s.registry.Create()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "セッションを作成しました", "session_id", id)
	s.json(w, http.StatusCreated, toResponse(id, sess.Snapshot()))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.json(w, http.StatusOK, toResponse(id, sess.Snapshot()))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.registry.Remove(id) {
		s.error(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	file, err := s.readMultipartImage(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := sess.LoadImage(file); err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, http.StatusOK, toResponse(id, sess.Snapshot()))
}

type instructionRequest struct {
	Instruction string `json:"instruction"`
}

func (s *Server) setInstruction(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req instructionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := sess.SetInstruction(req.Instruction); err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, http.StatusOK, toResponse(id, sess.Snapshot()))
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	// リクエストのコンテキストはレスポンス後に切れるため、サーバーのコンテキストで実行する
	if err := sess.GenerateAsync(s.baseCtx); err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, http.StatusAccepted, toResponse(id, sess.Snapshot()))
}

func (s *Server) editAgain(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.EditAgain(); err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, http.StatusOK, toResponse(id, sess.Snapshot()))
}

type dropRequest struct {
	Text string `json:"text"`
}

func (s *Server) drop(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var payload session.DropPayload
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, err := s.readMultipartImage(w, r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload.File = file
	} else {
		var req dropRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes*2)).Decode(&req); err != nil {
			s.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
		payload.Text = req.Text
	}

	if err := sess.Drop(payload); err != nil {
		s.fail(w, r, err)
		return
	}
	s.json(w, http.StatusOK, toResponse(id, sess.Snapshot()))
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	dl, err := sess.Download(s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", dl.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Data)
}

// readMultipartImage はフォームの "image" フィールドから画像を読み込みます。
func (s *Server) readMultipartImage(w http.ResponseWriter, r *http.Request) (*domain.ImageFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, domain.DecodeError("invalid multipart form: %v", err)
	}
	f, header, err := r.FormFile("image")
	if err != nil {
		return nil, domain.DecodeError("missing image field: %v", err)
	}
	defer f.Close()

	mimeType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	file, err := imgutil.ReadImageFile(header.Filename, mimeType, f)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(file.MimeType, "image/") {
		return nil, domain.DecodeError("%q is not an image (%s)", header.Filename, file.MimeType)
	}
	return file, nil
}
