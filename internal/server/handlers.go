package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/chat"
	"github.com/ledgerworks/choubo/internal/llm"
	"github.com/ledgerworks/choubo/internal/reconcile"
	"github.com/ledgerworks/choubo/internal/storage"
)

// maxUploadBytes bounds multipart uploads held in memory.
const maxUploadBytes = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	UserID    string `json:"userId"`
	AccessKey string `json:"accessKey"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.accessKey == "" {
		s.respondError(w, http.StatusNotImplemented, "login not enabled")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		s.respondError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.AccessKey != s.accessKey {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.tokens.IssueUserToken(req.UserID)
	if err != nil {
		s.logger.Error("issue token failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	uid := userID(r)
	s.logger.Debug("chat request",
		zap.String("user_id", uid), zap.String("chat_id", req.ChatID), zap.Int("messages", len(req.Messages)))

	reply, err := s.orchestrator.Handle(r.Context(), uid, &req)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrBadRequest):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, llm.ErrRateLimited):
			s.respondError(w, http.StatusTooManyRequests, "language model rate limited")
		case errors.Is(err, llm.ErrUnavailable):
			s.respondError(w, http.StatusServiceUnavailable, "language model unavailable")
		case errors.Is(err, llm.ErrUnauthorized):
			s.logger.Error("language model rejected credentials", zap.Error(err))
			s.respondError(w, http.StatusBadGateway, "language model rejected credentials")
		default:
			s.logger.Error("chat failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(data) > maxUploadBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	doc, err := s.reconciler.SaveUpload(r.Context(), userID(r), header.Filename, contentType, data)
	if errors.Is(err, reconcile.ErrBadFileName) {
		s.respondError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	if err != nil {
		s.logger.Error("upload failed", zap.String("name", header.Filename), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context(), userID(r), 0, 200)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), userID(r), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	uid := userID(r)

	doc, err := s.store.GetDocument(r.Context(), uid, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.blobs.Delete(doc.StoragePath); err != nil {
		s.logger.Error("delete blob failed", zap.String("path", doc.StoragePath), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.DeleteDocument(r.Context(), uid, id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("deleted document", zap.String("user_id", uid), zap.String("id", id))
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		s.respondError(w, http.StatusUnauthorized, "token is required")
		return
	}
	path, err := s.tokens.VerifyDownloadToken(token)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	data, _, err := s.blobs.Get(path)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	contentType := "application/octet-stream"
	if doc, err := s.store.FindDocumentByStoragePath(r.Context(), path); err == nil {
		if doc.ContentType != "" {
			contentType = doc.ContentType
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.store.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msgCount, err := s.store.CountMessages(ctx)
	if err != nil {
		s.logger.Error("status: count messages failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"documents": docCount,
		"messages":  msgCount,
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.BlobRoot,
		s.config.Storage.IndexPath,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = map[string]any{
		"provider":  s.config.LLM.Provider,
		"model":     s.config.LLM.Model,
		"blob_root": s.config.Storage.BlobRoot,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
