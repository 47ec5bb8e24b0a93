// Package attach serves inbound media over HTTP. Blobs are content
// addressed: the file name on disk and the URL path segment are the
// BLAKE3 hash of the bytes, so identical content stored twice yields
// one file and one stable URL.
package attach

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/hbruning/xgw/internal/store"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// Server stores attachment blobs and serves them read-only.
type Server struct {
	dir     string
	baseURL string
	db      *store.DB
	logger  *zap.Logger
	srv     *http.Server
}

// New creates the server. dir must exist; baseURL is the externally
// reachable prefix embedded in the URLs handed to clients.
func New(listen, baseURL, dir string, db *store.DB, logger *zap.Logger) *Server {
	s := &Server{
		dir:     dir,
		baseURL: baseURL,
		db:      db,
		logger:  logger,
	}
	r := mux.NewRouter()
	r.HandleFunc("/a/{key}/{name}", s.handleGet).Methods(http.MethodGet, http.MethodHead)
	s.srv = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Store writes the blob under its content key and returns the stable
// URL clients fetch it from.
func (s *Server) Store(data []byte, name, mime string) (string, error) {
	sum := blake3.Sum256(data)
	key := hex.EncodeToString(sum[:])

	path := filepath.Join(s.dir, key)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0600); err != nil {
			return "", fmt.Errorf("write blob: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return "", fmt.Errorf("publish blob: %w", err)
		}
	} else if err != nil {
		return "", err
	}

	if name == "" {
		name = "file"
	}
	if err := s.db.InsertAttachment(&store.Attachment{
		Key:  key,
		Name: name,
		MIME: mime,
		Size: int64(len(data)),
	}); err != nil {
		return "", fmt.Errorf("record blob: %w", err)
	}
	return fmt.Sprintf("%s/a/%s/%s", s.baseURL, key, url.PathEscape(name)), nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	a, err := s.db.GetAttachment(key)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("attachment lookup failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if a.MIME != "" {
		w.Header().Set("Content-Type", a.MIME)
	}
	// Content is immutable per key.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, filepath.Join(s.dir, key))
}

// Start begins serving in the background. It returns once the listener
// is bound, so a bad address fails startup instead of a later request.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("attachment listener: %w", err)
	}
	s.logger.Info("attachment server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("attachment server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
