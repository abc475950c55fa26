package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cctv-archive/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

const maxUploadMemory = 32 << 20

// Handler exposes the archive over HTTP using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: logger.Default(log).With(slog.String("component", "http"))}
}

// Routes registers the source management and retrieval endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/sources/list", http.StatusFound)
	})
	r.Route("/sources", func(r chi.Router) {
		r.Get("/list", h.ListSources)
		r.Post("/add/url", h.AddURL)
		r.Post("/add/file", h.AddFile)
		r.Put("/start", h.StartSource)
		r.Put("/pause", h.PauseSource)
		r.Put("/finish", h.FinishSource)
		r.Delete("/remove", h.RemoveSource)
	})
	r.Route("/videos/get", func(r chi.Router) {
		r.Get("/chunk", h.GetChunk)
		r.Get("/last_chunk", h.GetLastChunk)
		r.Get("/frame", h.GetFrame)
		r.Get("/segment", h.GetSegment)
	})
}

type sourceView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	StatusMsg string `json:"status_msg,omitempty"`
}

func newSourceView(s Source) sourceView {
	return sourceView{ID: int64(s.ID), Name: s.Name, URL: s.URL, Status: s.Status.String(), StatusMsg: s.StatusMsg}
}

type chunkView struct {
	ID        int64   `json:"id"`
	SourceID  int64   `json:"source_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

func newChunkView(c Chunk) chunkView {
	return chunkView{ID: int64(c.ID), SourceID: int64(c.SourceID), StartTime: EpochSeconds(c.StartTime), EndTime: EpochSeconds(c.EndTime)}
}

// ListSources handles GET /sources/list.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.svc.List(r.Context())
	if err != nil {
		h.fail(w, "list sources", err)
		return
	}
	out := make([]sourceView, 0, len(sources))
	for _, s := range sources {
		out = append(out, newSourceView(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// AddURL handles POST /sources/add/url?name=&url=.
func (h *Handler) AddURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	src, err := h.svc.CreateFromURL(r.Context(), q.Get("name"), q.Get("url"))
	if err != nil {
		h.fail(w, "add source", err)
		return
	}
	writeJSON(w, http.StatusCreated, newSourceView(src))
}

// AddFile handles POST /sources/add/file?name= with a multipart "file" part.
func (h *Handler) AddFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		h.fail(w, "add source", fmt.Errorf("%w: %v", ErrInvalidArgument, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, "add source", fmt.Errorf("%w: file: %v", ErrInvalidArgument, err))
		return
	}
	defer file.Close()

	src, err := h.svc.CreateFromUpload(r.Context(), r.URL.Query().Get("name"), header.Filename, file)
	if err != nil {
		h.fail(w, "add source", err)
		return
	}
	writeJSON(w, http.StatusCreated, newSourceView(src))
}

// StartSource handles PUT /sources/start?id=.
func (h *Handler) StartSource(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "start source", h.svc.Start)
}

// PauseSource handles PUT /sources/pause?id=.
func (h *Handler) PauseSource(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "pause source", h.svc.Pause)
}

// FinishSource handles PUT /sources/finish?id=.
func (h *Handler) FinishSource(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "finish source", h.svc.Finish)
}

// RemoveSource handles DELETE /sources/remove?id=.
func (h *Handler) RemoveSource(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "remove source", h.svc.Remove)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, SourceID) error) {
	id, err := queryInt(r, "id")
	if err != nil {
		h.fail(w, op, err)
		return
	}
	if err := fn(r.Context(), SourceID(id)); err != nil {
		h.fail(w, op, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetChunk handles GET /videos/get/chunk?chunk_id=.
func (h *Handler) GetChunk(w http.ResponseWriter, r *http.Request) {
	id, err := queryInt(r, "chunk_id")
	if err != nil {
		h.fail(w, "get chunk", err)
		return
	}
	chunk, err := h.svc.Chunk(r.Context(), ChunkID(id))
	if err != nil {
		h.fail(w, "get chunk", err)
		return
	}
	name := fmt.Sprintf("%d_%d%s", chunk.SourceID, chunk.ID, filepath.Ext(chunk.FilePath))
	h.serveFile(w, r, "get chunk", chunk.FilePath, name)
}

// GetLastChunk handles GET /videos/get/last_chunk?source_id=.
func (h *Handler) GetLastChunk(w http.ResponseWriter, r *http.Request) {
	id, err := queryInt(r, "source_id")
	if err != nil {
		h.fail(w, "get last chunk", err)
		return
	}
	chunk, err := h.svc.LastChunk(r.Context(), SourceID(id))
	if err != nil {
		h.fail(w, "get last chunk", err)
		return
	}
	writeJSON(w, http.StatusOK, newChunkView(chunk))
}

// GetFrame handles GET /videos/get/frame?source_id=&timestamp=.
func (h *Handler) GetFrame(w http.ResponseWriter, r *http.Request) {
	id, err := queryInt(r, "source_id")
	if err != nil {
		h.fail(w, "get frame", err)
		return
	}
	ts, err := queryTime(r, "timestamp")
	if err != nil {
		h.fail(w, "get frame", err)
		return
	}
	data, err := h.svc.Frame(r.Context(), SourceID(id), ts)
	if err != nil {
		h.fail(w, "get frame", err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetSegment handles GET /videos/get/segment?source_id=&start_time=&end_time=.
// The assembled file is removed once the response has been written.
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	id, err := queryInt(r, "source_id")
	if err != nil {
		h.fail(w, "get segment", err)
		return
	}
	start, err := queryTime(r, "start_time")
	if err != nil {
		h.fail(w, "get segment", err)
		return
	}
	end, err := queryTime(r, "end_time")
	if err != nil {
		h.fail(w, "get segment", err)
		return
	}
	seg, err := h.svc.Segment(r.Context(), SourceID(id), start, end)
	if err != nil {
		h.fail(w, "get segment", err)
		return
	}
	defer os.Remove(seg.Path)
	h.serveFile(w, r, "get segment", seg.Path, seg.Name)
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, op, path, name string) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		h.fail(w, op, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.fail(w, op, err)
		return
	}
	w.Header().Set("Content-Type", contentType(path))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".mp4":
		return "video/mp4"
	case ".mjpeg":
		return "video/x-motion-jpeg"
	}
	return "application/octet-stream"
}

// fail maps err to a status code and writes a JSON error body.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.log.Error(op+" failed", slog.String("error", err.Error()))
	} else {
		h.log.Debug(op+" rejected", slog.Int("status", status), slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidArgument, key, v)
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("%w: %s must be epoch seconds, got %q", ErrInvalidArgument, key, v)
	}
	return FromEpochSeconds(f), nil
}
