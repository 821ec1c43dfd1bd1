// Package httpapi is the HTTP Serving Layer (§4.H): range parsing, response
// assembly, HIT/MISS labelling, and disk-stream vs remote-stream fan-in.
//
// Routed with github.com/go-chi/chi/v5 (present in the teacher's own
// go.mod, though its own router-wiring source was not retrieved in the
// pack). Exact header set and control flow grounded on
// original_source/bot/server/stream_routes.py's media_streamer/
// stream_from_cache.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/streamcache/gateway/internal/cachestore"
	"github.com/streamcache/gateway/internal/catalog"
	"github.com/streamcache/gateway/internal/logging"
	"github.com/streamcache/gateway/internal/populator"
	"github.com/streamcache/gateway/internal/predictor"
	"github.com/streamcache/gateway/internal/rangereader"
	"github.com/streamcache/gateway/internal/remote"
	"github.com/streamcache/gateway/internal/session"
)

// Server wires together every component consumed by the serving layer. It
// is constructed explicitly once at startup (SPEC_FULL.md §9) and holds no
// package-level mutable state.
type Server struct {
	Store     remote.Store
	Pool      *session.Pool
	Cache     *cachestore.Store
	Populator *populator.Populator
	Predictor *predictor.Predictor
	Catalog   catalog.Index
	Log       *logging.Logger
}

// Router builds the chi router exposing the core HTTP surface (§6).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/{container}/{name}", s.handleStream)
	return r
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	container := chi.URLParam(r, "container")
	name := chi.URLParam(r, "name")
	itemID := r.URL.Query().Get("id")
	hash := r.URL.Query().Get("hash")
	requestID := uuid.NewString()

	desc, err := s.Store.Locate(ctx, container, itemID)
	if err != nil {
		s.writeLocateError(ctx, w, requestID, container, itemID, err)
		return
	}

	if len(desc.ContentID) < 6 || desc.ContentID[:6] != hash {
		s.Log.Infof("httpapi", "[%s] invalid hash for %s/%s", requestID, container, itemID)
		http.Error(w, "invalid hash", http.StatusForbidden)
		return
	}

	from, until, has416 := parseRange(r.Header.Get("Range"), desc.Size)
	if has416 {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", desc.Size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	cacheKey := container + ":" + itemID + ":" + desc.ContentID
	displayName := name
	if desc.Name != "" {
		displayName = desc.Name
	}

	if entry, found, err := s.Cache.Exists(cacheKey); err == nil && found {
		s.serveFromCache(ctx, w, r, requestID, container, entry.Path, displayName, entry.Mime, cacheKey, from, until, desc.Size)
		return
	}

	s.serveFromRemote(ctx, w, r, requestID, container, itemID, desc, cacheKey, displayName, from, until)
}

func (s *Server) writeLocateError(ctx context.Context, w http.ResponseWriter, requestID, container, itemID string, err error) {
	switch {
	case remote.IsNotFound(err):
		if s.Catalog != nil {
			if rmErr := s.Catalog.Remove(ctx, container, itemID); rmErr != nil {
				s.Log.Errorf("httpapi", "[%s] failed to delete stale catalog row for %s/%s: %v", requestID, container, itemID, rmErr)
			}
		}
		s.Log.Infof("httpapi", "[%s] not found %s/%s", requestID, container, itemID)
		http.Error(w, "not found", http.StatusNotFound)
	default:
		s.Log.Errorf("httpapi", "[%s] locate failed for %s/%s: %v", requestID, container, itemID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// parseRange implements §4.H step 1/3. A missing Range header is treated as
// a full-file request (from=0, until=size-1). has416 signals the range
// failed validation (0 <= from <= until <= size-1).
func parseRange(header string, size int64) (from, until int64, has416 bool) {
	if header == "" {
		return 0, size - 1, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, true
	}

	var err error
	if parts[0] == "" {
		// suffix range: bytes=-500
		suffix, serr := strconv.ParseInt(parts[1], 10, 64)
		if serr != nil || suffix <= 0 {
			return 0, 0, true
		}
		from = size - suffix
		if from < 0 {
			from = 0
		}
		until = size - 1
	} else {
		from, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, true
		}
		if parts[1] == "" {
			until = size - 1
		} else {
			until, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, 0, true
			}
		}
	}

	if from < 0 || until < from || until > size-1 {
		return 0, 0, true
	}
	return from, until, false
}

func setCommonHeaders(w http.ResponseWriter, mime, name string, cacheStatus string) {
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Content-Length")
	w.Header().Set("X-Cache", cacheStatus)
}

func (s *Server) serveFromCache(ctx context.Context, w http.ResponseWriter, r *http.Request, requestID, container, path, name, mime, cacheKey string, from, until, size int64) {
	f, err := s.Cache.OpenRead(path)
	if err != nil {
		s.Log.Errorf("httpapi", "[%s] cache open failed for %q: %v", requestID, cacheKey, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if mime == "" {
		mime = sniffMime(f, name)
	}

	setCommonHeaders(w, mime, name, "HIT")
	writeRangeStatus(w, from, until, size, r.Header.Get("Range") != "")

	if err := cachestore.ReadRange(f, w, from, until); err != nil {
		s.Log.Debugf("httpapi", "[%s] client disconnected mid-stream: %v", requestID, err)
	}

	entry, err := s.Cache.Index().RecordAccess(cacheKey, time.Now().UTC())
	if err != nil {
		s.Log.Errorf("httpapi", "[%s] record access failed for %q: %v", requestID, cacheKey, err)
		return
	}
	_ = entry
	s.Predictor.Trigger(context.Background(), container, name, -1)
}

func (s *Server) serveFromRemote(ctx context.Context, w http.ResponseWriter, r *http.Request, requestID, container, itemID string, desc remote.Descriptor, cacheKey, name string, from, until int64) {
	liveSession := s.Pool.PickLeastLoaded()

	var rc interface {
		Read([]byte) (int, error)
		Close() error
	}
	err := s.Pool.WithSession(liveSession, func(*session.State) error {
		var streamErr error
		rc, streamErr = rangereader.Reader(ctx, s.Log, s.Store, s.Pool, desc, liveSession, from, until)
		return streamErr
	})
	if err != nil {
		s.Log.Errorf("httpapi", "[%s] stream failed for %s/%s: %v", requestID, container, itemID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	mime := desc.Mime
	setCommonHeaders(w, mime, name, "MISS")
	writeRangeStatus(w, from, until, desc.Size, r.Header.Get("Range") != "")

	buf := make([]byte, 32*1024)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.Log.Debugf("httpapi", "[%s] client disconnected mid-stream", requestID)
				break
			}
		}
		if rerr != nil {
			break
		}
	}

	ext := extOf(desc.Name)
	if ext == "" {
		ext = extOf(name)
	}
	if populator.IsCacheable(desc.Mime, ext) {
		bgSession := s.Pool.PickOther(liveSession)
		s.Populator.Trigger(context.Background(), populator.Request{
			CacheKey:     cacheKey,
			ContainerID:  container,
			ItemID:       itemID,
			SessionIndex: bgSession,
			Descriptor:   desc,
		})
	}

	s.Predictor.Trigger(context.Background(), container, name, liveSession)
}

func writeRangeStatus(w http.ResponseWriter, from, until, size int64, hadRangeHeader bool) {
	length := until - from + 1
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	if hadRangeHeader {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", from, until, size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

func sniffMime(f *os.File, name string) string {
	mt, err := mimetype.DetectFile(f.Name())
	if err != nil {
		return "application/octet-stream"
	}
	_, _ = f.Seek(0, 0)
	_ = name
	return mt.String()
}

func extOf(name string) string {
	for i := len(name) - 1; i >= 0 && name[i] != '/'; i-- {
		if name[i] == '.' {
			return name[i:]
		}
	}
	return ""
}
