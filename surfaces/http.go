package surfaces

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/packetd/auxdoc"
	"github.com/hazyhaar/packetd/cloud"
	"github.com/hazyhaar/packetd/idgen"
	"github.com/hazyhaar/packetd/kit"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/router"
	"github.com/hazyhaar/packetd/store"
)

// HTTPDeps collects what the HTTP surface needs.
type HTTPDeps struct {
	Router    *router.Router
	Hub       *SidebarHub
	Store     *store.Store
	Signer    cloud.Presigner
	Processor *auxdoc.Processor
	Logger    *slog.Logger
}

// Routes mounts the control plane: message dispatch, the sidebar socket,
// presign-verified content serving, and health.
func Routes(d HTTPDeps) chi.Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Processor == nil {
		d.Processor = auxdoc.NewProcessor()
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/ws/sidebar", d.Hub.HandleWebSocket)

	r.Post("/api/message", func(w http.ResponseWriter, req *http.Request) {
		var msg router.Message
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			writeJSON(w, http.StatusBadRequest, router.Response{Success: false, Error: "bad request: " + err.Error()})
			return
		}
		ctx := kit.WithTransport(req.Context(), "http")
		ctx = kit.WithRequestID(ctx, idgen.NewRequestID())
		done := make(chan router.Response, 1)
		d.Router.Dispatch(ctx, msg, func(resp router.Response) {
			done <- resp
		})
		select {
		case resp := <-done:
			status := http.StatusOK
			if !resp.Success {
				status = http.StatusUnprocessableEntity
			}
			writeJSON(w, status, resp)
		case <-req.Context().Done():
		}
	})

	r.Post("/api/images", func(w http.ResponseWriter, req *http.Request) {
		var img packet.Image
		if err := json.NewDecoder(req.Body).Decode(&img); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request: " + err.Error()})
			return
		}
		if len(img.SourceContent) == 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "image has no content"})
			return
		}
		if img.ID == "" {
			img.ID = idgen.NewImageID()
		}
		if img.Created.IsZero() {
			img.Created = time.Now().UTC()
		}
		if err := d.Store.PutPacketImage(req.Context(), &img); err != nil {
			d.Logger.Warn("surfaces: store image", "imageId", img.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"imageId": img.ID})
	})

	r.Get("/content/*", func(w http.ResponseWriter, req *http.Request) {
		serveContent(d, w, req)
	})

	return r
}

// serveContent serves a generated blob addressed by its canonical key. The
// URL must carry a valid presignature; HTML passes through the sanitizer.
func serveContent(d HTTPDeps, w http.ResponseWriter, req *http.Request) {
	if err := d.Signer.Verify(req.URL); err != nil {
		d.Logger.Warn("surfaces: content signature", "path", req.URL.Path, "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	key := strings.TrimPrefix(req.URL.Path, "/content/")

	file, err := lookupBlob(req.Context(), d.Store, key)
	if err != nil {
		d.Logger.Warn("surfaces: content lookup", "key", key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if file == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	body := file.Content
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	if strings.HasPrefix(ct, "text/html") {
		body = d.Processor.Sanitize(body)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Write(body)
}

// lookupBlob resolves a canonical key to its stored file by finding the
// instance item that owns the key.
func lookupBlob(ctx context.Context, s *store.Store, key string) (*store.File, error) {
	instances, err := s.GetPacketInstances(ctx)
	if err != nil {
		return nil, err
	}
	var owner *packet.Instance
	var item *packet.Item
	for _, in := range instances {
		if it := in.ItemByKey(key); it != nil {
			owner, item = in, it
			break
		}
	}
	if item == nil || item.PageID == "" {
		return nil, nil
	}
	files, err := s.GetGeneratedContent(ctx, owner.ImageID, item.PageID)
	if err != nil {
		return nil, err
	}
	want := path.Base(key)
	for i := range files {
		if files[i].Name == want {
			return &files[i], nil
		}
	}
	return nil, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
