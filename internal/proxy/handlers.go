package proxy

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"safelinks/cleaner"
	"safelinks/dom"
	"safelinks/links"
)

const maxCleanBytes = 10 << 20

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.cfg.IndexHTML)))
	io.WriteString(w, s.cfg.IndexHTML)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}

// handleUntangle backs the "copy original link" menu entry: it answers with
// the decoded URL as plain text.
func (s *Server) handleUntangle(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, s.untangler.Untangle(raw))
}

type previewResponse struct {
	URL         string       `json:"url"`
	Destination string       `json:"destination"`
	Wrapped     bool         `json:"wrapped"`
	Format      links.Format `json:"format"`
}

// handlePreview backs the hover preview: what a link really points at.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{
		URL:         raw,
		Destination: s.untangler.Untangle(raw),
		Wrapped:     s.untangler.IsWrapped(raw),
		Format:      s.untangler.Detect(raw),
	})
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	src, err := s.cleanSource(w, r)
	if err != nil {
		status := http.StatusBadRequest
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}
	preview := s.cfg.Preview
	if v, ok := queryBool(r, "preview"); ok {
		preview = v
	}
	out, res, err := s.clean(src, "", preview)
	if err != nil {
		s.logger.Error("proxy: clean failed", slog.String("error", err.Error()))
		http.Error(w, "clean failed", http.StatusInternalServerError)
		return
	}
	writeCleanHeaders(w, res)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(out)
}

// cleanSource reads the markup to clean: the "html" field of a submitted
// form, or the raw request body.
func (s *Server) cleanSource(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCleanBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxCleanBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, err
		}
		return []byte(r.PostFormValue("html")), nil
	}
	return io.ReadAll(r.Body)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	target, err := normalizeTarget(r.URL.Query().Get("url"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	site := s.sites.Find(target)
	js := site.UseJS(s.cfg.Render.JS)
	if v, ok := queryBool(r, "js"); ok {
		js = v
	}
	preview := s.cfg.Preview
	if v, ok := queryBool(r, "preview"); ok {
		preview = v
	}

	key := cacheKey(target, js, preview)
	if data, finalURL, ok := s.cache.Select(key); ok {
		w.Header().Set("X-Cache", "hit")
		w.Header().Set("Content-Location", finalURL)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
		return
	}

	hdr := http.Header{}
	if lang := r.Header.Get("Accept-Language"); lang != "" {
		hdr.Set("Accept-Language", lang)
	}
	site.Apply(hdr)
	page, err := s.fetcher.Fetch(r.Context(), target, hdr, js)
	if err != nil {
		s.logger.Warn("proxy: fetch failed", slog.String("url", target), slog.Bool("js", js), slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if ct := page.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		http.Error(w, "upstream is not an HTML page: "+ct, http.StatusUnsupportedMediaType)
		return
	}

	out, res, err := s.clean(page.Body, page.URL, preview)
	if err != nil {
		s.logger.Error("proxy: clean failed", slog.String("url", page.URL), slog.String("error", err.Error()))
		http.Error(w, "clean failed", http.StatusInternalServerError)
		return
	}
	if page.Status < http.StatusBadRequest {
		s.cache.Store(key, page.URL, out)
	}
	writeCleanHeaders(w, res)
	w.Header().Set("X-Cache", "miss")
	w.Header().Set("Content-Location", page.URL)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if page.Status != 0 && page.Status != http.StatusOK {
		w.WriteHeader(page.Status)
	}
	w.Write(out)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Failures []links.Diagnostic `json:"failures"`
		Cached   int                `json:"cached_pages"`
	}{
		Failures: s.recorder.Recent(),
		Cached:   s.cache.Len(),
	})
}

// clean runs one guarded pass over src. base, when set, is injected as the
// document base URL so relative links keep working.
func (s *Server) clean(src []byte, base string, preview bool) ([]byte, dom.Result, error) {
	doc, err := dom.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, dom.Result{}, err
	}
	opts := []cleaner.Option{
		cleaner.WithMarkers(s.cfg.Markers),
		cleaner.WithUntangler(s.untangler),
		cleaner.WithLogger(s.logger),
	}
	if preview {
		opts = append(opts, cleaner.WithPreview(s.cfg.PreviewAttr))
	}
	page, err := cleaner.NewPage(doc, opts...)
	if err != nil {
		return nil, dom.Result{}, err
	}
	if err := page.Start(); err != nil {
		return nil, dom.Result{}, err
	}
	page.Stop()

	injectBase(doc, base)
	res, listed := page.Stats()
	if preview && listed > 0 {
		injectStylesheet(doc, s.styles)
	}
	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return nil, res, err
	}
	return buf.Bytes(), res, nil
}

func writeCleanHeaders(w http.ResponseWriter, res dom.Result) {
	w.Header().Set("X-Safelinks-Anchors", strconv.Itoa(res.Anchors))
	w.Header().Set("X-Safelinks-Texts", strconv.Itoa(res.Texts))
}
