package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/upload"
)

const (
	uploadsPrefix = "/uploads/"
	maxPageLimit  = 100
	// multipart overhead allowed on top of the file payload
	formOverhead = 1 << 20
	maxBulkFiles = 20
)

// imageJSON is the wire form of an image record.
type imageJSON struct {
	ID           string          `json:"_id"`
	Filename     string          `json:"filename"`
	OriginalName string          `json:"originalname"`
	MIMEType     string          `json:"mimetype,omitempty"`
	Size         int64           `json:"size"`
	URL          string          `json:"url,omitempty"`
	Base64       string          `json:"base64,omitempty"`
	Hash         string          `json:"hash,omitempty"`
	UploadedBy   *model.Uploader `json:"uploadedBy,omitempty"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

func toImageJSON(img model.Image) imageJSON {
	out := imageJSON{
		ID:           img.ID,
		Filename:     img.DisplayName,
		OriginalName: img.DisplayName,
		MIMEType:     img.MIME,
		Size:         img.Size,
		Hash:         img.Hash,
		UploadedBy:   img.Uploader,
		CreatedAt:    img.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    img.UpdatedAt.UTC().Format(time.RFC3339),
	}
	switch img.Source.Kind() {
	case model.SourceLinked:
		out.URL = img.Source.URL()
		out.Filename = path.Base(out.URL)
	case model.SourceInline:
		data, m := img.Source.Data()
		out.Base64 = model.DataURL(data, m)
	}
	return out
}

func toImageList(imgs []model.Image) []imageJSON {
	out := make([]imageJSON, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, toImageJSON(img))
	}
	return out
}

type imageData struct {
	Image imageJSON `json:"image"`
}

type imageListData struct {
	Images     []imageJSON       `json:"images"`
	Pagination *model.Pagination `json:"pagination,omitempty"`
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	imgs, total, err := s.store.ListImages(r.Context(), (page-1)*limit, limit)
	if err != nil {
		slog.Error("list images", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, "", imageListData{
		Images: toImageList(imgs),
		Pagination: &model.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: model.PageCount(total, limit),
		},
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.store.GetImage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		slog.Error("get image", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if img == nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	writeData(w, http.StatusOK, "", imageData{Image: toImageJSON(*img)})
}

// inlineImageRequest is the JSON body of an inline upload.
type inlineImageRequest struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname"`
	MIMEType     string `json:"mimetype"`
	Base64       string `json:"base64"`
}

func (s *Server) handleCreateImage(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		s.createFromForm(w, r)
	case "application/json":
		s.createInline(w, r)
	default:
		writeError(w, http.StatusUnsupportedMediaType, "expected multipart/form-data or application/json")
	}
}

func (s *Server) createFromForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxSize+formOverhead)
	if err := r.ParseMultipartForm(upload.MaxSize + formOverhead); err != nil {
		s.rejectUpload(w, "", "file too large or malformed form")
		return
	}
	headers := r.MultipartForm.File[upload.FileField]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no file uploaded: expected field "+upload.FileField)
		return
	}
	f, err := readFormFile(headers[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.DisplayName = strings.TrimSpace(r.FormValue("originalname"))
	if err := upload.Validate(f); err != nil {
		s.rejectUpload(w, f.Name, err.Error())
		return
	}

	img, err := s.storeFile(r, f)
	if err != nil {
		slog.Error("store upload", "file", f.Name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusCreated, "image uploaded", imageData{Image: toImageJSON(img)})
}

func (s *Server) createInline(w http.ResponseWriter, r *http.Request) {
	// base64 inflates the payload by a third
	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxSize*4/3+formOverhead)
	var req inlineImageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.rejectUpload(w, "", "invalid JSON payload")
		return
	}
	data, mimeType, err := decodeBase64(req.Base64, req.MIMEType)
	if err != nil {
		s.rejectUpload(w, req.Filename, "base64: "+err.Error())
		return
	}
	f := upload.File{Name: req.Filename, MIME: mimeType, Data: data, DisplayName: req.OriginalName}
	if err := upload.Validate(f); err != nil {
		s.rejectUpload(w, f.Name, err.Error())
		return
	}

	img := model.Image{
		DisplayName: displayName(f),
		Source:      model.Inline(data, mimeType),
		MIME:        mimeType,
		Size:        f.Size(),
		Hash:        upload.Hash(data),
		Uploader:    accountFrom(r.Context()).Uploader(),
	}
	if err := s.store.CreateImage(r.Context(), &img); err != nil {
		slog.Error("store inline upload", "file", f.Name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.metrics.ImagesUploaded.Add(1)
	s.metrics.UploadBytes.Add(img.Size)
	writeData(w, http.StatusCreated, "image uploaded", imageData{Image: toImageJSON(img)})
}

func (s *Server) handleBulkImages(w http.ResponseWriter, r *http.Request) {
	limit := int64(maxBulkFiles) * (upload.MaxSize + formOverhead)
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(upload.MaxSize + formOverhead); err != nil {
		s.rejectUpload(w, "", "files too large or malformed form")
		return
	}
	headers := r.MultipartForm.File[upload.BulkField]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded: expected field "+upload.BulkField)
		return
	}
	if len(headers) > maxBulkFiles {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per bulk upload", maxBulkFiles))
		return
	}

	files := make([]upload.File, 0, len(headers))
	for _, h := range headers {
		f, err := readFormFile(h)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := upload.Validate(f); err != nil {
			s.rejectUpload(w, f.Name, err.Error())
			return
		}
		files = append(files, f)
	}

	stored := make([]model.Image, 0, len(files))
	for _, f := range files {
		img, err := s.storeFile(r, f)
		if err != nil {
			slog.Error("store bulk upload", "file", f.Name, "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		stored = append(stored, img)
	}
	writeData(w, http.StatusCreated, fmt.Sprintf("%d images uploaded", len(stored)), imageListData{Images: toImageList(stored)})
}

func (s *Server) rejectUpload(w http.ResponseWriter, file, reason string) {
	s.metrics.ValidationFailures.Add(1)
	slog.Debug("upload rejected", "file", file, "reason", reason)
	writeError(w, http.StatusBadRequest, reason)
}

func readFormFile(h *multipart.FileHeader) (upload.File, error) {
	src, err := h.Open()
	if err != nil {
		return upload.File{}, fmt.Errorf("open %s: %w", h.Filename, err)
	}
	defer func() { _ = src.Close() }()
	data, err := io.ReadAll(io.LimitReader(src, upload.MaxSize+1))
	if err != nil {
		return upload.File{}, fmt.Errorf("read %s: %w", h.Filename, err)
	}
	return upload.File{Name: h.Filename, MIME: h.Header.Get("Content-Type"), Data: data}, nil
}

func decodeBase64(encoded, mimeType string) ([]byte, string, error) {
	if data, m, err := model.ParseDataURL(encoded); err == nil {
		return data, m, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", errors.New("payload is neither a data URL nor base64")
	}
	return data, mimeType, nil
}

func displayName(f upload.File) string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Name
}

// storeFile writes f under the upload directory and records it.
func (s *Server) storeFile(r *http.Request, f upload.File) (model.Image, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o750); err != nil {
		return model.Image{}, fmt.Errorf("create upload dir: %w", err)
	}
	id := uuid.NewString()
	name := id + "." + upload.Extension(f.Name)
	target := filepath.Join(s.cfg.UploadDir, name)
	if err := os.WriteFile(target, f.Data, 0o640); err != nil {
		return model.Image{}, fmt.Errorf("write %s: %w", name, err)
	}

	mimeType := f.MIME
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(f.Data)
	}
	img := model.Image{
		ID:          id,
		DisplayName: displayName(f),
		Source:      model.Linked(uploadsPrefix + name),
		MIME:        mimeType,
		Size:        f.Size(),
		Hash:        upload.Hash(f.Data),
		Uploader:    accountFrom(r.Context()).Uploader(),
	}
	if err := s.store.CreateImage(r.Context(), &img); err != nil {
		_ = os.Remove(target)
		return model.Image{}, err
	}
	s.metrics.ImagesUploaded.Add(1)
	s.metrics.UploadBytes.Add(img.Size)
	slog.Info("image uploaded", "id", img.ID, "name", img.DisplayName, "size", img.Size)
	return img, nil
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	img, err := s.store.GetImage(r.Context(), id)
	if err != nil {
		slog.Error("delete image: lookup", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if img == nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if _, err := s.store.DeleteImage(r.Context(), id); err != nil {
		slog.Error("delete image", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.removeStoredFile(img.Source)
	s.metrics.ImagesDeleted.Add(1)
	slog.Info("image deleted", "id", id, "by", accountFrom(r.Context()).Username)
	writeData(w, http.StatusOK, "image deleted", nil)
}

// removeStoredFile deletes the file behind a linked upload. Missing files are
// ignored; the record is already gone.
func (s *Server) removeStoredFile(src model.Source) {
	if src.Kind() != model.SourceLinked || !strings.HasPrefix(src.URL(), uploadsPrefix) {
		return
	}
	name := path.Base(src.URL())
	if err := os.Remove(filepath.Join(s.cfg.UploadDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove upload", "file", name, "err", err)
	}
}
