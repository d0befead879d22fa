package internal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"relaychat/internal/storage"
)

// multipart framing allowance on top of the file itself
const uploadOverhead = 64 * 1024

// HandleFileUpload stores a multipart "file" sent by an online user and
// returns the attachment descriptor to put in a message.
func (s *Server) HandleFileUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	maxSize := s.opts.MaxAttachmentBytes
	tooLarge := fmt.Errorf("file too large, limit is %s", humanize.IBytes(uint64(maxSize)))

	r.Body = http.MaxBytesReader(w, r.Body, maxSize+uploadOverhead)
	if err := r.ParseMultipartForm(maxSize + uploadOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, errors.New("expected a multipart form"))
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	if username == "" {
		username = strings.TrimSpace(r.Header.Get(DisplayNameHeader))
	}
	if _, online := s.hub.registry.Lookup(username); !online {
		writeError(w, http.StatusForbidden, errors.New("uploader must be online"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("no file provided"))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == ".." || filename == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, errors.New("invalid filename"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	if int64(len(data)) > maxSize {
		writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("file is empty"))
		return
	}

	mimeType := detectMimeType(header.Header.Get("Content-Type"), filename, data)
	sum := sha256.Sum256(data)
	stored := storage.StoredFile{
		ID:         uuid.NewString(),
		Name:       filename,
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
		SHA256:     hex.EncodeToString(sum[:]),
		UploadedBy: username,
		UploadedAt: time.Now(),
	}
	if err := s.store.SaveFile(r.Context(), stored, data); err != nil {
		s.log.Error("save upload", "username", username, "file", filename, "err", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	s.metrics.ObserveUpload(stored.SizeBytes)
	s.log.Info("file uploaded", "username", username, "file", filename, "size", humanize.IBytes(uint64(stored.SizeBytes)), "id", stored.ID)

	writeJSON(w, http.StatusCreated, storage.Attachment{
		Type:     attachmentCategory(mimeType),
		Name:     filename,
		MimeType: mimeType,
		URL:      filesPathPrefix + stored.ID,
		Size:     stored.SizeBytes,
	})
}

// HandleFileDownload serves /api/files/{id}.
func (s *Server) HandleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	fileID := strings.Trim(strings.TrimPrefix(r.URL.Path, filesPathPrefix), "/")
	if fileID == "" || strings.Contains(fileID, "/") {
		http.Error(w, "file ID required", http.StatusBadRequest)
		return
	}
	info, data, err := s.store.GetFile(r.Context(), fileID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("load upload", "id", fileID, "err", err)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	disposition := "attachment"
	if category := attachmentCategory(info.MimeType); category == "image" || category == "video" {
		disposition = "inline"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": info.Name}))
	w.Header().Set("Content-Type", info.MimeType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("ETag", `"`+info.SHA256+`"`)
	http.ServeContent(w, r, info.Name, info.UploadedAt, bytes.NewReader(data))
}

// detectMimeType prefers the declared part type, then the file extension,
// then content sniffing.
func detectMimeType(declared, filename string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if sniffed == "" {
		return "application/octet-stream"
	}
	return sniffed
}
