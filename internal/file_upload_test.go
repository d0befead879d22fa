package internal

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"relaychat/internal/storage"
)

// TestFileUploadRoundTrip uploads a file as an online user and downloads it back
func TestFileUploadRoundTrip(t *testing.T) {
	srv := newTestServer(t, Options{})
	connect(t, srv.hub, "testuser")

	fileContent := []byte("Hello, this is a test file!")
	rec := upload(t, srv, "testuser", "test.txt", fileContent)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var attachment storage.Attachment
	if err := json.NewDecoder(rec.Body).Decode(&attachment); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if attachment.Type != "file" || attachment.Name != "test.txt" || attachment.Size != int64(len(fileContent)) {
		t.Fatalf("unexpected attachment %+v", attachment)
	}
	if !strings.HasPrefix(attachment.URL, "/api/files/") || !strings.HasPrefix(attachment.MimeType, "text/plain") {
		t.Fatalf("unexpected url or mime type %+v", attachment)
	}

	rec = httptest.NewRecorder()
	srv.HandleFileDownload(rec, httptest.NewRequest(http.MethodGet, attachment.URL, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), fileContent) {
		t.Fatalf("downloaded %q, want %q", rec.Body.Bytes(), fileContent)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") || !strings.Contains(got, "test.txt") {
		t.Fatalf("unexpected Content-Disposition %q", got)
	}

	// the descriptor is accepted as a message attachment
	uploader, _ := srv.hub.registry.Lookup("testuser")
	msg := send(t, srv.hub, uploader, MessageInput{Attachment: &attachment})
	if msg.Attachment == nil || msg.Attachment.URL != attachment.URL {
		t.Fatalf("expected uploaded attachment on the message, got %+v", msg.Attachment)
	}
}

func TestFileUploadImageIsInline(t *testing.T) {
	srv := newTestServer(t, Options{})
	connect(t, srv.hub, "alice")

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	rec := upload(t, srv, "alice", "pic.png", png)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var attachment storage.Attachment
	if err := json.NewDecoder(rec.Body).Decode(&attachment); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if attachment.Type != "image" || attachment.MimeType != "image/png" {
		t.Fatalf("expected png image, got %+v", attachment)
	}

	rec = httptest.NewRecorder()
	srv.HandleFileDownload(rec, httptest.NewRequest(http.MethodGet, attachment.URL, nil))
	if got := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "inline") {
		t.Fatalf("images should be served inline, got %q", got)
	}
}

// TestFileSizeLimit verifies files exceeding size limit are rejected
func TestFileSizeLimit(t *testing.T) {
	srv := newTestServer(t, Options{MaxAttachmentBytes: 100})
	connect(t, srv.hub, "testuser")

	rec := upload(t, srv, "testuser", "large.txt", bytes.Repeat([]byte("a"), 200))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "100 B") {
		t.Fatalf("expected a readable limit in the error, got %s", rec.Body.String())
	}
}

func TestFileUploadRequiresOnlineUser(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := upload(t, srv, "ghost", "notes.txt", []byte("boo"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for an offline uploader, got %d", rec.Code)
	}
}

func TestFileDownloadUnknownID(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := httptest.NewRecorder()
	srv.HandleFileDownload(rec, httptest.NewRequest(http.MethodGet, "/api/files/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	srv.HandleFileDownload(rec, httptest.NewRequest(http.MethodGet, "/api/files/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without an id, got %d", rec.Code)
	}
}

func upload(t *testing.T, srv *Server, username, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(part, bytes.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteField("username", username); err != nil {
		t.Fatal(err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.HandleFileUpload(rec, req)
	return rec
}
