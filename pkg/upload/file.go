package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MaxSize is the largest accepted file, in bytes.
const MaxSize = 10 << 20

// AllowedExtensions lists accepted file extensions, lower case, without dot.
var AllowedExtensions = []string{"jpg", "jpeg", "png", "gif", "webp", "bmp", "dds"}

// ValidationError rejects a file before any network call.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.File == "" {
		return "upload: " + e.Reason
	}
	return fmt.Sprintf("upload: %s: %s", e.File, e.Reason)
}

// File is one image to upload.
type File struct {
	Name string
	MIME string
	Data []byte

	// DisplayName overrides Name as the stored name when set.
	DisplayName string
}

// Size returns the payload length in bytes.
func (f File) Size() int64 { return int64(len(f.Data)) }

func (f File) displayName() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Name
}

func (f File) mimeType() string {
	if f.MIME != "" {
		return f.MIME
	}
	if t := mime.TypeByExtension(filepath.Ext(f.Name)); t != "" {
		return t
	}
	return http.DetectContentType(f.Data)
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Validate checks the extension allow-list and the size ceiling.
func Validate(f File) error {
	ext := Extension(f.Name)
	if ext == "" {
		return &ValidationError{File: f.Name, Reason: "file has no extension; allowed: " + strings.Join(AllowedExtensions, ", ")}
	}
	if !slices.Contains(AllowedExtensions, ext) {
		return &ValidationError{File: f.Name, Reason: fmt.Sprintf("extension %q is not allowed; allowed: %s", ext, strings.Join(AllowedExtensions, ", "))}
	}
	if f.Size() > MaxSize {
		return &ValidationError{File: f.Name, Reason: fmt.Sprintf("file is %d bytes; the limit is %d (10 MiB)", f.Size(), MaxSize)}
	}
	return nil
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// OpenFile reads path into a File and sniffs its MIME type. Oversized files
// are rejected from their size on disk without being read.
func OpenFile(path string) (File, error) {
	name := filepath.Base(path)
	st, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("upload: open %s: %w", path, err)
	}
	if st.Size() > MaxSize {
		return File{}, &ValidationError{File: name, Reason: fmt.Sprintf("file is %d bytes; the limit is %d (10 MiB)", st.Size(), MaxSize)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("upload: read %s: %w", path, err)
	}
	f := File{Name: name, Data: data}
	if sniffed := http.DetectContentType(data); sniffed != "application/octet-stream" {
		f.MIME = sniffed
	}
	return f, nil
}

// LegacyDisplayName strips the extension from name. An empty result becomes
// image_<unix millis>.
func LegacyDisplayName(name string, now time.Time) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if strings.TrimSpace(base) == "" {
		return "image_" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	return base
}
