package httpsource

import (
	"bytes"
	"encoding/binary"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"
)

// determineFilename extracts a filename from a URL and its probe response,
// adapted from the teacher's internal/utils.DetermineFilename: same
// priority order (Content-Disposition, query params, URL path, ZIP local
// file header, magic-byte extension), trimmed of its verbose/debug output
// since logx already covers that concern at the call site.
func determineFilename(rawURL string, resp *http.Response) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	var candidate string
	if _, name, err := httpheader.ContentDisposition(resp.Header); err == nil && name != "" {
		candidate = name
	}
	if candidate == "" {
		q := parsed.Query()
		if name := q.Get("filename"); name != "" {
			candidate = name
		} else if name := q.Get("file"); name != "" {
			candidate = name
		}
	}
	if candidate == "" {
		candidate = filepath.Base(parsed.Path)
	}

	filename := sanitizeFilename(candidate)

	header := make([]byte, 512)
	n, rerr := io.ReadFull(resp.Body, header)
	if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
		return "", rerr
	}
	header = header[:n]

	if candidate == "." && len(header) >= 30 && bytes.HasPrefix(header, []byte{0x50, 0x4B, 0x03, 0x04}) {
		nameLen := int(binary.LittleEndian.Uint16(header[26:28]))
		start, end := 30, 30+nameLen
		if end <= len(header) {
			if zipName := string(header[start:end]); zipName != "" {
				filename = filepath.Base(zipName)
			}
		}
	}

	if filepath.Ext(filename) == "" {
		if kind, _ := filetype.Match(header); kind != filetype.Unknown && kind.Extension != "" {
			filename += "." + kind.Extension
		}
	}

	if filename == "" || filename == "." || filename == "/" {
		filename = "download.bin"
	}
	return filename, nil
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." {
		return name
	}
	if name == "/" {
		return "_"
	}
	name = strings.TrimSpace(name)
	for _, c := range []string{"/", ":", "*", "?", "\"", "<", ">", "|"} {
		name = strings.ReplaceAll(name, c, "_")
	}
	return name
}
