// Package archive packages a finished mashup track into a zip for delivery.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultBaseName is used when sanitizing a query leaves nothing usable.
const DefaultBaseName = "mashup"

// SanitizeName derives an archive-safe base name from a free-form query.
// Runs of non-alphanumeric characters collapse to a single dash.
func SanitizeName(query string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(query) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	name := strings.TrimRight(b.String(), "-")
	if name == "" {
		return DefaultBaseName
	}
	return name
}

// BuildZip writes a zip at zipPath containing exactly one file: srcPath
// stored under innerName. The header is fixed so identical inputs produce
// identical archives.
func BuildZip(srcPath, zipPath, innerName string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   innerName,
		Method: zip.Deflate,
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("create archive entry: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		zw.Close()
		return fmt.Errorf("write archive entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}
