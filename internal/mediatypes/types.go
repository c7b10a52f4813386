package mediatypes

import (
	"path/filepath"
	"strings"
)

// FileType classifies a file found under the media root.
type FileType string

const (
	FileTypeVideo    FileType = "video"
	FileTypeImage    FileType = "image"
	FileTypeSubtitle FileType = "subtitle"
	FileTypeOther    FileType = "other"
)

// Format describes one known extension.
type Format struct {
	Type FileType
	MIME string
}

const octetStream = "application/octet-stream"

var formats = map[string]Format{
	// Videos the scanner indexes.
	".mp4":  {FileTypeVideo, "video/mp4"},
	".m4v":  {FileTypeVideo, "video/x-m4v"},
	".mkv":  {FileTypeVideo, "video/x-matroska"},
	".webm": {FileTypeVideo, "video/webm"},
	".avi":  {FileTypeVideo, "video/x-msvideo"},
	".mov":  {FileTypeVideo, "video/quicktime"},
	".wmv":  {FileTypeVideo, "video/x-ms-wmv"},
	".flv":  {FileTypeVideo, "video/x-flv"},
	".mpeg": {FileTypeVideo, "video/mpeg"},
	".mpg":  {FileTypeVideo, "video/mpeg"},
	".ts":   {FileTypeVideo, "video/mp2t"},
	".3gp":  {FileTypeVideo, "video/3gpp"},

	// Poster candidates.
	".jpg":  {FileTypeImage, "image/jpeg"},
	".jpeg": {FileTypeImage, "image/jpeg"},
	".png":  {FileTypeImage, "image/png"},
	".webp": {FileTypeImage, "image/webp"},

	".srt": {FileTypeSubtitle, "application/x-subrip"},
	".vtt": {FileTypeSubtitle, "text/vtt"},
}

// Ext returns the lowercased extension of name, including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// Lookup returns the format of name by its extension, case-insensitively.
func Lookup(name string) (Format, bool) {
	f, ok := formats[Ext(name)]
	return f, ok
}

// TypeOf returns the FileType of name, FileTypeOther when the extension is
// unknown.
func TypeOf(name string) FileType {
	if f, ok := Lookup(name); ok {
		return f.Type
	}
	return FileTypeOther
}

// MimeType returns the MIME type of name, or application/octet-stream.
func MimeType(name string) string {
	if f, ok := Lookup(name); ok {
		return f.MIME
	}
	return octetStream
}

func IsVideo(name string) bool    { return TypeOf(name) == FileTypeVideo }
func IsImage(name string) bool    { return TypeOf(name) == FileTypeImage }
func IsSubtitle(name string) bool { return TypeOf(name) == FileTypeSubtitle }
