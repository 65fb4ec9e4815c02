package github

import (
	"path"
	"strings"
)

// PullRequest is the PR data a review needs.
type PullRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Diff        string `json:"diff"`
	HeadSHA     string `json:"headSha"`
}

// File is a repository file with its decoded content.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Comment is a PR conversation comment.
type Comment struct {
	User string `json:"user"`
	Body string `json:"body"`
}

// binaryExtensions are skipped when fetching and indexing repository files.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".svg": true, ".tiff": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".tgz": true,
	".bz2": true, ".7z": true, ".rar": true, ".jar": true, ".war": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".o": true, ".a": true, ".class": true, ".pyc": true, ".wasm": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".wav": true,
	".webm": true, ".flac": true, ".ogg": true,
	".db": true, ".sqlite": true, ".lock": true,
}

// IsBinaryPath reports whether p has an extension excluded from indexing.
func IsBinaryPath(p string) bool {
	return binaryExtensions[strings.ToLower(path.Ext(p))]
}
