// Package fetcher downloads yield/price exports published over HTTP(S) or FTP
// so training and one-off recommendations can read them like local files.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads one URL to a local path.
type Fetcher interface {
	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error)
}

// IsRemote reports whether input names an http, https, or ftp URL.
func IsRemote(input string) bool {
	u, err := url.Parse(input)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return u.Host != ""
	}
	return false
}

// Client picks a Fetcher by URL scheme.
type Client struct {
	HTTP Fetcher
	FTP  Fetcher
}

// New returns a Client with default HTTP and FTP fetchers.
func New() *Client {
	return &Client{
		HTTP: NewHTTPFetcher(HTTPOptions{}),
		FTP:  NewFTPFetcher(FTPOptions{}),
	}
}

// Fetch downloads rawURL into dir and returns the local path. The file keeps
// the URL's base name so readers can dispatch on its extension.
func (c *Client) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: parse url")
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", eris.Errorf("fetcher: url %s does not name a file", rawURL)
	}

	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		f = c.HTTP
	case "ftp":
		f = c.FTP
	default:
		return "", eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}

	dest := filepath.Join(dir, name)
	n, err := f.DownloadToFile(ctx, rawURL, dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: download %s", redact(u))
	}
	zap.L().Info("fetcher: export downloaded",
		zap.String("url", redact(u)),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}

// copyToFile drains body into a new file at path.
func copyToFile(body io.Reader, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	return n, nil
}

func redact(u *url.URL) string {
	return u.Redacted()
}
