/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serveChunked streams data in pieces of size n, flushing after each.
func serveChunked(data []byte, n int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
		for off := 0; off < len(data); off += n {
			w.Write(data[off:min(off+n, len(data))])
			w.(http.Flusher).Flush()
		}
	}
}

func openHTTP(t *testing.T, url string, opts Options) (*Stream, *logRecorder) {
	t.Helper()
	rec := &logRecorder{}
	if opts.Engine == nil {
		opts.Engine = &HTTPEngine{ChunkSize: 7, Logger: NoopLogger()}
	}
	opts.Logger = rec.logger()
	s, err := Open(url, &opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, rec
}

func TestHTTPSequentialRead(t *testing.T) {
	data := testData(1000)
	srv := httptest.NewServer(serveChunked(data, 100))
	defer srv.Close()

	s, _ := openHTTP(t, srv.URL, Options{})
	got, err := io.ReadAll(s)
	require.NoError(t, err)
	require.Equal(t, data, got)

	st := s.Status()
	require.Equal(t, http.StatusOK, st.Code)
	require.Equal(t, `"v1"`, st.Meta.ETag)
	require.EqualValues(t, len(data), st.Meta.Length)
}

func TestHTTPSeekAround(t *testing.T) {
	data := []byte("abcdefghijklmnopqrstuvwxyz")
	srv := httptest.NewServer(serveChunked(data, 5))
	defer srv.Close()

	s, _ := openHTTP(t, srv.URL, Options{})

	off, err := s.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	require.EqualValues(t, 24, off)

	buf := make([]byte, 4)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "yz", string(buf[:n]))

	_, err = s.Seek(2, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	require.Equal(t, "cdef", string(buf))

	newOff, err := s.Seek(-2, io.SeekCurrent)
	require.NoError(t, err)
	require.EqualValues(t, 4, newOff)
}

func TestHTTPBasicAuth(t *testing.T) {
	data := []byte("secret payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	t.Run("with credentials", func(t *testing.T) {
		s, _ := openHTTP(t, srv.URL, Options{Credentials: Credentials{User: "alice", Password: "s3cret"}})
		got, err := io.ReadAll(s)
		require.NoError(t, err)
		require.Equal(t, data, got)
	})

	t.Run("anonymous", func(t *testing.T) {
		s, rec := openHTTP(t, srv.URL, Options{})
		got, err := io.ReadAll(s)
		require.NoError(t, err)
		require.Equal(t, "unauthorized\n", string(got))
		require.Equal(t, State{Phase: Finished, Code: http.StatusUnauthorized}, s.State())
		require.True(t, rec.contains("ERROR", "returned status code 401"))
	})
}

func notFoundPage(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("<html>missing</html>"))
}

func TestHTTPNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(notFoundPage))
	defer srv.Close()

	s, rec := openHTTP(t, srv.URL+"/missing", Options{})
	got, err := io.ReadAll(s)
	require.NoError(t, err)
	require.Equal(t, "<html>missing</html>", string(got))

	n, err := s.Read(make([]byte, 1))
	require.Equal(t, 0, n)
	require.Equal(t, io.EOF, err)
	require.Equal(t, http.StatusNotFound, s.Status().Code)
	require.True(t, rec.contains("ERROR", srv.URL+"/missing returned status code 404"))
}

func TestHTTPDiscardErrorBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(notFoundPage))
	defer srv.Close()

	s, rec := openHTTP(t, srv.URL, Options{Engine: &HTTPEngine{DiscardErrorBodies: true, Logger: NoopLogger()}})
	n, err := s.Read(make([]byte, 1))
	require.Equal(t, 0, n)
	require.Equal(t, io.EOF, err)
	require.Equal(t, State{Phase: Finished, Code: http.StatusNotFound}, s.State())
	require.True(t, rec.contains("ERROR", "returned status code 404"))
}

func TestHTTPRedirect(t *testing.T) {
	data := testData(64)
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", serveChunked(data, 16))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, _ := openHTTP(t, srv.URL+"/old", Options{})
	got, err := io.ReadAll(s)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, srv.URL+"/new", s.Status().EffectiveURL)
}

func TestHTTPTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("only ten b"))
	}))
	defer srv.Close()

	s, _ := openHTTP(t, srv.URL, Options{})
	got, err := io.ReadAll(s)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, "only ten b", string(got))
	require.Equal(t, Failed, s.State().Phase)
}

func TestHTTPSetupFailures(t *testing.T) {
	for _, url := range []string{
		"ftp://example.com/file",
		"http://[::1",
		"http:///nohost",
		"not a url",
	} {
		t.Run(url, func(t *testing.T) {
			_, err := Open(url, &Options{Logger: NoopLogger()})
			require.ErrorIs(t, err, ErrTransferSetupFailed)
		})
	}

	_, err := Open("https://example.com/", &Options{
		TLS:    TLSPolicy{CAFile: filepath.Join(t.TempDir(), "missing.pem")},
		Logger: NoopLogger(),
	})
	require.ErrorIs(t, err, ErrTransferSetupFailed)
}

func TestHTTPCloseCancelsTransfer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("head"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	s, rec := openHTTP(t, srv.URL, Options{PumpTimeout: 50 * time.Millisecond})
	buf := make([]byte, 4)
	_, err := io.ReadFull(s, buf)
	require.NoError(t, err)
	require.Equal(t, "head", string(buf))

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	require.ErrorIs(t, s.State().Err, ErrClosed)
	require.False(t, rec.contains("ERROR", "returned status code"))
}

func TestHTTPTLS(t *testing.T) {
	data := testData(50)
	srv := httptest.NewTLSServer(serveChunked(data, 10))
	defer srv.Close()

	t.Run("untrusted", func(t *testing.T) {
		s, _ := openHTTP(t, srv.URL, Options{})
		_, err := io.ReadAll(s)
		require.ErrorIs(t, err, ErrTransferFailed)
	})

	t.Run("insecure", func(t *testing.T) {
		s, _ := openHTTP(t, srv.URL, Options{TLS: TLSPolicy{InsecureSkipVerify: true}})
		got, err := io.ReadAll(s)
		require.NoError(t, err)
		require.Equal(t, data, got)
	})

	t.Run("ca file", func(t *testing.T) {
		ca := filepath.Join(t.TempDir(), "ca.pem")
		pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
		require.NoError(t, os.WriteFile(ca, pemData, 0o600))

		s, _ := openHTTP(t, srv.URL, Options{TLS: TLSPolicy{CAFile: ca}})
		got, err := io.ReadAll(s)
		require.NoError(t, err)
		require.Equal(t, data, got)
	})
}

func TestHTTPRateLimit(t *testing.T) {
	data := testData(256)
	srv := httptest.NewServer(serveChunked(data, 64))
	defer srv.Close()

	s, _ := openHTTP(t, srv.URL, Options{Engine: &HTTPEngine{ChunkSize: 64, RateLimit: 1 << 20, Logger: NoopLogger()}})
	got, err := io.ReadAll(s)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestHTTPRequestLogging(t *testing.T) {
	srv := httptest.NewServer(serveChunked([]byte("x"), 1))
	defer srv.Close()

	rec := &logRecorder{}
	s, _ := openHTTP(t, srv.URL, Options{Engine: &HTTPEngine{Logger: rec.logger()}})
	_, err := io.ReadAll(s)
	require.NoError(t, err)
	require.True(t, rec.contains("DEBUG", "GET / HTTP/1.1"))
	require.True(t, rec.contains("DEBUG", "200 OK"))
}

func TestCheckRedirect(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "file:///etc/passwd", nil)
	require.NoError(t, err)
	err = checkRedirect(req, nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "unsupported protocol"))

	req, err = http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)
	require.NoError(t, checkRedirect(req, nil))
	require.Error(t, checkRedirect(req, make([]*http.Request, maxRedirects)))
}

func TestCustomCheckRedirectKeepsProtocolRestriction(t *testing.T) {
	var calls int
	e := &HTTPEngine{Client: &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			calls++
			return nil
		},
	}}
	c, err := e.client(TLSPolicy{})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "file:///etc/passwd", nil)
	require.NoError(t, err)
	require.Error(t, c.CheckRedirect(req, nil))
	require.Equal(t, 0, calls)

	req, err = http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	require.NoError(t, c.CheckRedirect(req, nil))
	require.Equal(t, 1, calls)
}
