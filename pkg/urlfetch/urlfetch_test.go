package urlfetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/stacker/pkg/urlfetch"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.yaml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Resources: {}\n"))
	})
	mux.HandleFunc("/big.yaml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("#", 2048)))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newServer(t)

	tests := map[string]struct {
		url     string
		maxSize int64
		want    string
		wantErr string
	}{
		"A reachable template is returned.": {
			url:  srv.URL + "/ok.yaml",
			want: "Resources: {}\n",
		},
		"A missing document fails with its status.": {
			url:     srv.URL + "/missing.yaml",
			wantErr: "404",
		},
		"An oversized document is rejected.": {
			url:     srv.URL + "/big.yaml",
			maxSize: 1024,
			wantErr: urlfetch.ErrTooLarge.Error(),
		},
		"A file URL is rejected.": {
			url:     "file:///etc/passwd",
			wantErr: "invalid URL scheme",
		},
		"An unreachable host fails.": {
			url:     "http://127.0.0.1:1/none.yaml",
			wantErr: "connect",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			f, err := urlfetch.New(urlfetch.Config{MaxSize: test.maxSize})
			require.NoError(t, err)

			got, err := f.Fetch(context.Background(), test.url)
			if test.wantErr != "" {
				assert.ErrorContains(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, string(got))
		})
	}
}

func TestNewRejectsNegativeSize(t *testing.T) {
	_, err := urlfetch.New(urlfetch.Config{MaxSize: -1})
	assert.Error(t, err)
}
