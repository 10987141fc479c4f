package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensembleai/ensemble/internal/config"
)

const testPage = `<!DOCTYPE html>
<html>
<head><title>Example Domain</title><style>body { margin: 0 }</style></head>
<body>
<nav>Home | About</nav>
<h1>Example Domain</h1>
<p>This domain is for use in examples.</p>
<script>trackVisit();</script>
<ul><li>First point</li><li>Second point</li></ul>
<footer>Copyright nobody</footer>
</body>
</html>`

func newWebExecutor() *WebExecutor {
	return NewWebExecutor(config.WebConfig{
		MaxBodyBytes: 1 << 20,
		FetchTimeout: 5 * time.Second,
	}, newTestLogger())
}

func TestWebExecute(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, webUserAgent, r.Header.Get("User-Agent"))
		fmt.Fprint(w, testPage)
	}))
	defer ts.Close()

	e := newWebExecutor()

	var emitted []string
	out, err := e.Execute(context.Background(), "fetch "+ts.URL+" and summarize it", func(s string) {
		emitted = append(emitted, s)
	})
	require.NoError(t, err)

	assert.Contains(t, out, "# Example Domain")
	assert.Contains(t, out, "This domain is for use in examples.")
	assert.Contains(t, out, "First point")
	assert.NotContains(t, out, "trackVisit")
	assert.NotContains(t, out, "Home | About")
	assert.NotContains(t, out, "Copyright nobody")

	// Title first, body second.
	require.Len(t, emitted, 2)
	assert.Equal(t, "# Example Domain\n\n", emitted[0])

	// The streamed increments add up to the full result.
	assert.Equal(t, out, emitted[0]+emitted[1])
}

func TestWebExecuteErrors(t *testing.T) {
	e := newWebExecutor()

	t.Run("no url in input", func(t *testing.T) {
		_, err := e.Execute(context.Background(), "read the news", func(string) {})
		assert.Error(t, err)
	})

	t.Run("non-200 response", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		_, err := e.Execute(context.Background(), "fetch "+ts.URL, func(string) {})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})

	t.Run("connection refused", func(t *testing.T) {
		_, err := e.Execute(context.Background(), "fetch http://127.0.0.1:1", func(string) {})
		assert.Error(t, err)
	})
}

func TestWebExecuteTrimsTrailingPunctuation(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, testPage)
	}))
	defer ts.Close()

	e := newWebExecutor()
	_, err := e.Execute(context.Background(), "look at "+ts.URL+"/page, please", func(string) {})
	require.NoError(t, err)
	assert.Equal(t, "/page", gotPath)
}
