package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/describo/internal/common"
	"github.com/ternarybob/describo/internal/services/assets"
	"github.com/ternarybob/describo/internal/services/resolver"
)

type stubVision struct {
	answer string
	calls  int
}

func (s *stubVision) Describe(ctx context.Context, prompt string, imagePath string) (string, error) {
	s.calls++
	return s.answer, nil
}

func (s *stubVision) HealthCheck(ctx context.Context) error { return nil }
func (s *stubVision) Close() error                          { return nil }

func imageServer(t *testing.T) *httptest.Server {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestScheduler(t *testing.T, serverURL string, strict bool, vision *stubVision) *Scheduler {
	cfg := common.NewDefaultConfig()
	cfg.Resolver.MinSizeKB = 0
	cfg.Resolver.ValidResponseKey = ""
	cfg.Resolver.ReferencePattern = regexp.QuoteMeta(serverURL)
	cfg.Assets.StagingDir = t.TempDir()
	cfg.Assets.DownloadTimeout = common.Duration(10 * time.Second)

	logger := arbor.NewLogger()
	normalizer, err := assets.NewNormalizer(cfg.Assets, logger)
	require.NoError(t, err)

	svc, err := resolver.NewService(cfg, logger, vision, normalizer, nil)
	require.NoError(t, err)

	schedCfg := common.SchedulerConfig{
		InputDir:  t.TempDir(),
		OutputDir: t.TempDir(),
	}
	return NewScheduler(schedCfg, svc, strict, logger)
}

func writeMarkerDoc(t *testing.T, dir, name, serverURL string) {
	doc := fmt.Sprintf(`{
  "key": "item1",
  "page_info": {
    "image_links": {"img1": "%s/img1.png"},
    "content_text": "before {{img1}} after"
  }
}`, serverURL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0644))
}

func TestRunResolutionWritesMarkerOutput(t *testing.T) {
	server := imageServer(t)
	vision := &stubVision{answer: "a small red square"}
	s := newTestScheduler(t, server.URL, false, vision)

	writeMarkerDoc(t, s.config.InputDir, "doc.json", server.URL)
	// Non-documents and reference-free documents are passed over
	require.NoError(t, os.WriteFile(filepath.Join(s.config.InputDir, "notes.txt"), []byte("not a document"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.config.InputDir, "empty.json"), []byte(`{"page_info": {"content_text": "plain"}}`), 0644))

	s.runResolution()

	assert.Equal(t, 1, vision.calls)

	content, err := os.ReadFile(filepath.Join(s.config.OutputDir, "doc_resolved.txt"))
	require.NoError(t, err)
	assert.Equal(t, "before "+common.DescribePrefix+"a small red square after", string(content))

	entries, err := os.ReadDir(s.config.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunResolutionStrictWritesJSON(t *testing.T) {
	server := imageServer(t)
	vision := &stubVision{answer: "a small red square"}
	s := newTestScheduler(t, server.URL, true, vision)

	doc := fmt.Sprintf(`{"post": {"media": "%s/a.png"}}`, server.URL)
	require.NoError(t, os.WriteFile(filepath.Join(s.config.InputDir, "post.yaml"), []byte(doc), 0644))

	s.runResolution()

	data, err := os.ReadFile(filepath.Join(s.config.OutputDir, "post_resolved.json"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "a small red square"))
}

func TestResolveFileNoReferencesIsNotFailure(t *testing.T) {
	server := imageServer(t)
	s := newTestScheduler(t, server.URL, false, &stubVision{})

	path := filepath.Join(s.config.InputDir, "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"page_info": {"content_text": "plain"}}`), 0644))

	assert.NoError(t, s.resolveFile(context.Background(), path, "empty.json"))
}

func TestResolveFileUnreadableDocument(t *testing.T) {
	server := imageServer(t)
	s := newTestScheduler(t, server.URL, false, &stubVision{})

	path := filepath.Join(s.config.InputDir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	assert.Error(t, s.resolveFile(context.Background(), path, "broken.json"))
}

func TestIsDocument(t *testing.T) {
	assert.True(t, isDocument("a.json"))
	assert.True(t, isDocument("a.yaml"))
	assert.True(t, isDocument("A.YML"))
	assert.False(t, isDocument("a.txt"))
	assert.False(t, isDocument("a"))
}
