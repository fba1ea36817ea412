package resolver

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/describo/internal/common"
	"github.com/ternarybob/describo/internal/models"
	"github.com/ternarybob/describo/internal/services/assets"
)

// mockVision implements interfaces.VisionService for testing
type mockVision struct {
	answer string
	err    error
	calls  int
}

func (m *mockVision) Describe(ctx context.Context, prompt string, imagePath string) (string, error) {
	m.calls++
	return m.answer, m.err
}

func (m *mockVision) HealthCheck(ctx context.Context) error { return nil }
func (m *mockVision) Close() error                          { return nil }

// mockStore implements interfaces.DescriptionStore for testing
type mockStore struct {
	entries map[string]*models.Description
	puts    int
}

func newMockStore() *mockStore {
	return &mockStore{entries: make(map[string]*models.Description)}
}

func (m *mockStore) Get(hash string) (*models.Description, bool) {
	desc, ok := m.entries[hash]
	return desc, ok
}

func (m *mockStore) Put(desc *models.Description) error {
	m.puts++
	m.entries[desc.Hash] = desc
	return nil
}

func (m *mockStore) Close() error { return nil }

func validAnswer() string {
	return "described content\n```json\n{\"is_valid\": true, \"summary\": \"a cat\"}\n```"
}

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

func resolverConfig(t *testing.T, serverURL string) *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Resolver.MinSizeKB = 0
	cfg.Resolver.ValidResponseKey = "is_valid"
	cfg.Resolver.ReferencePattern = regexp.QuoteMeta(serverURL)
	cfg.Assets.StagingDir = t.TempDir()
	cfg.Assets.DownloadTimeout = common.Duration(10 * time.Second)
	return cfg
}

func newTestService(t *testing.T, cfg *common.Config, vision *mockVision, store *mockStore) *Service {
	normalizer, err := assets.NewNormalizer(cfg.Assets, arbor.NewLogger())
	require.NoError(t, err)

	var svc *Service
	if store != nil {
		svc, err = NewService(cfg, arbor.NewLogger(), vision, normalizer, store)
	} else {
		svc, err = NewService(cfg, arbor.NewLogger(), vision, normalizer, nil)
	}
	require.NoError(t, err)
	return svc
}

func markerDoc(serverURL string) models.Document {
	return models.Document{
		"key": "item42",
		"page_info": map[string]interface{}{
			"image_links": map[string]interface{}{
				"img1": serverURL,
			},
			"content_text": "before {{img1}} after",
		},
	}
}

func TestProcessContentReplacesMarker(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	vision := &mockVision{answer: validAnswer()}
	svc := newTestService(t, cfg, vision, nil)

	content, err := svc.ProcessContent(context.Background(), markerDoc(server.URL), "")
	require.NoError(t, err)

	assert.Equal(t, 1, vision.calls)
	assert.True(t, strings.HasPrefix(content, "before "))
	assert.True(t, strings.HasSuffix(content, " after"))
	assert.Contains(t, content, common.DescribePrefix)
	assert.Contains(t, content, "a cat")
	assert.NotContains(t, content, "{{img1}}")
}

func TestProcessContentValidityDisabledAcceptsPlainAnswer(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	cfg.Resolver.ValidResponseKey = ""
	cfg.Resolver.ImageLinksPath = []string{"images"}
	cfg.Resolver.ContentTextPath = []string{"a", "b"}
	vision := &mockVision{answer: "cat photo"}
	svc := newTestService(t, cfg, vision, nil)

	doc := models.Document{
		"a":      map[string]interface{}{"b": "{{img1}}"},
		"images": map[string]interface{}{"img1": server.URL + "/1.png"},
	}

	content, err := svc.ProcessContent(context.Background(), doc, "")
	require.NoError(t, err)
	assert.Equal(t, common.DescribePrefix+"cat photo", content)
}

func TestProcessContentSizeGateSkipsRemoteCall(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	cfg.Resolver.MinSizeKB = 30 // test image is far smaller
	vision := &mockVision{answer: validAnswer()}
	svc := newTestService(t, cfg, vision, nil)

	content, err := svc.ProcessContent(context.Background(), markerDoc(server.URL), "")
	require.NoError(t, err)

	assert.Zero(t, vision.calls)
	assert.Contains(t, content, "{{img1}}")
}

func TestProcessContentInvalidAnswerLeavesMarker(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	vision := &mockVision{answer: "text\n```json\n{\"is_valid\": \"no\"}\n```"}
	svc := newTestService(t, cfg, vision, nil)

	content, err := svc.ProcessContent(context.Background(), markerDoc(server.URL), "")
	require.NoError(t, err)
	assert.Contains(t, content, "{{img1}}")
}

func TestProcessContentMissingValidityKeyAbortsRun(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	vision := &mockVision{answer: "text\n```json\n{\"other\": true}\n```"}
	svc := newTestService(t, cfg, vision, nil)

	_, err := svc.ProcessContent(context.Background(), markerDoc(server.URL), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidityKeyMissing))
}

func TestProcessContentNoLinks(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	svc := newTestService(t, cfg, &mockVision{}, nil)

	doc := models.Document{"page_info": map[string]interface{}{"content_text": "no images"}}
	_, err := svc.ProcessContent(context.Background(), doc, "")
	assert.True(t, errors.Is(err, ErrNoReferences))
}

func TestProcessContentFailedDownloadSkipsReference(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	vision := &mockVision{answer: validAnswer()}
	svc := newTestService(t, cfg, vision, nil)

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(dead.Close)

	doc := markerDoc(server.URL)
	links := doc["page_info"].(map[string]interface{})["image_links"].(map[string]interface{})
	links["img2"] = dead.URL
	doc["page_info"].(map[string]interface{})["content_text"] = "{{img1}} and {{img2}}"

	content, err := svc.ProcessContent(context.Background(), doc, "")
	require.NoError(t, err)

	// img1 resolved, img2 left untouched
	assert.Equal(t, 1, vision.calls)
	assert.NotContains(t, content, "{{img1}}")
	assert.Contains(t, content, "{{img2}}")
}

func TestProcessStrictReplacesAtPath(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	vision := &mockVision{answer: validAnswer()}
	svc := newTestService(t, cfg, vision, nil)

	doc := models.Document{
		"post": map[string]interface{}{
			"title": "not a reference",
			"media": []interface{}{server.URL + "/a.png"},
		},
	}

	result, err := svc.ProcessStrict(context.Background(), doc, "")
	require.NoError(t, err)

	media := result["post"].(map[string]interface{})["media"].([]interface{})
	assert.Equal(t, validAnswer(), media[0])
	assert.Equal(t, "not a reference", result["post"].(map[string]interface{})["title"])
}

func TestProcessStrictDescribesDuplicateURLOnce(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	vision := &mockVision{answer: validAnswer()}
	svc := newTestService(t, cfg, vision, nil)

	url := server.URL + "/same.png"
	doc := models.Document{
		"a": url,
		"b": url,
	}

	result, err := svc.ProcessStrict(context.Background(), doc, "")
	require.NoError(t, err)

	assert.Equal(t, 1, vision.calls)
	assert.Equal(t, validAnswer(), result["a"])
	assert.Equal(t, validAnswer(), result["b"])
}

func TestProcessStrictNoMatches(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	svc := newTestService(t, cfg, &mockVision{}, nil)

	doc := models.Document{"text": "nothing that matches"}
	_, err := svc.ProcessStrict(context.Background(), doc, "")
	assert.True(t, errors.Is(err, ErrNoReferences))
}

func TestProcessStrictExcludedKeysNotResolved(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	cfg.Resolver.ExcludedKeys = []string{"raw"}
	vision := &mockVision{answer: validAnswer()}
	svc := newTestService(t, cfg, vision, nil)

	url := server.URL + "/img.png"
	doc := models.Document{
		"visible": url,
		"raw":     map[string]interface{}{"hidden": url},
	}

	result, err := svc.ProcessStrict(context.Background(), doc, "")
	require.NoError(t, err)

	assert.Equal(t, validAnswer(), result["visible"])
	assert.Equal(t, url, result["raw"].(map[string]interface{})["hidden"])
}

func TestCacheShortCircuitsRemoteCall(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	vision := &mockVision{answer: validAnswer()}
	store := newMockStore()
	svc := newTestService(t, cfg, vision, store)

	_, err := svc.ProcessContent(context.Background(), markerDoc(server.URL), "")
	require.NoError(t, err)
	assert.Equal(t, 1, vision.calls)
	assert.Equal(t, 1, store.puts)

	// Same image bytes: second run hits the cache
	_, err = svc.ProcessContent(context.Background(), markerDoc(server.URL), "")
	require.NoError(t, err)
	assert.Equal(t, 1, vision.calls)
}

func TestStagingDirEmptyAfterRun(t *testing.T) {
	server := imageServer(t)
	cfg := resolverConfig(t, server.URL)
	vision := &mockVision{answer: validAnswer()}
	svc := newTestService(t, cfg, vision, nil)

	_, err := svc.ProcessContent(context.Background(), markerDoc(server.URL), "")
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.Assets.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
