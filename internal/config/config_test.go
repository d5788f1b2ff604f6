package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averender/webrun/internal/config"
)

func TestParseJSONDocument(t *testing.T) {
	doc := `{
		"url": "https://news.example.com",
		"headless": false,
		"defaultTimeout": 10000,
		"maxPages": 4,
		"keepOpenAfter": 5000,
		"steps": [
			{"action": "wait", "wait": {"for": "selector", "selector": ".article"}},
			{"action": "click", "selector": "#more", "waitFor": "navigation"},
			{
				"action": "crawl",
				"selector": ".article a",
				"steps": [
					{
						"action": "scrape",
						"scrape": {"title": "h1", "body": {"selector": ".content"}},
						"output": "out/article-$i.json"
					}
				]
			}
		]
	}`

	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "https://news.example.com", cfg.URL)
	assert.False(t, cfg.IsHeadless())
	assert.Equal(t, 10*time.Second, cfg.Timeout())
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout())
	assert.Equal(t, 4, cfg.MaxPages)
	assert.Equal(t, 5*time.Second, cfg.KeepOpenAfter.After)
	require.Len(t, cfg.Steps, 3)

	wait := cfg.Steps[0]
	require.NotNil(t, wait.Wait)
	assert.Equal(t, config.WaitSelector, wait.Wait.For)
	assert.Equal(t, ".article", wait.Wait.Selector)

	click := cfg.Steps[1]
	require.NotNil(t, click.WaitFor)
	assert.Equal(t, config.WaitNavigation, click.WaitFor.For)

	crawl := cfg.Steps[2]
	require.Len(t, crawl.Steps, 1)
	scrape := crawl.Steps[0]
	require.NotNil(t, scrape.Scrape)
	assert.Equal(t, "out/article-$i.json", scrape.Output)
	assert.Equal(t, "title", scrape.Scrape.Entries[0].Key)
}

func TestParseYAMLDocument(t *testing.T) {
	doc := `
url: https://example.com
steps:
  - action: type
    selector: "#q"
    text: hello
    delay: 25
  - action: repeat
    times: 3
    steps:
      - action: screenshot
        output: shots/$i.png
`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	assert.True(t, cfg.IsHeadless())
	assert.Equal(t, 1, cfg.MaxPages)
	assert.Equal(t, time.Duration(0), cfg.KeepOpenAfter.After)
	require.Len(t, cfg.Steps, 2)
	assert.Equal(t, 25, cfg.Steps[0].Delay)
	assert.Equal(t, 3, cfg.Steps[1].Times)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	doc := `{"url": "https://example.com", "steps": [{"action": "go", "url": "back"}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.ActionGo, cfg.Steps[0].Action)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestKeepOpenAfterForms(t *testing.T) {
	base := `{"url": "https://e.com", "steps": [{"action": "go", "url": "back"}], "keepOpenAfter": %s}`

	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "false", want: 0},
		{raw: "0", want: 0},
		{raw: "2500", want: 2500 * time.Millisecond},
		{raw: "true", wantErr: true},
		{raw: "-1", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			cfg, err := config.Parse([]byte(strings.Replace(base, "%s", tc.raw, 1)))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.KeepOpenAfter.After)
		})
	}
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]string{
		"missing url":          `{"steps": [{"action": "go", "url": "x"}]}`,
		"missing steps":        `{"url": "https://e.com"}`,
		"unknown action":       `{"url": "https://e.com", "steps": [{"action": "hover", "selector": "a"}]}`,
		"click without target": `{"url": "https://e.com", "steps": [{"action": "click"}]}`,
		"go without url":       `{"url": "https://e.com", "steps": [{"action": "go"}]}`,
		"wait without cond":    `{"url": "https://e.com", "steps": [{"action": "wait"}]}`,
		"unknown wait kind":    `{"url": "https://e.com", "steps": [{"action": "wait", "wait": "idle-ish"}]}`,
		"wait selector opt":    `{"url": "https://e.com", "steps": [{"action": "wait", "wait": {"for": "selector"}}]}`,
		"wait timeout opt":     `{"url": "https://e.com", "steps": [{"action": "wait", "wait": {"for": "timeout"}}]}`,
		"scrape without spec":  `{"url": "https://e.com", "steps": [{"action": "scrape", "output": "o.json"}]}`,
		"scrape without out":   `{"url": "https://e.com", "steps": [{"action": "scrape", "scrape": {"a": "b"}}]}`,
		"malformed leaf":       `{"url": "https://e.com", "steps": [{"action": "scrape", "output": "o.json", "scrape": {"a": {"attribute": "href"}}}]}`,
		"bad regex":            `{"url": "https://e.com", "steps": [{"action": "scrape", "output": "o.json", "scrape": {"a": {"regex": "("}}}]}`,
		"repeat without steps": `{"url": "https://e.com", "steps": [{"action": "repeat", "times": 2}]}`,
		"crawl without target": `{"url": "https://e.com", "steps": [{"action": "crawl", "steps": [{"action": "go", "url": "x"}]}]}`,
		"bad maxPages":         `{"url": "https://e.com", "maxPages": -2, "steps": [{"action": "go", "url": "x"}]}`,
		"nested bad step":      `{"url": "https://e.com", "steps": [{"action": "repeat", "steps": [{"action": "click"}]}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestWaitConditionShorthand(t *testing.T) {
	doc := `{"url": "https://e.com", "steps": [{"action": "wait", "wait": "network-idle"}]}`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, config.WaitNetworkIdle, cfg.Steps[0].Wait.For)
}
