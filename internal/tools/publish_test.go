package tools

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/version"
)

type recordingPublisher struct {
	post Post
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, post Post) (string, error) {
	r.post = post
	if r.err != nil {
		return "", r.err
	}
	return "42", nil
}

func TestPublishExecuteBuildsPost(t *testing.T) {
	publisher := &recordingPublisher{}

	content, err := NewPublish(publisher).Execute(context.Background(), map[string]any{
		"title":      "Autumn in Sydney",
		"content":    "<p>Jacarandas.</p>",
		"status":     "Publish",
		"categories": []any{"Travel"},
		"tags":       []any{"sydney", "spring"},
	})
	require.NoError(t, err)
	require.Equal(t, "Successfully created post with ID: 42", content[0].Value)
	require.Equal(t, Post{
		Title:      "Autumn in Sydney",
		Content:    "<p>Jacarandas.</p>",
		Status:     "publish",
		Categories: []string{"Travel"},
		Tags:       []string{"sydney", "spring"},
	}, publisher.post)
}

func TestPublishExecuteValidation(t *testing.T) {
	publish := NewPublish(&recordingPublisher{})

	_, err := publish.Execute(context.Background(), map[string]any{"content": "body"})
	require.ErrorContains(t, err, "title is required")

	_, err = publish.Execute(context.Background(), map[string]any{"title": "t", "content": "c", "status": "scheduled"})
	require.ErrorContains(t, err, `unsupported post status "scheduled"`)
}

func TestPublishDefaultsToDraft(t *testing.T) {
	publisher := &recordingPublisher{}
	_, err := NewPublish(publisher).Execute(context.Background(), map[string]any{"title": "t", "content": "c"})
	require.NoError(t, err)
	require.Equal(t, "draft", publisher.post.Status)
}

func TestWordPressPublishSendsNewPost(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xmlrpc.php", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body = string(raw)

		_, _ = w.Write([]byte(`<?xml version="1.0"?><methodResponse><params><param><value><string>117</string></value></param></params></methodResponse>`))
	}))
	defer server.Close()

	wp := NewWordPress(WordPressCredentials{SiteURL: server.URL, Username: "editor", Password: "app pass"}, server.Client())
	id, err := wp.Publish(context.Background(), Post{
		Title:      "Fish & Chips",
		Content:    "<b>crispy</b>",
		Status:     "draft",
		Categories: []string{"Food"},
		Tags:       []string{"uk"},
	})
	require.NoError(t, err)
	require.Equal(t, "117", id)

	require.Contains(t, body, "<methodName>wp.newPost</methodName>")
	require.Contains(t, body, "<string>editor</string>")
	require.Contains(t, body, "Fish &amp; Chips")
	require.Contains(t, body, "&lt;b&gt;crispy&lt;/b&gt;")
	require.Contains(t, body, "<name>category</name>")
	require.Contains(t, body, "<name>post_tag</name>")

	var decoded struct {
		Method string `xml:"methodName"`
	}
	require.NoError(t, xml.Unmarshal([]byte(body), &decoded))
	require.Equal(t, "wp.newPost", decoded.Method)
}

func TestWordPressPublishFault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<methodResponse><fault><value><struct>
<member><name>faultCode</name><value><int>403</int></value></member>
<member><name>faultString</name><value><string>Incorrect username or password.</string></value></member>
</struct></value></fault></methodResponse>`))
	}))
	defer server.Close()

	wp := NewWordPress(WordPressCredentials{SiteURL: server.URL + "/xmlrpc.php", Username: "u", Password: "p"}, server.Client())
	_, err := wp.Publish(context.Background(), Post{Title: "t", Content: "c", Status: "draft"})
	require.ErrorContains(t, err, "403")
	require.ErrorContains(t, err, "Incorrect username or password.")
}

func TestWordPressPublishHonorsContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	wp := NewWordPress(WordPressCredentials{SiteURL: server.URL, Username: "u", Password: "p"}, server.Client())
	_, err := wp.Publish(ctx, Post{Title: "t", Content: "c", Status: "draft"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWordPressSendsUserAgent(t *testing.T) {
	agents := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`<?xml version="1.0"?><methodResponse><params><param><value><string>9</string></value></param></params></methodResponse>`))
	}))
	defer server.Close()

	wp := NewWordPress(WordPressCredentials{SiteURL: server.URL, Username: "u", Password: "p"}, server.Client())
	id, err := wp.Publish(context.Background(), Post{Title: "t", Content: "c", Status: "publish"})
	require.NoError(t, err)
	require.Equal(t, "9", id)
	require.Equal(t, version.UserAgent(), <-agents)
}

func TestWordPressPublishMissingCredentials(t *testing.T) {
	_, err := NewWordPress(WordPressCredentials{SiteURL: "https://blog.example.com"}, nil).
		Publish(context.Background(), Post{Title: "t", Content: "c"})
	require.ErrorContains(t, err, "missing credentials: username, password")
}

func TestWordPressEndpoint(t *testing.T) {
	require.Equal(t, "https://blog.example.com/xmlrpc.php", WordPressCredentials{SiteURL: "https://blog.example.com/"}.Endpoint())
	require.Equal(t, "https://blog.example.com/xmlrpc.php", WordPressCredentials{SiteURL: " https://blog.example.com/xmlrpc.php "}.Endpoint())
	require.True(t, strings.HasSuffix(WordPressCredentials{SiteURL: "http://x"}.Endpoint(), "/xmlrpc.php"))
}
