package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kolo/xmlrpc"

	"github.com/rbright/parley/internal/version"
)

const defaultPublishTimeout = 20 * time.Second

// WordPressCredentials locate and authenticate against a WordPress site.
type WordPressCredentials struct {
	SiteURL  string
	Username string
	Password string
}

// Missing returns the names of unset credential fields.
func (c WordPressCredentials) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.SiteURL) == "" {
		missing = append(missing, "site_url")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	return missing
}

// Endpoint returns the XML-RPC URL for the site.
func (c WordPressCredentials) Endpoint() string {
	url := strings.TrimRight(strings.TrimSpace(c.SiteURL), "/")
	if strings.HasSuffix(url, "/xmlrpc.php") {
		return url
	}
	return url + "/xmlrpc.php"
}

// WordPress publishes posts through the wp.newPost XML-RPC method.
type WordPress struct {
	creds     WordPressCredentials
	transport http.RoundTripper
	timeout   time.Duration
}

// NewWordPress returns a publisher for creds. client supplies the transport
// and timeout; nil selects the defaults.
func NewWordPress(creds WordPressCredentials, client *http.Client) *WordPress {
	w := &WordPress{creds: creds, transport: http.DefaultTransport, timeout: defaultPublishTimeout}
	if client != nil {
		if client.Transport != nil {
			w.transport = client.Transport
		}
		if client.Timeout > 0 {
			w.timeout = client.Timeout
		}
	}
	return w
}

func (w *WordPress) Publish(ctx context.Context, post Post) (string, error) {
	if missing := w.creds.Missing(); len(missing) > 0 {
		return "", fmt.Errorf("wordpress: missing credentials: %s", strings.Join(missing, ", "))
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	client, err := xmlrpc.NewClient(w.creds.Endpoint(), requestTransport{ctx: ctx, base: w.transport})
	if err != nil {
		return "", fmt.Errorf("wordpress: create client: %w", err)
	}
	defer client.Close()

	var postID string
	call := client.Go("wp.newPost", newPostParams(w.creds, post), &postID, nil)
	select {
	case <-call.Done:
	case <-ctx.Done():
		return "", fmt.Errorf("wordpress: request failed: %w", ctx.Err())
	}
	if call.Error != nil {
		return "", fmt.Errorf("wordpress: %w", call.Error)
	}
	if postID == "" {
		return "", errors.New("wordpress: response missing post id")
	}
	return postID, nil
}

// newPostParams builds the wp.newPost parameters: blog ID, username,
// password, and the post struct.
func newPostParams(creds WordPressCredentials, post Post) []any {
	content := map[string]any{
		"post_title":   post.Title,
		"post_content": post.Content,
		"post_status":  post.Status,
	}
	terms := map[string]any{}
	if len(post.Categories) > 0 {
		terms["category"] = post.Categories
	}
	if len(post.Tags) > 0 {
		terms["post_tag"] = post.Tags
	}
	if len(terms) > 0 {
		content["terms_names"] = terms
	}
	return []any{0, creds.Username, creds.Password, content}
}

// requestTransport binds each XML-RPC request to the publish call's context
// and identifies the client.
type requestTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t requestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(t.ctx)
	req.Header.Set("User-Agent", version.UserAgent())
	return t.base.RoundTrip(req)
}
