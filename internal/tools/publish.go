package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rbright/parley/internal/conversation"
)

// PublishToolName is the model-facing name of the blog publishing capability.
const PublishToolName = "post_blog"

// Post is one blog entry to create.
type Post struct {
	Title      string
	Content    string
	Status     string
	Categories []string
	Tags       []string
}

// Publisher creates posts on a publishing site and returns the new post ID.
type Publisher interface {
	Publish(ctx context.Context, post Post) (string, error)
}

var postStatuses = map[string]bool{
	"draft":   true,
	"publish": true,
	"pending": true,
	"private": true,
}

// Publish is the post_blog capability.
type Publish struct {
	publisher Publisher
}

func NewPublish(publisher Publisher) *Publish {
	return &Publish{publisher: publisher}
}

func (p *Publish) Spec() Spec {
	return Spec{
		Name: PublishToolName,
		Description: "Create a post on the user's WordPress blog. Only use this when the user explicitly " +
			"asks to write or publish a blog post.",
		Params: []Param{
			{Name: "title", Type: "string", Description: "Title of the blog post.", Required: true},
			{Name: "content", Type: "string", Description: "Body of the blog post. HTML is allowed.", Required: true},
			{
				Name:        "status",
				Type:        "string",
				Description: "Post status: draft, publish, pending or private.",
				Default:     "draft",
			},
			{Name: "categories", Type: "array", Items: "string", Description: "Category names."},
			{Name: "tags", Type: "array", Items: "string", Description: "Tag names."},
		},
	}
}

func (p *Publish) Execute(ctx context.Context, input map[string]any) ([]conversation.Text, error) {
	title, err := requireString(input, "title")
	if err != nil {
		return nil, err
	}
	content, err := requireString(input, "content")
	if err != nil {
		return nil, err
	}

	status := strings.ToLower(strings.TrimSpace(StringArg(input, "status")))
	if status == "" {
		status = "draft"
	}
	if !postStatuses[status] {
		return nil, fmt.Errorf("unsupported post status %q", status)
	}

	id, err := p.publisher.Publish(ctx, Post{
		Title:      title,
		Content:    content,
		Status:     status,
		Categories: StringsArg(input, "categories"),
		Tags:       StringsArg(input, "tags"),
	})
	if err != nil {
		return nil, err
	}
	return []conversation.Text{{Value: fmt.Sprintf("Successfully created post with ID: %s", id)}}, nil
}
