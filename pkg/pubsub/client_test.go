package pubsub

import (
	"context"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/billsync/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"proj", "dead-letters", "projects/proj/topics/dead-letters"},
		{"proj", " projects/other/topics/x ", "projects/other/topics/x"},
		{"", "dead-letters", ""},
		{"proj", "  ", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{DeadLetterTopic: "t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected errProjectIDRequired, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil); err != errNoTopic {
		t.Fatalf("expected errNoTopic, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.DeadLetterPublisher() != nil {
		t.Fatal("expected nil publisher")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublishSettingsOverrideDefaults(t *testing.T) {
	got := publishSettings(config.PubSubConfig{PublishDelay: 5 * time.Millisecond, PublishTimeout: time.Second})
	if got.DelayThreshold != 5*time.Millisecond || got.Timeout != time.Second {
		t.Fatalf("unexpected settings %+v", got)
	}
	defaults := publishSettings(config.PubSubConfig{})
	if defaults.DelayThreshold != pubsub.DefaultPublishSettings.DelayThreshold {
		t.Fatalf("zero config should keep defaults, got %v", defaults.DelayThreshold)
	}
}
