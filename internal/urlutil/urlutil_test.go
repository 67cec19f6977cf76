package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbsolute(t *testing.T) {
	tests := []struct {
		name string
		base string
		ref  string
		want string
	}{
		{"absolute ref unchanged", "https://example.com/blog/post", "https://other/x", "https://other/x"},
		{"root relative", "https://example.com/blog/post", "/feed", "https://example.com/feed"},
		{"root relative on short base", "https://h/x/y", "/a/b", "https://h/a/b"},
		{"parent segment", "https://example.com/blog/post", "../feed", "https://example.com/feed"},
		{"sibling", "https://example.com/blog/post", "feed", "https://example.com/blog/feed"},
		{"dot segment skipped", "https://example.com/blog/post", "./feed", "https://example.com/blog/feed"},
		{"parent of deeper path", "https://h/x/y/z", "../c", "https://h/x/c"},
		{"parent never climbs above host", "https://h/x", "../../../c", "https://h/c"},
		{"base query ignored", "https://h/x/y?page=2#top", "z", "https://h/x/z"},
		{"trailing slash base", "https://t/", "endpoint", "https://t/endpoint"},
		{"host only base", "https://t", "endpoint", "https://t/endpoint"},
		{"empty ref returns base", "https://t/a", "", "https://t/a"},
		{"hyper scheme", "hyper://abc/post.html", "/webmention/", "hyper://abc/webmention/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Absolute(tt.base, tt.ref))
		})
	}
}

func TestOrigin(t *testing.T) {
	got, err := Origin("https://example.com/blog/post?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", got)

	got, err = Origin("hyper://abc123:8080/")
	require.NoError(t, err)
	assert.Equal(t, "hyper://abc123:8080/", got)

	_, err = Origin("/relative/only")
	assert.Error(t, err)
}

func TestOriginHash(t *testing.T) {
	got, err := OriginHash("https://t/some/page")
	require.NoError(t, err)
	assert.Len(t, got, 64)
	assert.Equal(t, HashOrigin("https://t/"), got)

	other, err := OriginHash("https://u/some/page")
	require.NoError(t, err)
	assert.NotEqual(t, got, other)
}

func TestHashOriginKnownVector(t *testing.T) {
	// sha256 of the empty string.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashOrigin(""))
}

func TestHostPath(t *testing.T) {
	host, path, err := HostPath("https://s/page?q=1#f")
	require.NoError(t, err)
	assert.Equal(t, "s", host)
	assert.Equal(t, "/page", path)

	host, path, err = HostPath("https://t")
	require.NoError(t, err)
	assert.Equal(t, "t", host)
	assert.Equal(t, "/", path)
}

func TestMentionPath(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"https://t/", "/mentions/https/t/index.json"},
		{"https://t", "/mentions/https/t/index.json"},
		{"https://t/blog/post", "/mentions/https/t/blog/post.json"},
		{"https://t/blog/post?utm=x#c", "/mentions/https/t/blog/post.json"},
		{"hyper://abc/notes/", "/mentions/hyper/abc/notes/index.json"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := MentionPath(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := MentionPath("not a url")
	assert.Error(t, err)
}

func TestMentionKey(t *testing.T) {
	assert.Equal(t, "https://t/a", MentionKey("HTTPS://T/a?x=1"))
	assert.Equal(t, "https://t/", MentionKey("https://t"))
	assert.Equal(t, "garbage", MentionKey("garbage"))
}
