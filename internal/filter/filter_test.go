package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/peermention/internal/urlutil"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

func ptr(s string) *string { return &s }

func TestFilter_Passes(t *testing.T) {
	tests := []struct {
		name   string
		lists  types.Lists
		source *string
		target string
		want   bool
	}{
		{
			name:   "unset lists",
			lists:  types.DefaultLists(),
			source: ptr("https://s.example/"),
			target: "https://t.example/",
			want:   true,
		},
		{
			name:   "empty lists normalize to unset",
			lists:  types.Lists{},
			source: ptr("https://s.example/"),
			target: "https://t.example/",
			want:   true,
		},
		{
			name:   "blacklisted source",
			lists:  types.Lists{Blacklist: []string{"spam"}, Whitelist: []string{""}},
			source: ptr("https://spam.example/x"),
			target: "https://t.example/",
		},
		{
			name:   "blacklist partial match",
			lists:  types.Lists{Blacklist: []string{`bad\.example`}},
			source: ptr("https://very.bad.example/page"),
			target: "https://t.example/",
		},
		{
			name:   "absent source skips blacklist",
			lists:  types.Lists{Blacklist: []string{".*"}},
			target: "https://t.example/",
			want:   true,
		},
		{
			name:   "whitelisted target",
			lists:  types.Lists{Whitelist: []string{"https://t.example/"}},
			source: ptr("https://s.example/"),
			target: "https://t.example/post",
			want:   true,
		},
		{
			name:   "target not whitelisted",
			lists:  types.Lists{Whitelist: []string{"https://t.example/"}},
			source: ptr("https://s.example/"),
			target: "https://u.example/post",
		},
		{
			name:   "second whitelist entry matches",
			lists:  types.Lists{Whitelist: []string{"nope", "u\\.example"}},
			target: "https://u.example/post",
			want:   true,
		},
		{
			name:   "invalid blacklist pattern fails closed",
			lists:  types.Lists{Blacklist: []string{"("}},
			source: ptr("https://s.example/"),
			target: "https://t.example/",
		},
		{
			name:   "invalid whitelist pattern never matches",
			lists:  types.Lists{Whitelist: []string{"["}},
			target: "https://t.example/",
		},
		{
			name:   "empty blacklist entry beside others blocks every source",
			lists:  types.Lists{Blacklist: []string{"", "spam"}},
			source: ptr("https://s.example/"),
			target: "https://t.example/",
		},
		{
			name:   "empty whitelist entry beside others admits every target",
			lists:  types.Lists{Whitelist: []string{"", "x"}},
			source: ptr("https://s.example/"),
			target: "https://t.example/",
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.lists, zaptest.NewLogger(t))
			assert.Equal(t, tt.want, f.Passes(tt.source, tt.target))
			// Second call goes through the pattern cache.
			assert.Equal(t, tt.want, f.Passes(tt.source, tt.target))
		})
	}
}

func TestFilter_ServesOriginHash(t *testing.T) {
	f := New(types.Lists{Whitelist: []string{"https://t.example/blog/", `^https://u\.example`}}, nil)

	hash, err := urlutil.OriginHash("https://t.example/anything")
	assert.NoError(t, err)
	assert.True(t, f.ServesOriginHash(hash))
	assert.True(t, f.ServesTarget("https://t.example/other/page"))

	assert.False(t, f.ServesTarget("https://u.example/"), "regex entries do not parse as URLs")
	assert.False(t, f.ServesTarget("https://v.example/"))
	assert.False(t, f.ServesOriginHash(""))
	assert.False(t, f.ServesOriginHash("deadbeef"))

	unset := New(types.DefaultLists(), nil)
	assert.False(t, unset.ServesOriginHash(hash), "unset whitelist serves nothing")
}

func TestFilter_SetLists(t *testing.T) {
	f := New(types.DefaultLists(), nil)
	assert.True(t, f.Passes(ptr("https://spam.example/"), "https://t.example/"))

	in := types.Lists{Blacklist: []string{"spam"}}
	f.SetLists(in)
	in.Blacklist[0] = "changed"

	assert.False(t, f.Passes(ptr("https://spam.example/"), "https://t.example/"))
	assert.Equal(t, types.Lists{Blacklist: []string{"spam"}, Whitelist: []string{""}}, f.Lists())
}
