package mention

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/peermention/internal/drive"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

const target = "https://t.example/post"

func writableDrives(t *testing.T) *drive.Memory {
	t.Helper()
	m := drive.NewMemory()
	require.NoError(t, m.Create(context.Background(), "t.example", true))
	return m
}

func readFile(t *testing.T, m *drive.Memory, p string) string {
	t.Helper()
	d, err := m.Drive(context.Background(), "t.example")
	require.NoError(t, err)
	data, err := d.ReadFile(context.Background(), p)
	require.NoError(t, err)
	return string(data)
}

func TestLoad_Missing(t *testing.T) {
	ctx := context.Background()

	s := Load(ctx, writableDrives(t), target, zaptest.NewLogger(t))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []string{}, s.Mentions())
	assert.Equal(t, "/mentions/https/t.example/post.json", s.Path())

	s = Load(ctx, drive.NewMemory(), target, nil)
	assert.Equal(t, 0, s.Len(), "no drive")

	s = Load(ctx, nil, "not a url", nil)
	assert.Equal(t, 0, s.Len())
	assert.Error(t, s.Add(ctx, "https://s.example/"))
}

func TestLoad_Malformed(t *testing.T) {
	ctx := context.Background()
	m := writableDrives(t)
	require.NoError(t, m.Put(ctx, "t.example", "/mentions/https/t.example/post.json", []byte("{not json"), nil))

	s := Load(ctx, m, target, zaptest.NewLogger(t))
	assert.Equal(t, 0, s.Len())
}

func TestStore_AddRemove(t *testing.T) {
	ctx := context.Background()
	m := writableDrives(t)
	logger := zaptest.NewLogger(t)
	path := "/mentions/https/t.example/post.json"

	s := Load(ctx, m, target, logger)
	require.NoError(t, s.Add(ctx, "https://a.example/1"))
	require.NoError(t, s.Add(ctx, "https://b.example/2"))
	require.NoError(t, s.Add(ctx, "https://a.example/1"))
	assert.Equal(t, []string{"https://a.example/1", "https://b.example/2"}, s.Mentions())
	assert.Equal(t, 1, s.Exists("https://b.example/2"))
	assert.Equal(t, -1, s.Exists("https://c.example/3"))
	assert.JSONEq(t, `["https://a.example/1","https://b.example/2"]`, readFile(t, m, path))

	reloaded := Load(ctx, m, target, logger)
	assert.Equal(t, s.Mentions(), reloaded.Mentions())

	require.NoError(t, s.Remove(ctx, "https://a.example/1"))
	require.NoError(t, s.Remove(ctx, "https://a.example/1"))
	assert.Equal(t, []string{"https://b.example/2"}, s.Mentions())

	require.NoError(t, s.Remove(ctx, "https://b.example/2"))
	assert.Equal(t, "[]", readFile(t, m, path))
}

func TestStore_IndexPath(t *testing.T) {
	ctx := context.Background()
	m := writableDrives(t)

	s := Load(ctx, m, "https://t.example/?utm=x#frag", nil)
	require.NoError(t, s.Add(ctx, "https://a.example/"))
	assert.Equal(t, "/mentions/https/t.example/index.json", s.Path())
	assert.JSONEq(t, `["https://a.example/"]`, readFile(t, m, "/mentions/https/t.example/index.json"))
}

func TestStore_WriteFailureKeepsMutation(t *testing.T) {
	ctx := context.Background()
	m := drive.NewMemory()
	require.NoError(t, m.Create(ctx, "t.example", false))

	s := Load(ctx, m, target, nil)
	err := s.Add(ctx, "https://a.example/1")
	assert.ErrorIs(t, err, types.ErrNotWritable)
	assert.Equal(t, []string{"https://a.example/1"}, s.Mentions())
}

func TestRegistry_SerializesTarget(t *testing.T) {
	r := NewRegistry()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Same target spelled differently.
			tgt := "https://T.example/post"
			if i%2 == 0 {
				tgt = "https://t.example/post?x=1"
			}
			unlock := r.Lock(tgt)
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, r.Len(), "idle entries dropped")
}

func TestRegistry_IndependentTargets(t *testing.T) {
	r := NewRegistry()
	unlockA := r.Lock("https://a.example/")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := r.Lock("https://b.example/")
		unlock()
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another target blocked")
	}
	assert.Equal(t, 1, r.Len())
}
