package peer

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/peermention/internal/dispatch"
	"github.com/mesh-intelligence/peermention/internal/drive"
	"github.com/mesh-intelligence/peermention/internal/filter"
	"github.com/mesh-intelligence/peermention/internal/mention"
	"github.com/mesh-intelligence/peermention/internal/transport/memory"
	"github.com/mesh-intelligence/peermention/internal/urlutil"
	"github.com/mesh-intelligence/peermention/internal/verify"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	target   = "https://t/"
	source   = "https://s/page"
	endpoint = "https://t/endpoint"
)

const linkingPage = `<html><body><a href="https://t/">t</a></body></html>`

// authoritativeDrives returns drives holding write authority over t whose
// index page designates endpoint, plus a source page linking to it.
func authoritativeDrives(t *testing.T) *drive.Memory {
	t.Helper()
	ctx := context.Background()
	m := drive.NewMemory()
	require.NoError(t, m.Create(ctx, "t", true))
	require.NoError(t, m.Put(ctx, "t", "/", []byte("<html></html>"),
		map[string]string{verify.MetadataEndpointKey: endpoint}))
	require.NoError(t, m.Put(ctx, "s", "/page", []byte(linkingPage), nil))
	return m
}

type harness struct {
	endpoint  *Endpoint
	clock     *clock.Mock
	responses chan dispatch.Response
}

func newHarness(t *testing.T, drives *drive.Memory, lists types.Lists) *harness {
	t.Helper()
	return newHarnessWith(t, drives, lists, nil)
}

// newHarnessWith is newHarness with a custom verifier; nil verifies against
// drives.
func newHarnessWith(t *testing.T, drives *drive.Memory, lists types.Lists, v Verifier) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if v == nil {
		v = verify.New(logger, nil, verify.DriveRetriever{Drives: drives})
	}
	h := &harness{
		clock:     clock.NewMock(),
		responses: make(chan dispatch.Response, 16),
	}
	h.endpoint = New(Config{Endpoint: endpoint}, Deps{
		Drives:   drives,
		Verifier: v,
		Filter:   filter.New(lists, logger),
		Clock:    h.clock,
		Logger:   logger,
	})
	h.endpoint.Dispatcher().OnSet(func(r dispatch.Response) { h.responses <- r })
	t.Cleanup(func() { assert.NoError(t, h.endpoint.Close()) })
	return h
}

func (h *harness) next(t *testing.T) dispatch.Response {
	t.Helper()
	select {
	case r := <-h.responses:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no response published")
		return dispatch.Response{}
	}
}

func (h *harness) none(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.responses:
		t.Fatalf("unexpected response %+v", r.Message)
	case <-time.After(20 * time.Millisecond):
	}
}

func openLists() types.Lists {
	return types.Lists{Blacklist: types.UnsetList(), Whitelist: []string{".*"}}
}

func storedMentions(t *testing.T, drives *drive.Memory) []string {
	t.Helper()
	return mention.Load(context.Background(), drives, target, nil).Mentions()
}

func TestSendMention_LocalReconcile(t *testing.T) {
	ctx := context.Background()
	drives := authoritativeDrives(t)
	h := newHarness(t, drives, openLists())

	op, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: target, Done: "https://t/thanks"})
	require.NoError(t, err)
	r := h.next(t)
	assert.Equal(t, op.ID, r.OperationID)
	assert.Equal(t, "https://t/thanks", r.Done)
	assert.Equal(t, types.SuccessMessage(source, target, types.StatusAdded), r.Message)
	assert.Equal(t, []string{source}, storedMentions(t, drives))

	// Resending a verified mention keeps a single entry.
	_, err = h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
	require.NoError(t, err)
	assert.Equal(t, types.StatusAdded, h.next(t).Message.Status)
	assert.Equal(t, []string{source}, storedMentions(t, drives))

	// The source drops its link: the mention is retracted.
	require.NoError(t, drives.Put(ctx, "s", "/page", []byte("<html>gone</html>"), nil))
	_, err = h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
	require.NoError(t, err)
	assert.Equal(t, types.SuccessMessage(source, target, types.StatusDeleted), h.next(t).Message)
	assert.Empty(t, storedMentions(t, drives))

	// Nothing left to retract: rejected, store unchanged.
	_, err = h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
	require.NoError(t, err)
	assert.Equal(t, types.FailureMessage(source, target, types.StatusSourceInvalid), h.next(t).Message)
	assert.Empty(t, storedMentions(t, drives))
}

func TestSendMention_LocalFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("blocked source", func(t *testing.T) {
		drives := authoritativeDrives(t)
		h := newHarness(t, drives, types.Lists{Blacklist: []string{`^https://s/`}, Whitelist: types.UnsetList()})
		_, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
		require.NoError(t, err)
		assert.Equal(t, types.FailureMessage(source, target, types.StatusBlocked), h.next(t).Message)
		assert.Empty(t, storedMentions(t, drives))
	})

	t.Run("target not whitelisted", func(t *testing.T) {
		h := newHarness(t, authoritativeDrives(t), types.Lists{Whitelist: []string{"example\\.org"}})
		_, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
		require.NoError(t, err)
		assert.Equal(t, types.StatusBlocked, h.next(t).Message.Status)
	})

	t.Run("target names another endpoint", func(t *testing.T) {
		drives := authoritativeDrives(t)
		require.NoError(t, drives.Put(ctx, "t", "/", []byte("<html></html>"),
			map[string]string{verify.MetadataEndpointKey: "https://elsewhere/wm"}))
		h := newHarness(t, drives, openLists())
		_, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
		require.NoError(t, err)
		assert.Equal(t, types.FailureMessage(source, target, types.StatusTargetInvalid), h.next(t).Message)
	})

	t.Run("unparseable target", func(t *testing.T) {
		h := newHarness(t, authoritativeDrives(t), openLists())
		_, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: "not a url"})
		require.NoError(t, err)
		assert.Equal(t, types.StatusTargetInvalid, h.next(t).Message.Status)
	})
}

func TestGetMentions_Local(t *testing.T) {
	ctx := context.Background()
	drives := authoritativeDrives(t)
	h := newHarness(t, drives, types.Lists{Whitelist: []string{target}})

	_, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
	require.NoError(t, err)
	h.next(t)

	op, err := h.endpoint.GetMentions(ctx, Request{Source: "ignored", Target: target})
	require.NoError(t, err)
	assert.Empty(t, op.Source)
	r := h.next(t)
	assert.Equal(t, types.WebmentionsMessage(target, []string{source}, true, types.StatusMentions), r.Message)

	// u has no local drive, so the request probes and times out.
	_, err = h.endpoint.GetMentions(ctx, Request{Target: "https://u/"})
	require.NoError(t, err)
	h.clock.Add(DefaultTimeout)
	assert.Equal(t, types.FailureMessage("", "https://u/", types.StatusNoPeer), h.next(t).Message)
}

func TestVisitor_Timeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, drive.NewMemory(), openLists())

	op, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
	require.NoError(t, err)

	h.clock.Add(DefaultTimeout - time.Second)
	h.none(t)

	h.clock.Add(time.Second)
	r := h.next(t)
	assert.Equal(t, op.ID, r.OperationID)
	assert.Equal(t, types.FailureMessage(source, target, types.StatusNoPeer), r.Message)

	// The timer fires once.
	h.clock.Add(DefaultTimeout)
	h.none(t)
}

func TestVisitor_SupersededTimer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, drive.NewMemory(), openLists())

	_, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
	require.NoError(t, err)
	h.clock.Add(30 * time.Second)

	second, err := h.endpoint.GetMentions(ctx, Request{Target: target})
	require.NoError(t, err)

	h.clock.Add(30 * time.Second)
	h.none(t)

	h.clock.Add(30 * time.Second)
	r := h.next(t)
	assert.Equal(t, second.ID, r.OperationID)
	h.none(t)
}

// gatedVerifier holds endpoint checks until release is closed.
type gatedVerifier struct {
	Verifier
	entered chan struct{}
	release chan struct{}
}

func (g *gatedVerifier) TargetReferencesEndpoint(ctx context.Context, target, endpoint string) bool {
	g.entered <- struct{}{}
	<-g.release
	return g.Verifier.TargetReferencesEndpoint(ctx, target, endpoint)
}

func TestVisitor_OlderLocalResultKeepsNewerPending(t *testing.T) {
	ctx := context.Background()
	drives := authoritativeDrives(t)
	gate := &gatedVerifier{
		Verifier: verify.New(zaptest.NewLogger(t), nil, verify.DriveRetriever{Drives: drives}),
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	h := newHarnessWith(t, drives, openLists(), gate)

	local := make(chan Operation, 1)
	go func() {
		op, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
		assert.NoError(t, err)
		local <- op
	}()
	<-gate.entered

	// No drive for remote: the newer request waits on peers.
	remote := "https://remote/x"
	newer, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: remote})
	require.NoError(t, err)

	close(gate.release)
	older := <-local
	r := h.next(t)
	assert.Equal(t, older.ID, r.OperationID)
	assert.Equal(t, types.SuccessMessage(source, target, types.StatusAdded), r.Message)

	h.clock.Add(DefaultTimeout)
	r = h.next(t)
	assert.Equal(t, newer.ID, r.OperationID)
	assert.Equal(t, types.FailureMessage(source, remote, types.StatusNoPeer), r.Message)
}

func TestVisitor_FirstEndpointWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, drive.NewMemory(), openLists())
	e := h.endpoint

	op, err := e.SendMention(ctx, Request{Source: source, Target: target})
	require.NoError(t, err)

	endpointMsg, err := types.EncodeMessage(types.EndpointMessage())
	require.NoError(t, err)
	e.Receive("p1", endpointMsg)
	e.Receive("p2", endpointMsg)

	fromP2, err := types.EncodeMessage(types.FailureMessage(source, target, types.StatusNotWritable))
	require.NoError(t, err)
	e.Receive("p2", fromP2)
	h.none(t)

	wrongTarget, err := types.EncodeMessage(types.SuccessMessage(source, "https://other/", types.StatusAdded))
	require.NoError(t, err)
	e.Receive("p1", wrongTarget)
	h.none(t)

	ok, err := types.EncodeMessage(types.SuccessMessage(source, target, types.StatusAdded))
	require.NoError(t, err)
	e.Receive("p1", ok)
	r := h.next(t)
	assert.Equal(t, op.ID, r.OperationID)
	assert.Equal(t, types.StatusAdded, r.Message.Status)

	// Late replies and the stopped timer change nothing.
	e.Receive("p1", ok)
	h.clock.Add(DefaultTimeout)
	h.none(t)

	e.Receive("p1", []byte("not json"))
	e.Receive("p1", []byte(`{"type":"bogus"}`))
	h.none(t)
}

func TestAuthority_RelayedRequests(t *testing.T) {
	ctx := context.Background()
	drives := authoritativeDrives(t)
	h := newHarness(t, drives, types.Lists{Whitelist: []string{target}})
	e := h.endpoint

	hash, err := urlutil.OriginHash(target)
	require.NoError(t, err)
	assert.True(t, e.filter.ServesOriginHash(hash))

	assert.Equal(t, types.SuccessMessage(source, target, types.StatusAdded), e.handleSend(ctx, source, target))
	assert.Equal(t, types.FailureMessage(source, "https://u/x", types.StatusNotWritable), e.handleSend(ctx, source, "https://u/x"))
	assert.Equal(t, types.FailureMessage("", "https://u/x", types.StatusNotWritable), e.handleGet(ctx, "https://u/x"))
	assert.Equal(t, types.WebmentionsMessage(target, []string{source}, true, types.StatusMentions), e.handleGet(ctx, target))
}

// startPair joins an authoritative endpoint and a visitor on one hub.
func startPair(t *testing.T, lists types.Lists) (auth, visitor *harness, drives *drive.Memory) {
	t.Helper()
	ctx := context.Background()
	hub := memory.NewHub()

	drives = authoritativeDrives(t)
	auth = newHarness(t, drives, lists)
	visitor = newHarness(t, drive.NewMemory(), openLists())

	require.NoError(t, auth.endpoint.Start(ctx, hub))
	require.NoError(t, visitor.endpoint.Start(ctx, hub))
	require.Eventually(t, func() bool {
		return visitor.endpoint.Peers().Len() == 1 && auth.endpoint.Peers().Len() == 1
	}, 5*time.Second, 5*time.Millisecond)
	return auth, visitor, drives
}

func TestRelay_SendAndGet(t *testing.T) {
	ctx := context.Background()
	_, visitor, drives := startPair(t, types.Lists{Whitelist: []string{target}})

	op, err := visitor.endpoint.SendMention(ctx, Request{Source: source, Target: target, Origin: "tab-1"})
	require.NoError(t, err)
	r := visitor.next(t)
	assert.Equal(t, op.ID, r.OperationID)
	assert.Equal(t, "tab-1", r.Origin)
	assert.Equal(t, types.SuccessMessage(source, target, types.StatusAdded), r.Message)
	assert.Equal(t, []string{source}, storedMentions(t, drives))

	_, err = visitor.endpoint.GetMentions(ctx, Request{Target: target})
	require.NoError(t, err)
	r = visitor.next(t)
	assert.Equal(t, types.WebmentionsMessage(target, []string{source}, true, types.StatusMentions), r.Message)

	// The timer of a resolved operation never fires.
	visitor.clock.Add(DefaultTimeout)
	visitor.none(t)
}

func TestRelay_UnservedOrigin(t *testing.T) {
	ctx := context.Background()
	// A pattern whitelist matches targets but names no origin, so probes
	// go unanswered.
	_, visitor, drives := startPair(t, openLists())

	_, err := visitor.endpoint.SendMention(ctx, Request{Source: source, Target: target})
	require.NoError(t, err)
	visitor.none(t)

	visitor.clock.Add(DefaultTimeout)
	assert.Equal(t, types.StatusNoPeer, visitor.next(t).Message.Status)
	assert.Empty(t, storedMentions(t, drives))
}

func TestEndpoint_Lifecycle(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	h := newHarness(t, drive.NewMemory(), openLists())

	require.NoError(t, h.endpoint.Start(ctx, hub))
	assert.ErrorIs(t, h.endpoint.Start(ctx, hub), ErrAlreadyStarted)
	require.NoError(t, h.endpoint.Close())
	require.NoError(t, h.endpoint.Close())
	assert.ErrorIs(t, h.endpoint.Start(ctx, hub), ErrClosed)

	_, err := h.endpoint.SendMention(ctx, Request{Source: source, Target: target})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, hub.Peers(types.DefaultTopic))
}

func TestPeerSet(t *testing.T) {
	s := NewPeerSet()
	assert.True(t, s.Add("b"))
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("a"))
	snap := s.Snapshot()
	assert.Equal(t, []string{"a", "b"}, snap)

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Equal(t, []string{"a", "b"}, snap, "snapshots are detached")
	assert.True(t, s.Has("b"))
	assert.Equal(t, 1, s.Len())
}
