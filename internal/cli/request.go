package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/peermention/internal/dispatch"
	"github.com/mesh-intelligence/peermention/internal/peer"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// requestFlags are shared by send, get and open.
type requestFlags struct {
	relayURL string
	settle   time.Duration
	done     string
	origin   string
}

func (f *requestFlags) register(cmd *cobra.Command, withRedirect bool) {
	cmd.Flags().StringVar(&f.relayURL, "relay", "", "relay URL overriding relay_url from config.yaml")
	cmd.Flags().DurationVar(&f.settle, "settle", 2*time.Second, "how long to wait for peers after joining the relay")
	if withRedirect {
		cmd.Flags().StringVar(&f.done, "done", "", "post-completion redirect URL")
		cmd.Flags().StringVar(&f.origin, "origin", "", "caller origin echoed in the response")
	}
}

func newSendCmd() *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "send <source> <target>",
		Short: "Send a Webmention from source to target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := peer.Request{Source: args[0], Target: args[1], Done: rf.done, Origin: rf.origin}
			return runRequest(cmd, rf, peer.KindSend, req)
		},
	}
	rf.register(cmd, true)
	return cmd
}

func newGetCmd() *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "get <target>",
		Short: "List the Webmentions recorded for target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := peer.Request{Target: args[0], Done: rf.done, Origin: rf.origin}
			return runRequest(cmd, rf, peer.KindGet, req)
		},
	}
	rf.register(cmd, true)
	return cmd
}

func newOpenCmd() *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "open <query>",
		Short: "Run the request encoded in an endpoint query string",
		Long: "Open accepts the query string an endpoint page is opened with:\n" +
			"  source=<url>&target=<url>[&done=<url>]   sends a mention\n" +
			"  get=<url>[&done=<url>]                   lists mentions",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, req, err := parseOpenQuery(args[0])
			if err != nil {
				return exitError(exitUserError, "%w", err)
			}
			return runRequest(cmd, rf, kind, req)
		},
	}
	rf.register(cmd, false)
	return cmd
}

// Query errors.
var (
	errEmptyQuery   = errors.New("query names no request")
	errMissingParam = errors.New("send query needs both source and target")
)

// parseOpenQuery decodes an endpoint query string. A get parameter selects
// a listing and wins over source and target.
func parseOpenQuery(raw string) (peer.Kind, peer.Request, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return "", peer.Request{}, fmt.Errorf("parse query: %w", err)
	}
	req := peer.Request{Done: q.Get("done"), Origin: q.Get("origin")}
	if get := q.Get("get"); get != "" {
		req.Target = get
		return peer.KindGet, req, nil
	}
	req.Source, req.Target = q.Get("source"), q.Get("target")
	switch {
	case req.Source == "" && req.Target == "":
		return "", peer.Request{}, errEmptyQuery
	case req.Source == "" || req.Target == "":
		return "", peer.Request{}, errMissingParam
	}
	return peer.KindSend, req, nil
}

// runRequest starts an endpoint, issues one request and prints its response.
// A failure response exits with the user error code.
func runRequest(cmd *cobra.Command, rf requestFlags, kind peer.Kind, req peer.Request) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Detach()

	ep, err := e.newEndpoint(store, nil)
	if err != nil {
		return err
	}
	defer ep.Close()

	responses := make(chan dispatch.Response, 4)
	ep.Dispatcher().OnSet(func(r dispatch.Response) {
		select {
		case responses <- r:
		default:
		}
	})

	if t := e.transport(rf.relayURL); t != nil {
		if err := ep.Start(ctx, t); err != nil {
			return exitError(exitSysError, "join relay: %w", err)
		}
		awaitPeers(ctx, ep, rf.settle)
	}

	var op peer.Operation
	if kind == peer.KindGet {
		op, err = ep.GetMentions(ctx, req)
	} else {
		op, err = ep.SendMention(ctx, req)
	}
	if err != nil {
		return exitError(exitSysError, "%s: %w", kind, err)
	}
	e.logger.Debug("request issued", zap.String("op", op.ID), zap.String("kind", string(kind)))

	for {
		select {
		case <-ctx.Done():
			return exitError(exitSysError, "interrupted: %w", ctx.Err())
		case r := <-responses:
			if r.OperationID != op.ID {
				continue
			}
			if err := printResponse(cmd.OutOrStdout(), r); err != nil {
				return err
			}
			if r.Message.Type == types.TypeFailure {
				return exitError(exitUserError, "%s", r.Message.Status)
			}
			return nil
		}
	}
}

// awaitPeers waits until at least one peer is known or settle elapses.
func awaitPeers(ctx context.Context, ep *peer.Endpoint, settle time.Duration) {
	if settle <= 0 {
		return
	}
	deadline := time.NewTimer(settle)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for ep.Peers().Len() == 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// responseView is the JSON output of a response.
type responseView struct {
	Result       string   `json:"result"`
	Status       string   `json:"status"`
	Source       string   `json:"source,omitempty"`
	Target       string   `json:"target"`
	Mentions     []string `json:"mentions,omitempty"`
	Capabilities bool     `json:"capabilities,omitempty"`
	Origin       string   `json:"origin,omitempty"`
	Redirect     string   `json:"redirect,omitempty"`
}

func printResponse(w io.Writer, r dispatch.Response) error {
	redirect, err := r.RedirectURL()
	if err != nil {
		return exitError(exitUserError, "%w", err)
	}
	msg := r.Message
	if flags.jsonMode {
		return printJSON(w, responseView{
			Result:       string(msg.Type),
			Status:       msg.Status,
			Source:       msg.Source,
			Target:       msg.Target,
			Mentions:     msg.Mentions,
			Capabilities: msg.Capabilities,
			Origin:       r.Origin,
			Redirect:     redirect,
		})
	}

	fmt.Fprintf(w, "%s: %s\n", msg.Type, msg.Status)
	for _, m := range msg.Mentions {
		fmt.Fprintf(w, "  %s\n", m)
	}
	if msg.Type == types.TypeWebmentions && msg.Capabilities {
		fmt.Fprintln(w, "(answering endpoint serves this origin)")
	}
	if redirect != "" {
		fmt.Fprintf(w, "redirect: %s\n", redirect)
	}
	return nil
}
