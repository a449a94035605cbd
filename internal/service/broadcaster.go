package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Gateway sends one outbound message. It is implemented by client.TwilioClient.
type Gateway interface {
	Send(ctx context.Context, body, to, from, mediaURL string) (remoteMessageID string, err error)
}

// Result summarizes one broadcast.
type Result struct {
	Attempted int
	Sent      int
	Failed    int
	Err       error
}

func (r Result) OK() bool {
	return r.Failed == 0
}

type Broadcaster struct {
	gateway     Gateway
	from        string
	contentMax  int
	concurrency int

	onSent   func(ctx context.Context, to, remoteMessageID string)
	onFailed func(ctx context.Context, to string, err error)
}

func NewBroadcaster(gateway Gateway, from string, contentMax, concurrency int) *Broadcaster {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Broadcaster{
		gateway:     gateway,
		from:        from,
		contentMax:  contentMax,
		concurrency: concurrency,
	}
}

// WithHooks registers per-recipient callbacks. They may run concurrently.
func (b *Broadcaster) WithHooks(
	onSent func(ctx context.Context, to, remoteMessageID string),
	onFailed func(ctx context.Context, to string, err error),
) *Broadcaster {
	b.onSent = onSent
	b.onFailed = onFailed
	return b
}

// Broadcast sends body to every unique recipient. Every recipient is
// attempted regardless of earlier failures.
func (b *Broadcaster) Broadcast(ctx context.Context, body, mediaURL string, recipients []string) Result {
	recipients = unique(recipients)
	res := Result{Attempted: len(recipients)}
	if len(recipients) == 0 {
		return res
	}

	if err := b.checkContent(body); err != nil {
		res.Failed = len(recipients)
		res.Err = err
		for _, to := range recipients {
			b.fail(ctx, to, err)
		}
		return res
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)
	for _, to := range recipients {
		g.Go(func() error {
			remoteID, err := b.gateway.Send(ctx, body, to, b.from, mediaURL)

			mu.Lock()
			if err != nil {
				res.Failed++
				errs = append(errs, fmt.Errorf("send to %s: %w", to, err))
			} else {
				res.Sent++
			}
			mu.Unlock()

			if err != nil {
				b.fail(ctx, to, err)
			} else if b.onSent != nil {
				b.onSent(ctx, to, remoteID)
			}
			// Failures are aggregated, never returned, so no send is skipped.
			return nil
		})
	}
	_ = g.Wait()

	res.Err = errors.Join(errs...)
	return res
}

// Reply sends body to to. An empty from uses the default sending address.
// Bodies longer than the content limit go out as several messages, split on
// line boundaries where possible, in order.
func (b *Broadcaster) Reply(ctx context.Context, to, from, body string) error {
	if from == "" {
		from = b.from
	}
	segments := splitSegments(body, b.contentMax)
	for i, seg := range segments {
		if _, err := b.gateway.Send(ctx, seg, to, from, ""); err != nil {
			return fmt.Errorf("send segment %d of %d: %w", i+1, len(segments), err)
		}
	}
	return nil
}

// splitSegments cuts body into pieces of at most limit runes. Lines are kept
// whole unless a single line is longer than limit.
func splitSegments(body string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(body) <= limit {
		return []string{body}
	}

	var (
		out  []string
		cur  strings.Builder
		n    int
		open bool
	)
	flush := func() {
		if open {
			out = append(out, cur.String())
			cur.Reset()
			n, open = 0, false
		}
	}

	for _, line := range strings.Split(body, "\n") {
		runes := []rune(line)
		if len(runes) > limit {
			flush()
			for len(runes) > limit {
				out = append(out, string(runes[:limit]))
				runes = runes[limit:]
			}
			if len(runes) == 0 {
				continue
			}
		}
		if open {
			if n+1+len(runes) > limit {
				flush()
			} else {
				cur.WriteByte('\n')
				n++
			}
		}
		cur.WriteString(string(runes))
		n += len(runes)
		open = true
	}
	flush()
	return out
}
