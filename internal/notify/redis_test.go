package notify

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ecotrack.org/internal/obs"
	"ecotrack.org/internal/session"
)

func TestWithChannelOverridesDefault(t *testing.T) {
	p := NewRedisPublisher(redis.NewClient(&redis.Options{}), WithChannel("ecotrack.test"))
	if p.channel != "ecotrack.test" {
		t.Fatalf("channel = %q", p.channel)
	}
	if NewRedisPublisher(redis.NewClient(&redis.Options{}), WithChannel("")).channel != defaultChannel {
		t.Fatal("empty channel name must keep the default")
	}
}

func TestNotifySwallowsPublishFailure(t *testing.T) {
	logger := obs.Logger()
	origWriter := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	// Nothing listens on this port; the publish must fail fast, get logged
	// and never surface to the caller.
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := NewRedisPublisher(rdb, WithChannel("ecotrack.test"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Notify(context.Background(), session.Event{
			Type: session.EventLoggedIn,
			At:   time.Now().UTC(),
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked past its timeout")
	}

	out := buf.String()
	if !strings.Contains(out, "session event publish failed") {
		t.Fatalf("failure not logged: %q", out)
	}
	if !strings.Contains(out, "ecotrack.test") || !strings.Contains(out, session.EventLoggedIn) {
		t.Fatalf("log entry missing channel or event: %q", out)
	}
}

func TestNotifyDetachesFromCanceledCaller(t *testing.T) {
	// A canceled caller context must not prevent the publish attempt: the
	// publisher detaches from the parent and applies its own timeout.
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := NewRedisPublisher(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	p.Notify(ctx, session.Event{Type: session.EventLoggedOut, At: time.Now().UTC()})
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Notify took %v, want bounded by its own timeout", elapsed)
	}
}
