package browser

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestExpandVideoURL(t *testing.T) {
	b := &Browser{}
	if got, want := b.EmbedURL("abc123"), "https://www.youtube.com/embed/abc123?enablejsapi=1&autoplay=0&controls=0&cc_load_policy=1"; got != want {
		t.Fatalf("embed=%q, want %q", got, want)
	}
	if got, want := b.WatchURL("abc123"), "https://www.youtube.com/watch?v=abc123"; got != want {
		t.Fatalf("watch=%q, want %q", got, want)
	}

	b = &Browser{cfg: Config{WatchURL: "http://127.0.0.1:9000/v/{id}"}}
	if got, want := b.WatchURL("a b&c"), "http://127.0.0.1:9000/v/a+b%26c"; got != want {
		t.Fatalf("watch=%q, want %q", got, want)
	}
}

func TestHiddenFrameScript(t *testing.T) {
	js := hiddenFrameScript("https://example.test/embed/x?a=1")
	for _, want := range []string{`"https://example.test/embed/x?a=1"`, "width:0", "resolve(true)", "appendChild"} {
		if !strings.Contains(js, want) {
			t.Fatalf("script missing %q:\n%s", want, js)
		}
	}
}

func TestExecOptions(t *testing.T) {
	base := len(execOptions(Config{}))
	full := execOptions(Config{
		ExecPath:    "/usr/bin/chromium",
		UserDataDir: t.TempDir(),
		ExtraFlags:  []string{"--lang=de", "no-sandbox"},
	})
	if got := len(full) - base; got != 4 {
		t.Fatalf("extra options=%d, want 4", got)
	}
}

func TestNotStarted(t *testing.T) {
	var b *Browser
	if _, err := b.OpenTabCount(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err=%v, want ErrNotStarted", err)
	}
	s, err := b.LoadHiddenSurface(context.Background(), "v")
	if s != nil || !errors.Is(err, ErrNotStarted) {
		t.Fatalf("surface=%v err=%v, want nil surface and ErrNotStarted", s, err)
	}
	b.Close()
}

type ctxKey struct{}

func TestBound_FollowsCallerContext(t *testing.T) {
	parent := context.WithValue(context.Background(), ctxKey{}, "session")

	caller, cancelCaller := context.WithCancel(context.Background())
	runCtx, release := bound(parent, caller)
	defer release()
	if runCtx.Value(ctxKey{}) != "session" {
		t.Fatalf("derived context lost the parent's values")
	}
	cancelCaller()
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatalf("caller cancellation did not reach the derived context")
	}

	deadline := time.Now().Add(20 * time.Millisecond)
	timed, cancelTimed := context.WithDeadline(context.Background(), deadline)
	defer cancelTimed()
	runCtx, release = bound(parent, timed)
	defer release()
	if got, ok := runCtx.Deadline(); !ok || !got.Equal(deadline) {
		t.Fatalf("deadline=%v ok=%v, want %v", got, ok, deadline)
	}
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatalf("caller deadline did not reach the derived context")
	}
}

func TestBound_ReleaseLeavesParentRunning(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()
	runCtx, release := bound(parent, context.Background())
	release()
	if runCtx.Err() == nil {
		t.Fatalf("released context still running")
	}
	if parent.Err() != nil {
		t.Fatalf("release cancelled the browser context")
	}
}

func TestBrowserCalls_ReturnCallerError(t *testing.T) {
	b := &Browser{browserCtx: context.Background()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.OpenTabCount(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("count err=%v, want context.Canceled", err)
	}
	if s, err := b.LoadBackgroundTab(ctx, "v"); s != nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("tab=%v err=%v, want nil tab and context.Canceled", s, err)
	}
	if err := runBounded(b.browserCtx, ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run err=%v, want context.Canceled", err)
	}
}

func TestTabClose_Unattached(t *testing.T) {
	b := &Browser{browserCtx: context.Background()}
	var cancels int
	ctx, cancel := context.WithCancel(context.Background())
	tb := &tab{browser: b, id: "t1", ctx: ctx, cancel: func() {
		cancels++
		cancel()
	}}

	first := tb.Close()
	if first == nil {
		t.Fatalf("expected an error without a browser session")
	}
	if err := tb.Close(); err != first {
		t.Fatalf("second close err=%v, want %v", err, first)
	}
	if cancels != 1 {
		t.Fatalf("cancel calls=%d, want 1", cancels)
	}
}

// TestBrowser_Chrome runs against a real Chrome when SUBWARM_TEST_CHROME is
// set (either a DevTools URL or "local").
func TestBrowser_Chrome(t *testing.T) {
	target := strings.TrimSpace(os.Getenv("SUBWARM_TEST_CHROME"))
	if target == "" {
		t.Skip("SUBWARM_TEST_CHROME not set")
	}
	cfg := Config{Headless: true, WatchURL: "about:blank#{id}"}
	if target != "local" {
		cfg.RemoteURL = target
	}
	b, err := Start(cfg, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	before, err := b.OpenTabCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	tab, err := b.LoadBackgroundTab(ctx, "v1")
	if err != nil {
		t.Fatalf("load tab: %v", err)
	}
	during, _ := b.OpenTabCount(ctx)
	if during != before+1 {
		t.Fatalf("tabs during=%d, want %d", during, before+1)
	}
	if err := tab.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tab.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	after, err := b.OpenTabCount(ctx)
	if err != nil {
		t.Fatalf("count after close: %v", err)
	}
	if after != before {
		t.Fatalf("tabs after close=%d, want %d", after, before)
	}

	short, cancelShort := context.WithTimeout(ctx, time.Nanosecond)
	defer cancelShort()
	<-short.Done()
	if _, err := b.LoadBackgroundTab(short, "v2"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expired caller ctx err=%v, want DeadlineExceeded", err)
	}
}
