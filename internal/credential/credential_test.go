package credential_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/finvoice/internal/credential"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	s := credential.NewFileStore(filepath.Join(dir, "tokens"))

	if _, err := s.Get(ctx, credential.KeyAccessToken); !errors.Is(err, credential.ErrNoCredential) {
		t.Fatalf("Get on empty store: err = %v, want ErrNoCredential", err)
	}
	if err := s.Put(ctx, credential.KeyAccessToken, "tok-1\n"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, credential.KeyAccessToken)
	if err != nil || got != "tok-1" {
		t.Fatalf("Get = %q, %v; want tok-1", got, err)
	}

	info, err := os.Stat(filepath.Join(dir, "tokens", credential.KeyAccessToken))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	if err := s.Delete(ctx, credential.KeyAccessToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, credential.KeyAccessToken); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := s.Get(ctx, credential.KeyAccessToken); !errors.Is(err, credential.ErrNoCredential) {
		t.Fatalf("Get after Delete: err = %v", err)
	}
}

func TestFileStore_BlankTokenIsMissing(t *testing.T) {
	t.Parallel()

	s := credential.NewFileStore(t.TempDir())
	_ = s.Put(context.Background(), credential.KeyEphemeralToken, "  \n")
	if _, err := s.Get(context.Background(), credential.KeyEphemeralToken); !errors.Is(err, credential.ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
}

func TestFileStore_RejectsBadKeys(t *testing.T) {
	t.Parallel()

	s := credential.NewFileStore(t.TempDir())
	for _, key := range []string{"", "  ", ".", "../escape", "/etc/passwd"} {
		if _, err := s.Get(context.Background(), key); err == nil || errors.Is(err, credential.ErrNoCredential) {
			t.Errorf("Get(%q) err = %v, want key validation error", key, err)
		}
	}
}

func TestEnvStore(t *testing.T) {
	t.Parallel()

	env := map[string]string{"FINVOICE_OPENAI_EPHEMERAL_TOKEN": "ek_123"}
	s := credential.EnvStore{Lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok }}

	if got, err := s.Get(context.Background(), credential.KeyEphemeralToken); err != nil || got != "ek_123" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if _, err := s.Get(context.Background(), credential.KeyAccessToken); !errors.Is(err, credential.ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
	if got := credential.EnvVar(credential.KeyAccessToken); got != "FINVOICE_ACCESS_TOKEN" {
		t.Errorf("EnvVar = %q", got)
	}
}

func TestSessionEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer access":
			_, _ = io.WriteString(w, `{"client_secret":{"value":"ek_live","expires_at":1}}`)
		case "Bearer empty":
			_, _ = io.WriteString(w, `{}`)
		default:
			http.Error(w, "nope", http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	ep := &credential.SessionEndpoint{URL: srv.URL, Client: srv.Client(), Auth: credential.StoreSource{Store: credential.Static{Access: "access"}}}
	if got, err := ep.Get(ctx, credential.KeyEphemeralToken); err != nil || got != "ek_live" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if _, err := ep.Get(ctx, credential.KeyAccessToken); !errors.Is(err, credential.ErrNoCredential) {
		t.Errorf("access token from session endpoint: err = %v", err)
	}

	ep.Auth = credential.StoreSource{Store: credential.Static{Access: "empty"}}
	if _, err := ep.Get(ctx, credential.KeyEphemeralToken); !errors.Is(err, credential.ErrNoCredential) {
		t.Errorf("empty secret: err = %v, want ErrNoCredential", err)
	}

	ep.Auth = credential.StoreSource{Store: credential.Static{Access: "wrong"}}
	_, err := ep.Get(ctx, credential.KeyEphemeralToken)
	if err == nil || errors.Is(err, credential.ErrNoCredential) {
		t.Errorf("rejected request: err = %v, want a non-credential error", err)
	}
}

// countingStore records calls and returns a fixed outcome.
type countingStore struct {
	calls int
	val   string
	err   error
}

func (c *countingStore) Get(context.Context, string) (string, error) {
	c.calls++
	return c.val, c.err
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	env := &countingStore{err: credential.ErrNoCredential}
	file := &countingStore{val: "from-file"}
	c := credential.NewChain(quiet(), credential.Named{Name: "env", Store: env}, credential.Named{Name: "file", Store: file})

	got, err := c.ShortLivedToken(context.Background())
	if err != nil || got != "from-file" {
		t.Fatalf("ShortLivedToken = %q, %v", got, err)
	}
	if env.calls != 1 || file.calls != 1 {
		t.Errorf("calls env=%d file=%d", env.calls, file.calls)
	}
}

func TestChain_NoCredential(t *testing.T) {
	t.Parallel()

	missing := &countingStore{err: credential.ErrNoCredential}
	c := credential.NewChain(quiet(), credential.Named{Name: "only", Store: missing})

	// Absence never trips the breaker: every attempt reaches the store.
	for range 5 {
		if _, err := c.AccessToken(context.Background()); !errors.Is(err, credential.ErrNoCredential) {
			t.Fatalf("err = %v, want ErrNoCredential", err)
		}
	}
	if missing.calls != 5 {
		t.Errorf("calls = %d, want 5", missing.calls)
	}
}

func TestChain_SkipsBrokenStore(t *testing.T) {
	t.Parallel()

	broken := &countingStore{err: errors.New("disk on fire")}
	backup := &countingStore{val: "ok"}
	c := credential.NewChain(quiet(), credential.Named{Name: "broken", Store: broken}, credential.Named{Name: "backup", Store: backup})

	for range 5 {
		if got, err := c.ShortLivedToken(context.Background()); err != nil || got != "ok" {
			t.Fatalf("ShortLivedToken = %q, %v", got, err)
		}
	}
	if broken.calls != 3 {
		t.Errorf("broken store called %d times, want 3 before its breaker opens", broken.calls)
	}
}
