package storage

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8080", "test-secret", zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestPutGetHead(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := []byte("invoice bytes")
	require.NoError(t, store.Put(ctx, "org-1/doc.pdf", data))

	got, err := store.Get(ctx, "org-1/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	info, err := store.Head(ctx, "org-1/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "org-1/doc.pdf", info.Key)
	assert.Equal(t, int64(len(data)), info.Size)
}

func TestGetMissingObject(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "org-1/missing.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = store.Head(context.Background(), "org-1/missing.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestKeyValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "org/../../etc/passwd", "/absolute"} {
		err := store.Put(ctx, key, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestPresignRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "org-1/doc.pdf", []byte("x")))

	signed, err := store.Presign("org-1/doc.pdf", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "http://localhost:8080/files/"))

	u, err := url.Parse(signed)
	require.NoError(t, err)
	expires, err := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	require.NoError(t, err)
	sig := u.Query().Get("sig")
	require.NotEmpty(t, sig)

	assert.NoError(t, store.Verify("org-1/doc.pdf", expires, sig))

	// A different key or tampered signature fails.
	assert.ErrorIs(t, store.Verify("org-1/other.pdf", expires, sig), ErrSignatureInvalid)
	assert.ErrorIs(t, store.Verify("org-1/doc.pdf", expires, "deadbeef"), ErrSignatureInvalid)
}

func TestPresignExpiry(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put(context.Background(), "org-1/doc.pdf", []byte("x")))

	signed, err := store.Presign("org-1/doc.pdf", time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	expires, _ := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	sig := u.Query().Get("sig")

	store.now = func() time.Time { return time.Unix(expires+1, 0) }
	assert.ErrorIs(t, store.Verify("org-1/doc.pdf", expires, sig), ErrSignatureInvalid)
}

func TestVerifyRejectsForgedExpiry(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put(context.Background(), "org-1/doc.pdf", []byte("x")))

	signed, err := store.Presign("org-1/doc.pdf", time.Minute)
	require.NoError(t, err)

	u, _ := url.Parse(signed)
	expires, _ := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	sig := u.Query().Get("sig")

	// Pushing the expiry out without re-signing invalidates the signature.
	forged := expires + 3600
	assert.ErrorIs(t, store.Verify("org-1/doc.pdf", forged, sig), ErrSignatureInvalid)
}
