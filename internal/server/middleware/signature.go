package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/spacewager/internal/crypto"
	"github.com/alanyoungcy/spacewager/internal/domain"
)

// Signature headers of a signed execute request.
const (
	SignatureHeader = "X-Player-Signature"
	TimestampHeader = "X-Player-Timestamp"
	playerHeader    = "X-Player-Address"
)

// maxSignedBody bounds the body read for verification.
const maxSignedBody = 64 << 10

// Signature returns middleware that requires requests carrying an
// X-Player-Address to be signed by that address. Requests without the
// header pass through; the handler decides whether a sender is needed.
//
// A signed message is accepted once. It is remembered in nonces for twice
// the verifier's skew, the full span over which its timestamp is valid. When
// nonces cannot be reached the request is refused.
func Signature(v *crypto.Verifier, nonces domain.NonceStore, logger *slog.Logger) func(http.Handler) http.Handler {
	ttl := 2 * v.MaxSkew
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(playerHeader)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			player, err := domain.ParsePlayer(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "read body: "+err.Error())
				return
			}
			_ = r.Body.Close()

			ts := r.Header.Get(TimestampHeader)
			err = v.Verify(player, body, ts, r.Header.Get(SignatureHeader))
			if err != nil {
				msg := "invalid player signature"
				if errors.Is(err, crypto.ErrStaleRequest) {
					msg = err.Error()
				}
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			fresh, err := nonces.Claim(r.Context(), replayKey(player, body, ts), ttl)
			if err != nil {
				logger.ErrorContext(r.Context(), "replay check unavailable", slog.String("error", err.Error()))
				writeError(w, http.StatusServiceUnavailable, "replay check unavailable")
				return
			}
			if !fresh {
				writeError(w, http.StatusUnauthorized, crypto.ErrReplayedRequest.Error())
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// replayKey identifies the signed message rather than the signature bytes,
// so re-encoding a signature does not make it fresh.
func replayKey(player domain.Player, body []byte, ts string) string {
	timestamp, _ := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	return player.Hex() + ":" + hex.EncodeToString(crypto.RequestDigest(body, timestamp))
}

// LocalNonces is an in-process domain.NonceStore used when no Redis is
// configured. Expired keys are swept on every claim.
type LocalNonces struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

var _ domain.NonceStore = (*LocalNonces)(nil)

// NewLocalNonces creates an empty LocalNonces.
func NewLocalNonces() *LocalNonces {
	return &LocalNonces{seen: make(map[string]time.Time), now: time.Now}
}

// Claim records key until ttl from now.
func (l *LocalNonces) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, exp := range l.seen {
		if !now.Before(exp) {
			delete(l.seen, k)
		}
	}
	if exp, ok := l.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.seen[key] = now.Add(ttl)
	return true, nil
}
