package controller

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/unclebandit/engagement-escrow/internal/handler"
	"github.com/unclebandit/engagement-escrow/internal/model"
)

const (
	HeaderSigner    = "X-Signer"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"

	DefaultSignatureWindow = 5 * time.Minute

	maxBodyBytes   = 1 << 20
	maxNonceLength = 64
)

type signerKey struct{}

// WithSigner returns a context carrying the verified caller identity.
func WithSigner(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, signerKey{}, id)
}

// SignerFromContext returns the identity set by RequireSigner, if any.
func SignerFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(signerKey{}).(model.Identity)
	return id, ok && !id.IsZero()
}

// SigningMessage is the exact byte string a caller signs:
//
//	METHOD \n escaped-path \n unix-seconds \n nonce \n body
//
// Binding the method and path ties a signature to one campaign and one
// operation; the timestamp and nonce make it single-use.
func SigningMessage(method, path, timestamp, nonce string, body []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(method) + len(path) + len(timestamp) + len(nonce) + len(body) + 4)
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(timestamp)
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.Write(body)
	return b.Bytes()
}

// Verifier checks request signatures and remembers every accepted nonce
// for as long as its timestamp could still pass the window check.
type Verifier struct {
	Window time.Duration
	Now    func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time // signer/nonce -> expiry
	lastPrune time.Time
}

func NewVerifier(window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	return &Verifier{
		Window: window,
		Now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// RequireSigner authenticates the caller named by X-Signer. With a nil
// verifier the header is trusted as given.
func RequireSigner(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signer, err := model.ParseIdentity(r.Header.Get(HeaderSigner))
			if err != nil {
				unauthenticated(w, "missing or malformed "+HeaderSigner)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				handler.WriteJSON(w, http.StatusRequestEntityTooLarge, handler.ErrorResponse{
					Error: "InvalidInput", Message: "request body too large",
				})
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if v != nil {
				if msg := v.verify(r, signer, body); msg != "" {
					unauthenticated(w, msg)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithSigner(r.Context(), signer)))
		})
	}
}

// verify returns a rejection reason, or "" when the request is authentic
// and its nonce was not used before.
func (v *Verifier) verify(r *http.Request, signer model.Identity, body []byte) string {
	timestamp := r.Header.Get(HeaderTimestamp)
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "missing or malformed " + HeaderTimestamp
	}
	now := v.Now()
	signedAt := time.Unix(secs, 0)
	if signedAt.Before(now.Add(-v.Window)) || signedAt.After(now.Add(v.Window)) {
		return HeaderTimestamp + " is outside the accepted window"
	}

	nonce := r.Header.Get(HeaderNonce)
	if nonce == "" || len(nonce) > maxNonceLength {
		return "missing or malformed " + HeaderNonce
	}

	sig, err := hex.DecodeString(r.Header.Get(HeaderSignature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return "missing or malformed " + HeaderSignature
	}
	msg := SigningMessage(r.Method, r.URL.EscapedPath(), timestamp, nonce, body)
	if !ed25519.Verify(ed25519.PublicKey(signer.Bytes()), msg, sig) {
		return "signature does not match " + HeaderSigner
	}

	// Only authentic requests consume a nonce.
	if !v.claimNonce(string(signer)+"/"+nonce, signedAt.Add(v.Window), now) {
		return HeaderNonce + " was already used"
	}
	return ""
}

func (v *Verifier) claimNonce(key string, expires, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if now.Sub(v.lastPrune) > v.Window {
		for k, exp := range v.seen {
			if now.After(exp) {
				delete(v.seen, k)
			}
		}
		v.lastPrune = now
	}
	if exp, ok := v.seen[key]; ok && !now.After(exp) {
		return false
	}
	v.seen[key] = expires
	return true
}

func unauthenticated(w http.ResponseWriter, msg string) {
	handler.WriteJSON(w, http.StatusUnauthorized, handler.ErrorResponse{Error: "InvalidSignature", Message: msg})
}
