// Package bluesky publishes earthquake posts to a Bluesky (AT Protocol) account.
package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/jonboulle/clockwork"
)

const (
	// MaxPostLength is the post text limit, counted here in runes.
	MaxPostLength = 300

	// maxImageBytes is the largest blob accepted for an image embed.
	maxImageBytes = 1_000_000

	// imageSide is the edge length of the rendered square card.
	imageSide = 1080

	postCollection = "app.bsky.feed.post"

	errExpiredToken = "ExpiredToken"
	userAgent       = "quakebot"
)

// Client holds an authenticated XRPC session for one account.
type Client struct {
	host       string
	handle     string
	password   string
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger

	mu   sync.RWMutex
	auth *xrpc.AuthInfo
}

// NewClient creates a client for the PDS at host. Call Login before Publish.
func NewClient(host, handle, password string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		host:     host,
		handle:   handle,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
}

// xrpcClient returns an XRPC client authenticated with auth, which may be nil.
// A fresh value per call keeps session swaps from racing in-flight requests.
func (c *Client) xrpcClient(auth *xrpc.AuthInfo) *xrpc.Client {
	ua := userAgent
	return &xrpc.Client{
		Client:    c.httpClient,
		Host:      c.host,
		Auth:      auth,
		UserAgent: &ua,
	}
}

// Login creates a session from the handle and app password.
func (c *Client) Login(ctx context.Context) error {
	out, err := atproto.ServerCreateSession(ctx, c.xrpcClient(nil), &atproto.ServerCreateSession_Input{
		Identifier: c.handle,
		Password:   c.password,
	})
	if err != nil {
		c.setAuth(nil)
		return fmt.Errorf("login as %s: %w", c.handle, err)
	}
	c.setAuth(&xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	})
	c.logger.Info("bluesky session created", "handle", out.Handle, "did", out.Did)
	return nil
}

// Available reports whether the client holds a session.
func (c *Client) Available() bool {
	return c.currentAuth() != nil
}

// Publish uploads the image and creates a post with the caption. An expired
// access token is refreshed once before giving up.
func (c *Client) Publish(ctx context.Context, imagePath, caption string) error {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if len(image) > maxImageBytes {
		return fmt.Errorf("image %s is %d bytes, limit is %d", imagePath, len(image), maxImageBytes)
	}

	err = c.publish(ctx, image, caption)
	if isExpiredToken(err) {
		c.logger.Info("bluesky access token expired, refreshing")
		if err := c.refresh(ctx); err != nil {
			return err
		}
		err = c.publish(ctx, image, caption)
	}
	return err
}

func (c *Client) publish(ctx context.Context, image []byte, caption string) error {
	auth := c.currentAuth()
	if auth == nil {
		return errors.New("bluesky: not logged in")
	}
	xc := c.xrpcClient(auth)

	uploaded, err := atproto.RepoUploadBlob(ctx, xc, bytes.NewReader(image))
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	if uploaded.Blob == nil {
		return errors.New("upload image: response has no blob")
	}

	text := clip(caption, MaxPostLength)
	post := &bsky.FeedPost{
		LexiconTypeID: postCollection,
		Text:          text,
		CreatedAt:     c.clock.Now().UTC().Format(time.RFC3339),
		Langs:         []string{"tr"},
		Embed: &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{
				Images: []*bsky.EmbedImages_Image{{
					Alt:         text,
					Image:       uploaded.Blob,
					AspectRatio: &bsky.EmbedDefs_AspectRatio{Width: imageSide, Height: imageSide},
				}},
			},
		},
	}

	created, err := atproto.RepoCreateRecord(ctx, xc, &atproto.RepoCreateRecord_Input{
		Repo:       auth.Did,
		Collection: postCollection,
		Record:     &lexutil.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	c.logger.Info("bluesky post created", "uri", created.Uri)
	return nil
}

// refresh renews the session with the refresh token, falling back to a full
// login when the refresh token is rejected too.
func (c *Client) refresh(ctx context.Context) error {
	if auth := c.currentAuth(); auth != nil {
		// refreshSession authenticates with the refresh token as bearer.
		out, err := atproto.ServerRefreshSession(ctx, c.xrpcClient(&xrpc.AuthInfo{
			AccessJwt: auth.RefreshJwt,
			Handle:    auth.Handle,
			Did:       auth.Did,
		}))
		if err == nil {
			c.setAuth(&xrpc.AuthInfo{
				AccessJwt:  out.AccessJwt,
				RefreshJwt: out.RefreshJwt,
				Handle:     out.Handle,
				Did:        out.Did,
			})
			return nil
		}
		c.logger.Warn("bluesky session refresh failed, logging in again", "error", err)
	}
	return c.Login(ctx)
}

func (c *Client) currentAuth() *xrpc.AuthInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

func (c *Client) setAuth(a *xrpc.AuthInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = a
}

// isExpiredToken reports whether err is an XRPC ExpiredToken response.
func isExpiredToken(err error) bool {
	var xerr *xrpc.XRPCError
	return errors.As(err, &xerr) && xerr.ErrStr == errExpiredToken
}

// clip shortens s to at most n runes, ending with an ellipsis when cut.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
