// Package stompws speaks STOMP 1.2 over a websocket. It is the production
// realtime.Transport.
package stompws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3/frame"

	"social-realtime/internal/logging"
	"social-realtime/internal/realtime"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxMessageBytes     = 1 << 20
)

var subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

type Transport struct {
	HTTPClient   *http.Client
	WriteTimeout time.Duration
	logger       *logging.Logger
}

func New(logger *logging.Logger) *Transport {
	return &Transport{logger: logger, WriteTimeout: defaultWriteTimeout}
}

// Dial upgrades to a websocket, then completes the STOMP CONNECT exchange
// within ctx. headers go on both the upgrade request and the CONNECT frame.
func (t *Transport) Dial(ctx context.Context, endpoint string, headers map[string]string) (realtime.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	httpHeader := http.Header{}
	for k, v := range headers {
		httpHeader.Set(k, v)
	}
	ws, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient:   t.HTTPClient,
		HTTPHeader:   httpHeader,
		Subprotocols: subprotocols,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &realtime.HandshakeError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	ws.SetReadLimit(maxMessageBytes)

	writeTimeout := t.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	readCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:           ws,
		logger:       t.logger.With(logging.Field("endpoint", endpoint)),
		writeTimeout: writeTimeout,
		ctx:          readCtx,
		cancel:       cancel,
		frames:       make(chan realtime.Frame, 64),
	}

	if err := c.handshake(ctx, u.Hostname(), headers); err != nil {
		c.abort()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

type conn struct {
	ws           *websocket.Conn
	logger       *logging.Logger
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	frames chan realtime.Frame

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (c *conn) handshake(ctx context.Context, host string, headers map[string]string) error {
	pairs := []string{
		hdrAcceptVersion, "1.2,1.1,1.0",
		hdrHost, host,
		hdrHeartBeat, "0,0",
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, k, headers[k])
	}
	if err := c.write(ctx, frame.New(cmdConnect, pairs...)); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("await CONNECTED: %w", err)
		}
		frames, err := decodeFrames(data)
		if err != nil {
			return fmt.Errorf("decode CONNECT reply: %w", err)
		}
		if len(frames) == 0 {
			continue
		}
		reply := frames[0]
		switch reply.Command {
		case cmdConnected:
			c.logger.Debug("stomp session established", logging.Field("version", reply.Header.Get("version")))
			return nil
		case realtime.CommandError:
			return &realtime.FrameError{Message: reply.Header.Get(hdrMessage), Body: string(reply.Body)}
		default:
			return fmt.Errorf("unexpected %s frame before CONNECTED", reply.Command)
		}
	}
}

func (c *conn) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.fail(err)
			return
		}
		frames, err := decodeFrames(data)
		if err != nil {
			c.fail(fmt.Errorf("decode frame: %w", err))
			return
		}
		for _, f := range frames {
			select {
			case c.frames <- toRealtime(f):
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *conn) fail(err error) {
	if c.ctx.Err() != nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		err = fmt.Errorf("server closed the socket: %w", err)
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.logger.Debug("stomp read loop ended", logging.Field("error", err))
}

func (c *conn) write(ctx context.Context, f *frame.Frame) error {
	payload, err := encodeFrame(f)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, payload)
}

func (c *conn) Subscribe(id, destination string) error {
	return c.write(c.ctx, frame.New(cmdSubscribe, hdrID, id, hdrDestination, destination, hdrAck, "auto"))
}

func (c *conn) Unsubscribe(id string) error {
	return c.write(c.ctx, frame.New(cmdUnsubscribe, hdrID, id))
}

func (c *conn) Send(destination string, body []byte) error {
	return c.write(c.ctx, sendFrame(destination, body))
}

func (c *conn) Frames() <-chan realtime.Frame {
	return c.frames
}

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends DISCONNECT and drops the socket. Safe to call repeatedly.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		if err := c.write(c.ctx, frame.New(cmdDisconnect)); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("DISCONNECT not sent", logging.Field("error", err))
		}
		c.cancel()
		_ = c.ws.CloseNow()
	})
	return nil
}

func (c *conn) abort() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.CloseNow()
	})
}
