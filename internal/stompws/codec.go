package stompws

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"

	"social-realtime/internal/realtime"
)

const (
	cmdConnect     = "CONNECT"
	cmdConnected   = "CONNECTED"
	cmdSubscribe   = "SUBSCRIBE"
	cmdUnsubscribe = "UNSUBSCRIBE"
	cmdSend        = "SEND"
	cmdDisconnect  = "DISCONNECT"

	hdrAcceptVersion = "accept-version"
	hdrHost          = "host"
	hdrHeartBeat     = "heart-beat"
	hdrID            = "id"
	hdrAck           = "ack"
	hdrDestination   = "destination"
	hdrSubscription  = "subscription"
	hdrContentType   = "content-type"
	hdrContentLength = "content-length"
	hdrMessage       = "message"

	jsonContentType = "application/json"
)

// encodeFrame renders f as one websocket text message.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrames parses every frame packed into one websocket message. Heart
// beats are skipped.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var out []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		out = append(out, f)
	}
}

func toRealtime(f *frame.Frame) realtime.Frame {
	headers := make(map[string]string, f.Header.Len())
	for i := 0; i < f.Header.Len(); i++ {
		k, v := f.Header.GetAt(i)
		if _, seen := headers[k]; !seen {
			headers[k] = v
		}
	}
	return realtime.Frame{
		Command:      f.Command,
		Destination:  f.Header.Get(hdrDestination),
		Subscription: f.Header.Get(hdrSubscription),
		Headers:      headers,
		Body:         f.Body,
	}
}

func sendFrame(destination string, body []byte) *frame.Frame {
	f := frame.New(cmdSend,
		hdrDestination, destination,
		hdrContentType, jsonContentType,
		hdrContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	return f
}
