package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{
			name:  "subscribe without body",
			frame: NewFrame(CommandSubscribe, nil, HeaderID, "sub-0", HeaderDestination, "/user/alice/queue/messages"),
		},
		{
			name:  "send with json body",
			frame: NewFrame(CommandSend, []byte(`{"content":"hi"}`), HeaderDestination, DestGroupChat, HeaderContentType, "application/json"),
		},
		{
			name:  "message with NUL inside body",
			frame: NewFrame(CommandMessage, []byte("a\x00b"), HeaderDestination, "/topic/chat/1"),
		},
		{
			name:  "header value needing escapes",
			frame: NewFrame(CommandSend, []byte("x"), "note", "a:b\nc\\d\re"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			require.NoError(t, EncodeFrame(buf, tt.frame))

			decoded, err := DecodeFrame(bufio.NewReader(buf))
			require.NoError(t, err)

			assert.Equal(t, tt.frame.Command, decoded.Command)
			for _, h := range tt.frame.Headers {
				assert.Equal(t, h.Value, decoded.Get(h.Key), "header %s", h.Key)
			}
			assert.True(t, bytes.Equal(tt.frame.Body, decoded.Body), "body mismatch: %q", decoded.Body)
		})
	}
}

func TestEncodeFrameWireFormat(t *testing.T) {
	data, err := EncodeMessage(NewFrame(CommandSend, []byte("hi"), HeaderDestination, "/app/x"))
	require.NoError(t, err)
	assert.Equal(t, "SEND\ndestination:/app/x\ncontent-length:2\n\nhi\x00", string(data))

	data, err = EncodeMessage(NewFrame(CommandConnect, nil, HeaderHost, "chat:8080"))
	require.NoError(t, err)
	assert.Equal(t, "CONNECT\nhost:chat:8080\n\n\x00", string(data), "CONNECT headers are not escaped")

	data, err = EncodeMessage(NewFrame(CommandSend, nil, "k", "a:b"))
	require.NoError(t, err)
	assert.Equal(t, "SEND\nk:a\\cb\n\n\x00", string(data))
}

func TestDecodeFrameErrors(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := DecodeMessage(nil)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("heart-beats only", func(t *testing.T) {
		_, err := DecodeMessage([]byte("\n\r\n"))
		assert.ErrorIs(t, err, ErrHeartBeatOnly)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := DecodeMessage([]byte("BOGUS\n\n\x00"))
		assert.ErrorIs(t, err, ErrInvalidCommand)
	})

	t.Run("header without colon", func(t *testing.T) {
		_, err := DecodeMessage([]byte("MESSAGE\nnocolon\n\n\x00"))
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("unknown escape", func(t *testing.T) {
		_, err := DecodeMessage([]byte("MESSAGE\nk:v\\t\n\n\x00"))
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("truncated headers", func(t *testing.T) {
		_, err := DecodeMessage([]byte("MESSAGE\ndestination:/x\n"))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("body missing NUL", func(t *testing.T) {
		_, err := DecodeMessage([]byte("MESSAGE\n\nhello"))
		assert.ErrorIs(t, err, ErrMissingNull)
	})

	t.Run("content-length overrun", func(t *testing.T) {
		_, err := DecodeMessage([]byte("MESSAGE\ncontent-length:2\n\nhiX"))
		assert.ErrorIs(t, err, ErrMissingNull)
	})

	t.Run("bad content-length", func(t *testing.T) {
		_, err := DecodeMessage([]byte("MESSAGE\ncontent-length:abc\n\n\x00"))
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("oversized content-length", func(t *testing.T) {
		_, err := DecodeMessage([]byte("MESSAGE\ncontent-length:9999999\n\n"))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("header line too long", func(t *testing.T) {
		_, err := DecodeMessage([]byte("MESSAGE\nk:" + strings.Repeat("v", maxHeaderLine+10) + "\n\n\x00"))
		assert.ErrorIs(t, err, ErrHeaderTooLong)
	})
}

func TestEncodeFrameErrors(t *testing.T) {
	err := EncodeFrame(io.Discard, &Frame{Command: "PUBLISH"})
	assert.True(t, errors.Is(err, ErrInvalidCommand))

	err = EncodeFrame(io.Discard, &Frame{Command: CommandSend, Body: make([]byte, MaxFrameSize+1)})
	assert.Equal(t, ErrFrameTooLarge, err)
}

func TestDecodeSkipsLeadingHeartBeats(t *testing.T) {
	frame, err := DecodeMessage([]byte("\n\r\n\nMESSAGE\r\ndestination:/x\r\n\r\nhi\x00"))
	require.NoError(t, err)
	assert.Equal(t, CommandMessage, frame.Command)
	assert.Equal(t, "/x", frame.Destination())
	assert.Equal(t, "hi", string(frame.Body))
}

func TestDecodeConsecutiveFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, NewFrame(CommandMessage, []byte("one"))))
	buf.WriteString("\n")
	require.NoError(t, EncodeFrame(&buf, NewFrame(CommandReceipt, nil, HeaderReceiptID, "r-1")))

	r := bufio.NewReader(&buf)
	first, err := DecodeFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "one", string(first.Body))

	second, err := DecodeFrame(r)
	require.NoError(t, err)
	assert.Equal(t, CommandReceipt, second.Command)
	assert.Equal(t, "r-1", second.Get(HeaderReceiptID))
}

func TestFrameHeaders(t *testing.T) {
	f := NewFrame(CommandMessage, nil, "k", "first", "k", "second", "odd")
	assert.Len(t, f.Headers, 2, "dangling key is dropped")
	assert.Equal(t, "first", f.Get("k"), "first occurrence wins")

	_, ok := f.Lookup("missing")
	assert.False(t, ok)

	f.Set("k", "only")
	assert.Len(t, f.Headers, 1)
	assert.Equal(t, "only", f.Get("k"))
}

func TestFrameConstants(t *testing.T) {
	assert.Equal(t, 1024*1024, MaxFrameSize)
	assert.Equal(t, "1.2", ProtocolVersion)
}
