package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// MaxFrameSize is the maximum allowed frame body size (1 MB)
	MaxFrameSize = 1024 * 1024

	// ProtocolVersion is the STOMP version negotiated on CONNECT
	ProtocolVersion = "1.2"

	// maxHeaderLine bounds a single command or header line
	maxHeaderLine = 8 * 1024
)

// STOMP commands
const (
	CommandConnect     = "CONNECT"
	CommandStomp       = "STOMP"
	CommandConnected   = "CONNECTED"
	CommandSend        = "SEND"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandError       = "ERROR"
	CommandDisconnect  = "DISCONNECT"
)

// Well-known headers
const (
	HeaderAcceptVersion = "accept-version"
	HeaderHost          = "host"
	HeaderHeartBeat     = "heart-beat"
	HeaderVersion       = "version"
	HeaderDestination   = "destination"
	HeaderContentType   = "content-type"
	HeaderContentLength = "content-length"
	HeaderID            = "id"
	HeaderAck           = "ack"
	HeaderSubscription  = "subscription"
	HeaderMessageID     = "message-id"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderMessage       = "message"
	HeaderAuthorization = "Authorization"
)

var (
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size (1 MB)")
	ErrInvalidCommand  = errors.New("invalid frame command")
	ErrInvalidHeader   = errors.New("invalid frame header")
	ErrMissingNull     = errors.New("frame body not terminated by NUL")
	ErrHeaderTooLong   = errors.New("frame header line too long")
	ErrHeartBeatOnly   = errors.New("heart-beat only")
)

var knownCommands = map[string]bool{
	CommandConnect:     true,
	CommandStomp:       true,
	CommandConnected:   true,
	CommandSend:        true,
	CommandSubscribe:   true,
	CommandUnsubscribe: true,
	CommandMessage:     true,
	CommandReceipt:     true,
	CommandError:       true,
	CommandDisconnect:  true,
}

// Header is a single STOMP header. Order is preserved because STOMP gives the
// first occurrence of a repeated header precedence.
type Header struct {
	Key   string
	Value string
}

// Frame represents a STOMP frame
// Format: COMMAND EOL *(header EOL) EOL body NUL
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// NewFrame builds a frame from alternating key/value header pairs.
func NewFrame(command string, body []byte, kv ...string) *Frame {
	f := &Frame{Command: command, Body: body}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers = append(f.Headers, Header{Key: kv[i], Value: kv[i+1]})
	}
	return f
}

// Get returns the first value for key.
func (f *Frame) Get(key string) string {
	v, _ := f.Lookup(key)
	return v
}

// Lookup returns the first value for key and whether it was present.
func (f *Frame) Lookup(key string) (string, bool) {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// Set replaces every occurrence of key with a single header.
func (f *Frame) Set(key, value string) {
	out := f.Headers[:0]
	for _, h := range f.Headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	f.Headers = append(out, Header{Key: key, Value: value})
}

// Destination is a shortcut for the destination header.
func (f *Frame) Destination() string {
	return f.Get(HeaderDestination)
}

// escapes headers in every frame except CONNECT and CONNECTED (STOMP 1.2 §Value Encoding)
func escapesHeaders(command string) bool {
	return command != CommandConnect && command != CommandConnected
}

var headerEscaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)

func unescapeHeader(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("%w: dangling escape", ErrInvalidHeader)
		}
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("%w: unknown escape \\%c", ErrInvalidHeader, s[i])
		}
	}
	return b.String(), nil
}

// EncodeFrame writes a frame to the writer. A content-length header is added
// when the body is non-empty and the caller did not set one.
func EncodeFrame(w io.Writer, f *Frame) error {
	if !knownCommands[f.Command] {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, f.Command)
	}
	if len(f.Body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	escape := escapesHeaders(f.Command)
	hasLength := false
	for _, h := range f.Headers {
		if h.Key == HeaderContentLength {
			hasLength = true
		}
		key, value := h.Key, h.Value
		if escape {
			key = headerEscaper.Replace(key)
			value = headerEscaper.Replace(value)
		}
		buf.WriteString(key)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	if !hasLength && len(f.Body) > 0 {
		buf.WriteString(HeaderContentLength)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	// Flush if the writer supports it (e.g., *bufio.Writer)
	type flusher interface {
		Flush() error
	}
	if fl, ok := w.(flusher); ok {
		return fl.Flush()
	}

	return nil
}

// readLine reads one EOL-terminated line, accepting both LF and CRLF.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull || len(line) > maxHeaderLine {
		return "", ErrHeaderTooLong
	}
	if err != nil {
		return "", err
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

// DecodeFrame reads a frame from the reader. Heart-beat EOLs preceding the
// command are skipped; a reader that holds only heart-beats returns
// ErrHeartBeatOnly at EOF so callers can tell keepalives from a closed stream.
func DecodeFrame(r *bufio.Reader) (*Frame, error) {
	var command string
	sawHeartBeat := false
	for {
		line, err := readLine(r)
		if err != nil {
			if err == io.EOF && sawHeartBeat {
				return nil, ErrHeartBeatOnly
			}
			return nil, err
		}
		if line != "" {
			command = line
			break
		}
		sawHeartBeat = true
	}

	if !knownCommands[command] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}

	f := &Frame{Command: command}
	escape := escapesHeaders(command)
	for {
		line, err := readLine(r)
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		if escape {
			if key, err = unescapeHeader(key); err != nil {
				return nil, err
			}
			if value, err = unescapeHeader(value); err != nil {
				return nil, err
			}
		}
		f.Headers = append(f.Headers, Header{Key: key, Value: value})
	}

	if lengthStr, ok := f.Lookup(HeaderContentLength); ok {
		length, err := strconv.Atoi(strings.TrimSpace(lengthStr))
		if err != nil || length < 0 {
			return nil, fmt.Errorf("%w: content-length %q", ErrInvalidHeader, lengthStr)
		}
		if length > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		terminator, err := r.ReadByte()
		if err != nil || terminator != 0 {
			return nil, ErrMissingNull
		}
		f.Body = body
		return f, nil
	}

	body, err := r.ReadBytes(0)
	if err != nil {
		if err == io.EOF {
			return nil, ErrMissingNull
		}
		return nil, err
	}
	body = body[:len(body)-1]
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	f.Body = body
	return f, nil
}

// EncodeMessage is a helper that encodes a frame to a byte slice, one
// websocket message per frame.
func EncodeMessage(f *Frame) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := EncodeFrame(buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMessage is a helper that decodes a frame from a byte slice
func DecodeMessage(data []byte) (*Frame, error) {
	return DecodeFrame(bufio.NewReaderSize(bytes.NewReader(data), maxHeaderLine+1))
}
