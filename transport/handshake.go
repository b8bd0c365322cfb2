package transport

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net"
	"net/textproto"
	"strings"
)

// acceptGUID is the fixed magic string every handshake-aware endpoint must
// mix into its accept token, per RFC 6455.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	ErrBadHandshake = errors.New("bad websocket handshake")
	ErrPathNotFound = errors.New("unknown upgrade path")
)

// AcceptKey computes the Sec-WebSocket-Accept token for a client-supplied
// handshake key: base64(SHA-1(key + GUID)).
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Upgrade reads the HTTP upgrade request from br and, if it is a valid
// websocket upgrade for path, writes the 101 response to nc. On rejection a
// plain HTTP error response is written and an error returned; the caller
// closes the stream. Handshake failures are fatal to the connection
// attempt, never retried.
func Upgrade(nc net.Conn, br *bufio.Reader, path string) error {
	tp := textproto.NewReader(br)

	line, err := tp.ReadLine()
	if err != nil {
		return errors.Join(ErrBadHandshake, err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || parts[0] != "GET" {
		writeStatus(nc, "400 Bad Request")
		return ErrBadHandshake
	}
	if requestPath(parts[1]) != path {
		writeStatus(nc, "404 Not Found")
		return ErrPathNotFound
	}

	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		writeStatus(nc, "400 Bad Request")
		return errors.Join(ErrBadHandshake, err)
	}
	key := hdr.Get("Sec-WebSocket-Key")
	if !headerContainsToken(hdr.Get("Upgrade"), "websocket") ||
		!headerContainsToken(hdr.Get("Connection"), "upgrade") ||
		key == "" {
		writeStatus(nc, "400 Bad Request")
		return ErrBadHandshake
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"
	if _, err = nc.Write([]byte(resp)); err != nil {
		return errors.Join(ErrBadHandshake, err)
	}
	return nil
}

func requestPath(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	return target
}

func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

func writeStatus(nc net.Conn, status string) {
	_, _ = nc.Write([]byte("HTTP/1.1 " + status + "\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"))
}
