package hue

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/pion/dtls/v2"

	"ambilight/internal/frame"
)

const (
	streamPort    = 2100
	headerLen     = 52
	channelLen    = 7
	areaIDLen     = 36
	handshakeWait = 5 * time.Second
)

// ChannelColor is the color for one entertainment channel.
type ChannelColor struct {
	Channel uint8
	Color   frame.RGB
}

// EncodeMessage builds a HueStream v2 RGB message.
func EncodeMessage(areaID string, colors []ChannelColor, seq uint8) []byte {
	msg := make([]byte, headerLen+channelLen*len(colors))

	copy(msg[0:9], "HueStream")
	msg[9] = 0x02  // major
	msg[10] = 0x00 // minor
	msg[11] = seq
	// 12-13 reserved, 14 color space RGB, 15 reserved
	copy(msg[16:headerLen], fixedWidth(areaID, areaIDLen))

	off := headerLen
	for _, cc := range colors {
		msg[off] = cc.Channel
		put16(msg[off+1:], cc.Color.R)
		put16(msg[off+3:], cc.Color.G)
		put16(msg[off+5:], cc.Color.B)
		off += channelLen
	}
	return msg
}

// put16 widens an 8-bit component to 16 bits big-endian.
func put16(b []byte, v uint8) {
	w := uint16(v) * 257
	b[0] = byte(w >> 8)
	b[1] = byte(w)
}

func fixedWidth(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// Streamer sends channel colors to the bridge over DTLS.
type Streamer struct {
	conn   net.Conn
	areaID string
	seq    uint8
}

// Dial performs the DTLS PSK handshake with the bridge.
func Dial(ctx context.Context, ip net.IP, creds Credentials, areaID string) (*Streamer, error) {
	psk, err := hex.DecodeString(creds.Clientkey)
	if err != nil {
		return nil, fmt.Errorf("decoding clientkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, handshakeWait)
	defer cancel()

	conn, err := dtls.DialWithContext(ctx, "udp", &net.UDPAddr{IP: ip, Port: streamPort}, &dtls.Config{
		PSK: func([]byte) ([]byte, error) {
			return psk, nil
		},
		PSKIdentityHint:    []byte(creds.Username),
		CipherSuites:       []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("DTLS handshake: %w", err)
	}
	return &Streamer{conn: conn, areaID: areaID}, nil
}

// Send writes one frame of channel colors.
func (s *Streamer) Send(colors []ChannelColor) error {
	msg := EncodeMessage(s.areaID, colors, s.seq)
	s.seq++
	if _, err := s.conn.Write(msg); err != nil {
		return fmt.Errorf("writing to DTLS: %w", err)
	}
	return nil
}

// Close closes the DTLS connection.
func (s *Streamer) Close() error {
	return s.conn.Close()
}
