// Package audiolink transports real-time PCM audio as encrypted packets over
// UDP, using the server-issued key/nonce scheme negotiated on the control
// plane.
//
// Wire format: each packet is a 16-byte header block followed by AES-CTR
// ciphertext of one opus frame. The header is the server's nonce template
// with bytes [2:4] overwritten by the big-endian frame length and bytes
// [12:16] by the big-endian sequence number; the full 16 bytes seed the CTR
// counter block.
package audiolink

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxpal/voxpal/pkg/session"
)

const (
	// ChunkBytes is the fixed outbound chunk size: 960 16-bit samples.
	ChunkBytes = 1920
	headerLen  = 16
	// maxDatagram bounds one inbound packet; frames are far smaller.
	maxDatagram = 1500
)

// Encoder compresses one fixed-size PCM chunk into an opus frame.
type Encoder interface {
	Encode(pcm []byte) ([]byte, error)
}

// Decoder decompresses one opus frame into a fixed-duration PCM chunk.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

// Config wires a Link to its session and codec collaborators. The encoder
// and decoder are long-lived process-wide handles owned by the caller.
type Config struct {
	// Key is the session AES key.
	Key []byte
	// Nonce is the 16-byte server-issued nonce template.
	Nonce []byte
	// Encoder and Decoder are the opus codec handles.
	Encoder Encoder
	Decoder Decoder
	// State reports the current session status. The receive loop delivers
	// decoded PCM only while it reports Speaking.
	State func() session.Status
	// Sink receives decoded playback PCM.
	Sink func(pcm []byte)
	// NextSequence supplies the strictly monotonic outbound sequence number.
	NextSequence func() uint32
}

// Link owns the UDP socket of one negotiated session. The receive loop runs
// for the socket's lifetime and only reads session state; Close stops the
// loop, unblocks its pending read, joins it and then releases the socket.
type Link struct {
	conn    *net.UDPConn
	block   cipher.Block
	nonce   [headerLen]byte
	enc     Encoder
	dec     Decoder
	state   func() session.Status
	sink    func([]byte)
	nextSeq func() uint32

	running   atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open connects the UDP socket to the negotiated endpoint and starts the
// receive loop.
func Open(server string, port int, cfg Config) (*Link, error) {
	if len(cfg.Nonce) != headerLen {
		return nil, fmt.Errorf("audiolink: nonce template must be %d bytes, got %d", headerLen, len(cfg.Nonce))
	}
	block, err := aes.NewCipher(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("audiolink: session key: %w", err)
	}

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(server, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("audiolink: resolve %s:%d: %w", server, port, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("audiolink: dial %s: %w", raddr, err)
	}

	l := &Link{
		conn:    conn,
		block:   block,
		enc:     cfg.Encoder,
		dec:     cfg.Decoder,
		state:   cfg.State,
		sink:    cfg.Sink,
		nextSeq: cfg.NextSequence,
	}
	copy(l.nonce[:], cfg.Nonce)

	l.running.Store(true)
	l.wg.Add(1)
	go l.receiveLoop()

	return l, nil
}

// Send splits pcm into 1920-byte chunks and transmits each as one encrypted
// opus frame. A trailing remainder shorter than one chunk is dropped, not
// buffered across calls; callers stream in multiples of ChunkBytes when
// completeness matters.
func (l *Link) Send(pcm []byte) error {
	for len(pcm) >= ChunkBytes {
		frame, err := l.enc.Encode(pcm[:ChunkBytes])
		pcm = pcm[ChunkBytes:]
		if err != nil {
			return fmt.Errorf("audiolink: encode: %w", err)
		}

		pkt := l.seal(frame, l.nextSeq())
		if _, err := l.conn.Write(pkt); err != nil {
			return fmt.Errorf("audiolink: send: %w", err)
		}
	}
	return nil
}

// seal builds the wire packet for one compressed frame.
func (l *Link) seal(frame []byte, seq uint32) []byte {
	pkt := make([]byte, headerLen+len(frame))
	copy(pkt, l.nonce[:])
	pkt[2] = byte(len(frame) >> 8)
	pkt[3] = byte(len(frame))
	pkt[12] = byte(seq >> 24)
	pkt[13] = byte(seq >> 16)
	pkt[14] = byte(seq >> 8)
	pkt[15] = byte(seq)

	cipher.NewCTR(l.block, pkt[:headerLen]).XORKeyStream(pkt[headerLen:], frame)
	return pkt
}

func (l *Link) receiveLoop() {
	defer l.wg.Done()

	buf := make([]byte, maxDatagram)
	for l.running.Load() {
		n, err := l.conn.Read(buf)
		if err != nil {
			if !l.running.Load() {
				return
			}
			// Transient receive failures (e.g. ICMP unreachable on a
			// connected UDP socket) are not fatal to the loop.
			slog.Debug("audiolink receive error", "error", err)
			continue
		}
		if n < headerLen {
			continue
		}

		seed := buf[:headerLen]
		plain := make([]byte, n-headerLen)
		cipher.NewCTR(l.block, seed).XORKeyStream(plain, buf[headerLen:n])

		// Decode unconditionally to keep decoder state consistent across
		// frames; the delivery gate below decides whether anyone hears it.
		pcm, err := l.dec.Decode(plain)
		if err != nil {
			slog.Debug("audiolink decode failed", "error", err)
			continue
		}

		if l.state() == session.StatusSpeaking {
			l.sink(pcm)
		}
	}
}

// Close stops the receive loop, unblocks its pending read, joins it and
// closes the socket. It is idempotent and safe to call from the dispatch
// path while the loop is mid-read.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.running.Store(false)
		// Read-side shutdown: wake the blocked read before touching the
		// socket, then join so the loop never observes a closed socket.
		l.conn.SetReadDeadline(time.Now())
		l.wg.Wait()
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// LocalAddr returns the local UDP address of the link's socket.
func (l *Link) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}
