// Package app wires the device runtime together: activation, the broker
// connection, wake-word detection, the session state machine and the
// encrypted audio link.
package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/voxpal/voxpal/pkg/audiolink"
	"github.com/voxpal/voxpal/pkg/config"
	"github.com/voxpal/voxpal/pkg/display"
	"github.com/voxpal/voxpal/pkg/mqtt"
	"github.com/voxpal/voxpal/pkg/ota"
	"github.com/voxpal/voxpal/pkg/protocol"
	"github.com/voxpal/voxpal/pkg/session"
	"github.com/voxpal/voxpal/pkg/wakeword"
)

const (
	// linkWait bounds how long a wake event waits for the hello round
	// trip to open the audio socket.
	linkWait = 5 * time.Second

	defaultVolume = 70
)

// Options carries the runtime's collaborators. Config is required; the
// audio collaborators may be nil in degraded (silent) setups.
type Options struct {
	Config   *config.Config
	Detector wakeword.Detector
	Display  display.Display
	// Speaker receives decoded playback PCM.
	Speaker io.Writer
	Encoder audiolink.Encoder
	Decoder audiolink.Decoder
}

// App is the runtime orchestrator. One App runs per process.
type App struct {
	cfg      *config.Config
	detector wakeword.Detector
	display  display.Display
	speaker  io.Writer
	enc      audiolink.Encoder
	dec      audiolink.Decoder

	sess    *session.Session
	control *protocol.Control
	volume  int

	mu        sync.Mutex
	link      *audiolink.Link
	linkReady chan struct{}

	fatal chan error
}

// New assembles an App from its collaborators.
func New(opts Options) *App {
	return &App{
		cfg:      opts.Config,
		detector: opts.Detector,
		display:  opts.Display,
		speaker:  opts.Speaker,
		enc:      opts.Encoder,
		dec:      opts.Decoder,
		sess:     session.New(opts.Display),
		volume:   defaultVolume,
		fatal:    make(chan error, 1),
	}
}

// Session exposes the state machine, mainly for inspection.
func (a *App) Session() *session.Session {
	return a.sess
}

// Run performs startup (activation, broker connect, detector start) and
// blocks until ctx is cancelled or a fatal runtime error occurs. It tears
// the active session down before returning.
func (a *App) Run(ctx context.Context) error {
	a.sess.SetState(session.StatusStarting)

	srvCfg, err := a.bootstrap(ctx)
	if err != nil {
		a.sess.SetState(session.StatusFatalError)
		return err
	}
	if srvCfg.MQTT == nil || srvCfg.MQTT.Endpoint == "" {
		a.sess.SetState(session.StatusFatalError)
		return errors.New("app: server configuration has no broker endpoint")
	}

	a.sess.SetState(session.StatusConnecting)
	conn, err := a.connect(ctx, srvCfg.MQTT)
	if err != nil {
		a.sess.SetState(session.StatusFatalError)
		return fmt.Errorf("app: connect broker: %w", err)
	}
	defer conn.Close()

	a.sess.SetState(session.StatusIdle)

	if a.detector != nil {
		go func() {
			err := a.detector.Start(ctx, wakeword.Callbacks{
				OnDetected: func(pcm []byte) { a.onWake(ctx, pcm) },
				OnAudio:    func(pcm []byte) { a.onAudio(pcm) },
			})
			if err != nil && ctx.Err() == nil {
				a.fail(fmt.Errorf("app: wake-word detector: %w", err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case ferr := <-a.fatal:
		err = ferr
	}

	a.shutdown()
	return err
}

func (a *App) bootstrap(ctx context.Context) (*ota.ServerConfig, error) {
	c := &ota.Client{
		URL: a.cfg.OTA.URL,
		Identity: ota.NewIdentity(
			a.cfg.OTA.DeviceID,
			a.cfg.OTA.ClientID,
			a.cfg.OTA.SerialNumber,
			[]byte(a.cfg.OTA.HMACKey),
		),
		Board: a.cfg.OTA.Board,
	}
	cfg, err := c.Bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: activation: %w", err)
	}
	return cfg, nil
}

func (a *App) connect(ctx context.Context, mc *ota.MQTTConfig) (*mqtt.Conn, error) {
	mux := mqtt.NewServeMux()
	mux.HandleFunc(mc.SubscribeTopic, func(m mqtt.Message) error {
		a.control.Dispatch(ctx, m.Packet.Payload, a)
		return nil
	})

	dialer := &mqtt.Dialer{
		ID:       mc.ClientID,
		ServeMux: mux,
		OnConnectError: func(err error) {
			slog.Warn("broker connection attempt failed", "error", err)
		},
		OnConnectionUp: func() {
			slog.Info("broker connection up", "endpoint", mc.Endpoint)
		},
	}

	var opts []mqtt.DialOption
	if mc.Username != "" {
		opts = append(opts, mqtt.WithUser(mc.Username, mc.Password))
	}
	conn, err := dialer.Dial(ctx, mc.Endpoint, opts...)
	if err != nil {
		return nil, err
	}

	a.control = &protocol.Control{
		Topic:     mc.PublishTopic,
		Publisher: &mqtt.TopicWriter{Name: mc.PublishTopic, Conn: conn},
	}

	if mc.SubscribeTopic != "" {
		if err := conn.Subscribe(ctx, mc.SubscribeTopic); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// onWake handles one wake event: announce hello, wait for the server's
// reply to open the audio socket, stream the triggering chunk and start
// listening. Wake events during an active session are ignored.
func (a *App) onWake(ctx context.Context, pcm []byte) {
	if a.sess.State() != session.StatusIdle {
		return
	}

	ready := make(chan struct{})
	a.mu.Lock()
	a.linkReady = ready
	a.mu.Unlock()

	if err := a.control.SendHello(ctx); err != nil {
		slog.Warn("hello send failed", "error", err)
		a.detector.Restart()
		return
	}

	select {
	case <-ready:
	case <-ctx.Done():
		a.detector.Restart()
		return
	case <-time.After(linkWait):
		slog.Warn("no hello reply; wake event abandoned")
		a.detector.Restart()
		return
	}

	link := a.currentLink()
	if link == nil {
		a.detector.Restart()
		return
	}
	if err := link.Send(pcm); err != nil {
		slog.Warn("wake chunk send failed", "error", err)
	}

	id := a.sess.ID()
	if err := a.control.SendWakeWordDetected(ctx, id, a.cfg.Wakeword.Word); err != nil {
		slog.Warn("wake-word report failed", "error", err)
	}
	a.sess.BeginListening()
	if err := a.control.SendIoTStates(ctx, id, a.volume, false); err != nil {
		slog.Warn("iot state report failed", "error", err)
	}
}

// onAudio streams captured PCM while the session is listening.
func (a *App) onAudio(pcm []byte) {
	if a.sess.State() != session.StatusListening {
		return
	}
	link := a.currentLink()
	if link == nil {
		return
	}
	if err := link.Send(pcm); err != nil {
		slog.Debug("audio send failed", "error", err)
	}
}

// OnHello adopts the server-issued session and opens the audio link.
func (a *App) OnHello(ctx context.Context, msg *protocol.Hello) {
	if msg.UDP == nil {
		slog.Warn("hello reply without udp block dropped", "session_id", msg.SessionID)
		return
	}
	key, err := hex.DecodeString(msg.UDP.Key)
	if err != nil {
		slog.Warn("hello reply with bad key dropped", "error", err)
		return
	}
	nonce, err := hex.DecodeString(msg.UDP.Nonce)
	if err != nil {
		slog.Warn("hello reply with bad nonce dropped", "error", err)
		return
	}

	params := session.Params{
		ID:         msg.SessionID,
		Server:     msg.UDP.Server,
		Port:       msg.UDP.Port,
		Encryption: msg.UDP.Encryption,
		Key:        key,
		Nonce:      nonce,
	}
	if ap := msg.AudioParams; ap != nil {
		params.Audio = session.AudioParams{
			Format:        ap.Format,
			SampleRate:    ap.SampleRate,
			Channels:      ap.Channels,
			FrameDuration: ap.FrameDuration,
		}
	}
	a.sess.AdoptHello(params)

	link, err := audiolink.Open(params.Server, params.Port, audiolink.Config{
		Key:          key,
		Nonce:        nonce,
		Encoder:      a.enc,
		Decoder:      a.dec,
		State:        a.sess.State,
		Sink:         a.playback,
		NextSequence: a.sess.NextSequence,
	})
	if err != nil {
		a.fail(fmt.Errorf("app: open audio link: %w", err))
		return
	}

	if err := a.control.SendIoTDescriptors(ctx, msg.SessionID); err != nil {
		slog.Warn("iot descriptor report failed", "error", err)
	}

	// Publish the link last: a waiting wake handler resumes the moment
	// linkReady closes.
	a.mu.Lock()
	if a.link != nil {
		a.link.Close()
	}
	a.link = link
	if a.linkReady != nil {
		close(a.linkReady)
		a.linkReady = nil
	}
	a.mu.Unlock()
}

// OnGoodbye acknowledges the goodbye and re-arms the detector. Any carried
// session id is echoed outbound; the session itself tears down only when the
// id names the current session.
func (a *App) OnGoodbye(ctx context.Context, msg *protocol.Goodbye) {
	if msg.SessionID != "" {
		if err := a.control.SendGoodbye(ctx, msg.SessionID); err != nil {
			slog.Warn("goodbye echo failed", "error", err)
		}
	}
	if id := a.sess.ID(); id != "" && msg.SessionID == id {
		slog.Info("session ended by server", "session_id", id)
		a.closeLink()
		a.sess.Terminate()
	}
	if a.detector != nil {
		a.detector.Restart()
	}
}

// OnTTS drives the speaking side of the state machine.
func (a *App) OnTTS(ctx context.Context, msg *protocol.TTS) {
	switch msg.State {
	case protocol.TTSStart:
		a.sess.BeginSpeaking()

	case protocol.TTSStop:
		if !a.sess.StopSpeaking() {
			return
		}
		id := a.sess.ID()
		if err := a.control.SendStartAutoListening(ctx, id); err != nil {
			slog.Warn("auto-listen request failed", "error", err)
		}
		// Let the tail of the server's audio drain before the mic
		// reopens, so the device does not hear itself.
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.Audio.SettleDelay):
		}
		a.sess.BeginListening()

	case protocol.TTSSentenceStart:
		if msg.Text != "" {
			a.show("assistant: " + msg.Text)
		}
	}
}

// OnSTT shows the transcription of the user's speech.
func (a *App) OnSTT(ctx context.Context, msg *protocol.STT) {
	if msg.Text != "" {
		a.show("you: " + msg.Text)
	}
}

// shutdown says goodbye for an active session and releases the data plane.
func (a *App) shutdown() {
	if id := a.sess.ID(); id != "" && a.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.control.SendGoodbye(ctx, id); err != nil {
			slog.Warn("goodbye send failed", "error", err)
		}
		cancel()
	}
	a.closeLink()
	a.sess.Terminate()
}

func (a *App) playback(pcm []byte) {
	if a.speaker == nil {
		return
	}
	if _, err := a.speaker.Write(pcm); err != nil {
		slog.Debug("playback write failed", "error", err)
	}
}

func (a *App) currentLink() *audiolink.Link {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.link
}

func (a *App) closeLink() {
	a.mu.Lock()
	link := a.link
	a.link = nil
	a.linkReady = nil
	a.mu.Unlock()
	if link != nil {
		link.Close()
	}
}

func (a *App) fail(err error) {
	select {
	case a.fatal <- err:
	default:
	}
}

func (a *App) show(text string) {
	if a.display != nil {
		a.display.ShowText(text)
	}
}
