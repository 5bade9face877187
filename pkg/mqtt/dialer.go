package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
)

const defaultConnectRetryDelay = 3 * time.Second

// Dialer holds the options for establishing and maintaining a broker
// connection.
type Dialer struct {
	// KeepAlive period in seconds (defaults to 20).
	KeepAlive int

	// ConnectRetryDelay is the wait between connection attempts
	// (defaults to 3s).
	ConnectRetryDelay time.Duration

	// ConnectTimeout bounds one connection attempt.
	ConnectTimeout time.Duration

	// ID is the client identifier (defaults to a random string).
	ID string

	// ServeMux routes received publishes. Required for a connection
	// that subscribes.
	ServeMux *ServeMux

	// OnConnectError is called when a connection attempt fails,
	// including reconnect attempts.
	OnConnectError func(error)

	// OnConnectionUp is called on every established connection,
	// including reconnections.
	OnConnectionUp func()
}

func (dl *Dialer) keepAlive() uint16 {
	if dl.KeepAlive == 0 {
		return 20
	}
	return uint16(dl.KeepAlive)
}

func (dl *Dialer) connectRetryDelay() time.Duration {
	if dl.ConnectRetryDelay == 0 {
		return defaultConnectRetryDelay
	}
	return dl.ConnectRetryDelay
}

// DialOption is an option for dialing a broker connection.
type DialOption interface {
	apply(*autopaho.ClientConfig) error
}

type withUser struct {
	username string
	password string
}

// WithUser authenticates the connection with a username and password.
func WithUser(username, password string) DialOption {
	return &withUser{username, password}
}

func (w *withUser) apply(cfg *autopaho.ClientConfig) error {
	cfg.ConnectPacketBuilder = func(pc *paho.Connect, _ *url.URL) (*paho.Connect, error) {
		pc.UsernameFlag = true
		pc.Username = w.username
		pc.PasswordFlag = true
		pc.Password = []byte(w.password)
		return pc, nil
	}
	return nil
}

type withTLSConfig struct {
	cfg *tls.Config
}

// WithTLSConfig sets the TLS configuration for tls-scheme brokers.
func WithTLSConfig(c *tls.Config) DialOption {
	return &withTLSConfig{c}
}

func (w *withTLSConfig) apply(cfg *autopaho.ClientConfig) error {
	cfg.TlsCfg = w.cfg
	return nil
}

// Dial connects to the broker at addr and blocks until the first
// connection is up or ctx expires. The returned Conn then reconnects and
// resubscribes on its own for the process lifetime.
func (dl *Dialer) Dial(ctx context.Context, addr string, opts ...DialOption) (*Conn, error) {
	id := dl.ID
	if id == "" {
		var b [16]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, err
		}
		id = base64.RawURLEncoding.EncodeToString(b[:])
	}
	sm := dl.ServeMux
	if sm == nil {
		sm = NewServeMux()
	}
	addru, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("mqtt: parse address %q: %w", addr, err)
	}

	var connected atomic.Bool
	conn := &Conn{ServeMux: sm}

	cfg := autopaho.ClientConfig{
		ServerUrls:        []*url.URL{addru},
		AttemptConnection: dl.attemptConnection,
		OnConnectError: func(err error) {
			if dl.OnConnectError != nil {
				dl.OnConnectError(err)
			}
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			if dl.OnConnectionUp != nil {
				dl.OnConnectionUp()
			}
			// Re-establish subscriptions lost with the previous
			// connection; skipped for the initial connect, which has
			// nothing to restore.
			if connected.Load() {
				conn.resubscribe()
			}
		},
		CleanStartOnInitialConnection: true,
		KeepAlive:                     dl.keepAlive(),
		ConnectRetryDelay:             dl.connectRetryDelay(),
		ConnectTimeout:                dl.ConnectTimeout,
		ClientConfig: paho.ClientConfig{
			ClientID: id,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					if err := sm.HandleMessage(pr); err != nil {
						return false, err
					}
					return true, nil
				},
			},
		},
	}
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}

	cm, err := autopaho.NewConnection(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		return nil, err
	}
	conn.cm = cm
	connected.Store(true)
	return conn, nil
}

func (dl *Dialer) attemptConnection(ctx context.Context, cc autopaho.ClientConfig, u *url.URL) (net.Conn, error) {
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp", "":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		if err := conn.(*net.TCPConn).SetNoDelay(true); err != nil {
			return nil, err
		}
		return packets.NewThreadSafeConn(conn), nil
	case "ssl", "tls", "mqtts", "mqtt+ssl", "tcps":
		d := tls.Dialer{Config: cc.TlsCfg}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		if err := conn.(*tls.Conn).NetConn().(*net.TCPConn).SetNoDelay(true); err != nil {
			return nil, err
		}
		return packets.NewThreadSafeConn(conn), nil
	default:
		return nil, fmt.Errorf("mqtt: unsupported scheme %q in %s", u.Scheme, u)
	}
}

// Dial connects with a default dialer and a fresh mux.
func Dial(ctx context.Context, addr string, opts ...DialOption) (*Conn, error) {
	return (&Dialer{ServeMux: NewServeMux()}).Dial(ctx, addr, opts...)
}
