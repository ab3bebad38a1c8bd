package govee

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"

	"github.com/Drewsername/localweb/internal/utils"
)

const (
	multicastAddr = "239.255.255.250"
	scanPort      = 4001
	listenPort    = 4002
	controlPort   = 4003

	scanTimeout   = 3 * time.Second
	statusTimeout = time.Second
	cacheTTL      = 5 * time.Minute
)

// ErrTransport marks discovery socket failures; callers can keep running in
// pattern-only mode against already-known lamps.
var ErrTransport = eris.New("lan transport unavailable")

// Device is one lamp discovered on the LAN.
type Device struct {
	ID  string
	IP  string
	SKU string
}

// Color is an RGB triple as reported by a status reply.
type Color struct {
	R, G, B uint8
}

// DeviceStatus mirrors a devStatus reply. Nil fields were absent from the
// reply (some firmware omits them).
type DeviceStatus struct {
	OnOff           *int
	Brightness      *int
	Color           *Color
	ColorTempKelvin *int
}

// LAN controls Govee lamps over the local network via UDP. Control methods
// are fire-and-forget single datagrams; only Discover and Status wait for
// replies. The device cache is guarded by mu; scanMu serializes scans so
// concurrent callers share one network sweep.
type LAN struct {
	logger *slog.Logger

	groupAddr     string
	scanPort      int
	listenPort    int
	controlPort   int
	scanTimeout   time.Duration
	statusTimeout time.Duration
	cacheTTL      time.Duration

	scanMu sync.Mutex

	mu       sync.Mutex
	cache    map[string]Device
	lastScan time.Time
}

// NewLAN returns a client with the standard Govee LAN protocol ports.
func NewLAN(logger *slog.Logger) *LAN {
	if logger == nil {
		logger = slog.Default()
	}

	return &LAN{
		logger:        logger,
		groupAddr:     multicastAddr,
		scanPort:      scanPort,
		listenPort:    listenPort,
		controlPort:   controlPort,
		scanTimeout:   scanTimeout,
		statusTimeout: statusTimeout,
		cacheTTL:      cacheTTL,
	}
}

// Discover returns the known lamps, scanning the LAN when the cache is
// stale, empty, or force is set. The cache is replaced wholesale by every
// scan; an empty reply set is not an error.
func (l *LAN) Discover(force bool) ([]Device, error) {
	if !force {
		if devices, ok := l.cached(); ok {
			return devices, nil
		}
	}

	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	// A scan may have completed while this caller waited for the lock.
	if !force {
		if devices, ok := l.cached(); ok {
			return devices, nil
		}
	}

	devices, err := l.scan()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache = make(map[string]Device, len(devices))
	for _, d := range devices {
		l.cache[d.ID] = d
	}
	l.lastScan = time.Now()
	l.mu.Unlock()

	return devices, nil
}

// DeviceIP resolves a device ID to its LAN IP, scanning once on a cache
// miss. It never blocks longer than the discovery deadline.
func (l *LAN) DeviceIP(id string) (string, bool) {
	l.mu.Lock()
	d, ok := l.cache[id]
	fresh := !l.lastScan.IsZero() && time.Since(l.lastScan) < l.cacheTTL
	l.mu.Unlock()

	if ok && fresh {
		return d.IP, true
	}

	if _, err := l.Discover(false); err != nil {
		l.logger.Warn("device resolution scan failed",
			slog.String("device", id),
			slog.Any("error", err),
		)
		return "", false
	}

	l.mu.Lock()
	d, ok = l.cache[id]
	l.mu.Unlock()
	if !ok {
		return "", false
	}

	return d.IP, true
}

func (l *LAN) cached() ([]Device, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.cache) == 0 || time.Since(l.lastScan) >= l.cacheTTL {
		return nil, false
	}

	devices := make([]Device, 0, len(l.cache))
	for _, d := range l.cache {
		devices = append(devices, d)
	}
	return devices, true
}

func (l *LAN) scan() ([]Device, error) {
	conn, err := l.listenScan()
	if err != nil {
		return nil, eris.Wrapf(ErrTransport, "failed to bind discovery listener: %v", err)
	}
	defer conn.Close()

	if err := l.sendScan(); err != nil {
		return nil, eris.Wrapf(ErrTransport, "failed to send discovery multicast: %v", err)
	}

	seen := make(map[string]struct{})
	devices := make([]Device, 0, 4)
	deadline := time.Now().Add(l.scanTimeout)
	buf := make([]byte, 4096)

	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			break
		}

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}

		device, ok := parseScanReply(buf[:n])
		if !ok {
			continue
		}
		if _, dup := seen[device.ID]; dup {
			continue
		}
		seen[device.ID] = struct{}{}
		devices = append(devices, device)

		l.logger.Debug("discovered lamp",
			slog.String("device", device.ID),
			slog.String("ip", device.IP),
			slog.String("sku", device.SKU),
		)
	}

	l.logger.Info("lan scan complete", slog.Int("devices", len(devices)))

	return devices, nil
}

// listenScan binds the reply port with address reuse and joins the
// multicast group, matching what the lamps expect from a scan initiator.
func (l *LAN) listenScan() (net.PacketConn, error) {
	group := [4]byte{}
	if ip := net.ParseIP(l.groupAddr); ip != nil {
		copy(group[:], ip.To4())
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				mreq := &unix.IPMreq{Multiaddr: group}
				if err := unix.SetsockoptIPMreq(int(fd), unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
					l.logger.Debug("multicast membership not joined", slog.Any("error", err))
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	return lc.ListenPacket(context.Background(), "udp4", ":"+strconv.Itoa(l.listenPort))
}

func (l *LAN) sendScan() error {
	payload, err := scanMessage().encode()
	if err != nil {
		return err
	}

	conn, err := net.Dial("udp4", net.JoinHostPort(l.groupAddr, strconv.Itoa(l.scanPort)))
	if err != nil {
		return err
	}
	defer conn.Close()

	if udp, ok := conn.(*net.UDPConn); ok {
		if rc, err := udp.SyscallConn(); err == nil {
			rc.Control(func(fd uintptr) {
				// Multicast stays on the local segment.
				unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, 1)
			})
		}
	}

	_, err = conn.Write(payload)
	return err
}

// Turn switches a lamp on or off.
func (l *LAN) Turn(ip string, on bool) error {
	return l.send(ip, turnMessage(on))
}

// SetBrightness sets lamp brightness, clamped to 1..100.
func (l *LAN) SetBrightness(ip string, value int) error {
	return l.send(ip, brightnessMessage(utils.Clamp(value, 1, 100)))
}

// SetColor sets the lamp RGB color.
func (l *LAN) SetColor(ip string, r, g, b uint8) error {
	return l.send(ip, colorMessage(r, g, b))
}

// SetColorTemp sets the white color temperature, clamped to 2000..9000 K.
func (l *LAN) SetColorTemp(ip string, kelvin int) error {
	return l.send(ip, colorTempMessage(utils.Clamp(kelvin, 2000, 9000)))
}

// send emits a single control datagram. Sends are fire-and-forget: the error
// is returned for logging only and no state changes on failure.
func (l *LAN) send(ip string, msg message) error {
	payload, err := msg.encode()
	if err != nil {
		return err
	}

	conn, err := net.Dial("udp4", net.JoinHostPort(ip, strconv.Itoa(l.controlPort)))
	if err != nil {
		return eris.Wrapf(err, "failed to open control socket for %s", ip)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return eris.Wrapf(err, "failed to send %s command to %s", msg.Msg.Cmd, ip)
	}

	return nil
}

// Status queries a lamp and waits up to one second for its reply. A timeout
// returns (nil, nil): the lamp is simply unreachable right now.
func (l *LAN) Status(ip string) (*DeviceStatus, error) {
	payload, err := statusMessage().encode()
	if err != nil {
		return nil, err
	}

	conn, err := net.Dial("udp4", net.JoinHostPort(ip, strconv.Itoa(l.controlPort)))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open status socket for %s", ip)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(l.statusTimeout)); err != nil {
		return nil, eris.Wrap(err, "failed to set status deadline")
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, eris.Wrapf(err, "failed to send status query to %s", ip)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			l.logger.Debug("status query timed out", slog.String("ip", ip))
			return nil, nil
		}
		return nil, eris.Wrapf(err, "failed to read status reply from %s", ip)
	}

	status, err := parseStatusReply(buf[:n])
	if err != nil {
		l.logger.Warn("unparseable status reply", slog.String("ip", ip), slog.Any("error", err))
		return nil, nil
	}

	return status, nil
}
