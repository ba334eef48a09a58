package display

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"ambilight/internal/frame"
	"ambilight/internal/logging"
)

const (
	portalDest      = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"

	portalTimeout = 120 * time.Second // user may need time to pick a screen
)

// pipeWireSource streams a portal-selected monitor through GStreamer.
// The portal lets the user pick the monitor, so the stream is scaled to the
// requested region size rather than cropped by offset.
type pipeWireSource struct {
	*rawStream
	cancel context.CancelFunc
	cmd    *exec.Cmd
	dbConn *dbus.Conn // kept alive to hold the ScreenCast session
	pwFile *os.File   // PipeWire remote fd from the portal

	closeOnce sync.Once
	closeErr  error
}

func newPipeWireSource(r Region) (*pipeWireSource, error) {
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		return nil, fmt.Errorf("not a Wayland session")
	}
	if !hasExecutable("gst-launch-1.0") {
		return nil, fmt.Errorf("gst-launch-1.0 not found")
	}

	warnPortalSelection(logging.L("display"), r)
	dbConn, nodeID, pwFile, err := acquirePipeWireNode()
	if err != nil {
		return nil, fmt.Errorf("pipewire portal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// ExtraFiles[0] becomes fd 3 in the child.
	cmd := exec.CommandContext(ctx, "gst-launch-1.0", "-q",
		"pipewiresrc", fmt.Sprintf("path=%d", nodeID), "fd=3",
		"!", "videoconvert",
		"!", "videoscale",
		"!", fmt.Sprintf("video/x-raw,format=BGRx,width=%d,height=%d", r.Width, r.Height),
		"!", "fdsink", "fd=1",
	)
	cmd.ExtraFiles = []*os.File{pwFile}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		pwFile.Close()
		dbConn.Close()
		return nil, fmt.Errorf("gstreamer stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		pwFile.Close()
		dbConn.Close()
		return nil, fmt.Errorf("starting gstreamer: %w", err)
	}

	s := &pipeWireSource{
		rawStream: newRawStream(r, frame.BGRA32),
		cancel:    cancel,
		cmd:       cmd,
		dbConn:    dbConn,
		pwFile:    pwFile,
	}

	go s.readFrames(stdout)

	if !s.waitFirst() {
		_ = s.Close()
		return nil, fmt.Errorf("gstreamer: timed out waiting for first frame")
	}

	return s, nil
}

// warnPortalSelection tells the user that the portal, not the configured
// index, decides which monitor is captured.
func warnPortalSelection(log *slog.Logger, r Region) {
	log.Warn("screen cast portal selects the captured monitor; source monitor index is ignored",
		"source_monitor", r.Index, "width", r.Width, "height", r.Height)
}

func (s *pipeWireSource) Name() string { return "pipewire" }

func (s *pipeWireSource) Capture() (*frame.Frame, error) { return s.latest() }

func (s *pipeWireSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.closeErr = s.cmd.Wait()
		s.pwFile.Close()
		s.dbConn.Close()
	})
	return s.closeErr
}

// acquirePipeWireNode negotiates a ScreenCast session via the XDG Desktop Portal
// and returns the D-Bus connection (must stay open), the PipeWire node ID,
// and a PipeWire remote file descriptor for GStreamer.
func acquirePipeWireNode() (*dbus.Conn, uint32, *os.File, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	if !conn.SupportsUnixFDs() {
		conn.Close()
		return nil, 0, nil, fmt.Errorf("D-Bus connection does not support Unix FD passing")
	}

	portal := conn.Object(portalDest, dbus.ObjectPath(portalPath))
	sender := senderToToken(conn.Names()[0])

	resp, err := portalRequest(conn, portal, sender, "ambilight_req_create", "CreateSession",
		map[string]dbus.Variant{
			"session_handle_token": dbus.MakeVariant("ambilight_session"),
		})
	if err != nil {
		conn.Close()
		return nil, 0, nil, err
	}

	sessionHandle, ok := resp["session_handle"]
	if !ok {
		conn.Close()
		return nil, 0, nil, fmt.Errorf("CreateSession: no session_handle in response")
	}
	sessionPath := dbus.ObjectPath(sessionHandle.Value().(string))

	_, err = portalRequest(conn, portal, sender, "ambilight_req_select", "SelectSources",
		map[string]dbus.Variant{
			"types":    dbus.MakeVariant(uint32(1)), // 1 = monitor
			"multiple": dbus.MakeVariant(false),
		}, sessionPath)
	if err != nil {
		conn.Close()
		return nil, 0, nil, err
	}

	startResp, err := portalRequest(conn, portal, sender, "ambilight_req_start", "Start",
		map[string]dbus.Variant{}, sessionPath, "")
	if err != nil {
		conn.Close()
		return nil, 0, nil, err
	}

	nodeID, err := extractNodeID(startResp)
	if err != nil {
		conn.Close()
		return nil, 0, nil, err
	}

	// pipewiresrc needs this fd to connect to the portal's capture.
	var pwFd dbus.UnixFD
	err = portal.Call(screenCastIface+".OpenPipeWireRemote", 0, sessionPath, map[string]dbus.Variant{}).Store(&pwFd)
	if err != nil {
		conn.Close()
		return nil, 0, nil, fmt.Errorf("OpenPipeWireRemote: %w", err)
	}

	pwFile := os.NewFile(uintptr(pwFd), "pipewire-remote")
	if pwFile == nil {
		conn.Close()
		return nil, 0, nil, fmt.Errorf("invalid PipeWire fd")
	}

	return conn, nodeID, pwFile, nil
}

// portalRequest calls a ScreenCast method and waits for its Response signal.
// args precede the options map in the method signature.
func portalRequest(conn *dbus.Conn, portal dbus.BusObject, sender, token, method string, opts map[string]dbus.Variant, args ...interface{}) (map[string]dbus.Variant, error) {
	reqPath := dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/portal/desktop/request/%s/%s", sender, token))

	sigCh := subscribeSignal(conn, reqPath)
	defer conn.RemoveSignal(sigCh)

	opts["handle_token"] = dbus.MakeVariant(token)
	call := portal.Call(screenCastIface+"."+method, 0, append(args, opts)...)
	if call.Err != nil {
		return nil, fmt.Errorf("%s: %w", method, call.Err)
	}

	resp, err := waitForResponse(sigCh, portalTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", method, err)
	}
	return resp, nil
}

// subscribeSignal registers a D-Bus signal match for the portal Response signal
// at the given path and returns a channel that receives matching signals.
func subscribeSignal(conn *dbus.Conn, path dbus.ObjectPath) chan *dbus.Signal {
	ch := make(chan *dbus.Signal, 1)
	conn.Signal(ch)
	conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0,
		fmt.Sprintf("type='signal',interface='%s',member='Response',path='%s'", requestIface, path))
	return ch
}

// waitForResponse waits for a portal Response signal and returns the results map.
// A non-zero response code indicates the user denied or the request failed.
func waitForResponse(ch chan *dbus.Signal, timeout time.Duration) (map[string]dbus.Variant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case sig := <-ch:
			if sig == nil {
				return nil, fmt.Errorf("signal channel closed")
			}
			if len(sig.Body) < 2 {
				continue
			}
			code, ok := sig.Body[0].(uint32)
			if !ok {
				continue
			}
			if code != 0 {
				return nil, fmt.Errorf("portal request denied (code %d)", code)
			}
			results, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				return nil, fmt.Errorf("unexpected response type")
			}
			return results, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for portal response")
		}
	}
}

// senderToToken converts a D-Bus sender name like ":1.42" to "1_42" for use
// in request object paths.
func senderToToken(sender string) string {
	s := strings.TrimPrefix(sender, ":")
	return strings.ReplaceAll(s, ".", "_")
}

// extractNodeID pulls the PipeWire node ID from the Start response.
// The streams field is typed as a(ua{sv}).
func extractNodeID(resp map[string]dbus.Variant) (uint32, error) {
	streamsVariant, ok := resp["streams"]
	if !ok {
		return 0, fmt.Errorf("no streams in Start response")
	}

	var first []interface{}
	switch streams := streamsVariant.Value().(type) {
	case [][]interface{}:
		if len(streams) == 0 {
			return 0, fmt.Errorf("no streams returned")
		}
		first = streams[0]
	case []interface{}:
		if len(streams) == 0 {
			return 0, fmt.Errorf("no streams returned")
		}
		inner, ok := streams[0].([]interface{})
		if !ok {
			return 0, fmt.Errorf("unexpected stream entry type: %T", streams[0])
		}
		first = inner
	default:
		return 0, fmt.Errorf("unexpected streams type: %T", streamsVariant.Value())
	}

	if len(first) == 0 {
		return 0, fmt.Errorf("empty stream entry")
	}
	nodeID, ok := first[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected node ID type: %T", first[0])
	}
	return nodeID, nil
}
