// Package portal speaks the org.freedesktop.portal.ScreenCast handshake
// over the D-Bus session bus and produces the media-server file descriptor
// and stream node id the capture pipeline attaches to.
package portal

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/meshcast/meshcast/internal/logger"
	"github.com/rs/zerolog"
)

const (
	portalService     = "org.freedesktop.portal.Desktop"
	portalPath        = "/org/freedesktop/portal/desktop"
	screenCastIface   = "org.freedesktop.portal.ScreenCast"
	requestIface      = "org.freedesktop.portal.Request"
	sessionIface      = "org.freedesktop.portal.Session"
	requestPathPrefix = "/org/freedesktop/portal/desktop/request/"
	sessionPathPrefix = "/org/freedesktop/portal/desktop/session/"
)

// Response statuses carried by the Request.Response signal.
const (
	responseOK              = 0
	responseCancelledByUser = 1
	responseOtherError      = 2
)

// Source types reported in a stream's properties.
const (
	SourceTypeMonitor = 1
	SourceTypeWindow  = 2
)

// SelectSources option values.
const (
	sourceTypesScreenOrWindow = 3 // monitor | window
	cursorModeEmbedded        = 2
	persistModeUntilRevoked   = 2
)

var (
	// ErrDenied is returned when the user cancels the source picker.
	ErrDenied = errors.New("screen capture denied by user")
	// ErrFailed covers every other non-OK portal response.
	ErrFailed = errors.New("portal request failed")
)

// BusError is a low-level IPC failure (connection lost, call error).
type BusError struct {
	Msg string
	Err error
}

func (e *BusError) Error() string {
	if e.Err != nil {
		return "bus: " + e.Msg + ": " + e.Err.Error()
	}
	return "bus: " + e.Msg
}

func (e *BusError) Unwrap() error { return e.Err }

// Options configure the handshake.
type Options struct {
	// ShowCursor asks the compositor to embed the pointer into frames.
	ShowCursor bool
	// RestoreFile names a file holding the opaque restore token. When set,
	// the token is offered on SelectSources and rewritten after Start.
	RestoreFile string
}

// Stream is the outcome of a successful handshake.
type Stream struct {
	FD         int
	NodeID     uint32
	SourceType uint32
}

// FullScreen reports whether the user picked a whole monitor, in which
// case window cropping is meaningless.
func (s *Stream) FullScreen() bool {
	return s.SourceType == SourceTypeMonitor
}

// Client owns the bus connection and the portal session. All methods run
// on the caller's goroutine; godbus dispatches signals internally.
type Client struct {
	conn         *dbus.Conn
	obj          dbus.BusObject
	sender       string
	sessionToken string
	sessionPath  dbus.ObjectPath
	opts         Options
	closedStop   func()
	log          zerolog.Logger

	// timeout for a single request round trip; the picker dialog is
	// interactive, so this is generous
	requestTimeout time.Duration
}

// Connect opens the session bus and allocates the session identity. No
// portal call is made yet.
func Connect(opts Options) (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, &BusError{Msg: "connect session bus", Err: err}
	}

	c := &Client{
		conn:           conn,
		obj:            conn.Object(portalService, portalPath),
		sender:         senderName(conn),
		opts:           opts,
		log:            *logger.WithComponent("portal"),
		requestTimeout: 5 * time.Minute,
	}
	c.sessionToken, c.sessionPath = nextSessionPath(c.sender)
	c.log.Debug().Str("session", string(c.sessionPath)).Msg("allocated session path")
	return c, nil
}

func nextSessionPath(sender string) (string, dbus.ObjectPath) {
	token, path := DefaultTokens.NextSession(sender)
	return token, dbus.ObjectPath(path)
}

// senderName derives the portal path component from the bus unique name:
// strip the leading colon and turn dots into underscores.
func senderName(conn *dbus.Conn) string {
	names := conn.Names()
	if len(names) == 0 {
		return ""
	}
	return strings.ReplaceAll(strings.TrimPrefix(names[0], ":"), ".", "_")
}

// OnClosed registers a handler for the compositor closing the session. The
// handler runs on a watcher goroutine.
func (c *Client) OnClosed(fn func()) error {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(sessionIface),
		dbus.WithMatchMember("Closed"),
		dbus.WithMatchObjectPath(c.sessionPath),
	}
	if err := c.conn.AddMatchSignal(match...); err != nil {
		return &BusError{Msg: "subscribe session Closed", Err: err}
	}
	sig := make(chan *dbus.Signal, 4)
	c.conn.Signal(sig)
	stop := make(chan struct{})
	c.closedStop = func() {
		c.conn.RemoveSignal(sig)
		_ = c.conn.RemoveMatchSignal(match...)
		close(stop)
	}
	go func() {
		for {
			select {
			case s, ok := <-sig:
				if !ok {
					return
				}
				if s == nil || s.Path != c.sessionPath || s.Name != sessionIface+".Closed" {
					continue
				}
				c.log.Info().Msg("session closed by compositor")
				fn()
				return
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// Open runs the CreateSession -> SelectSources -> Start ->
// OpenPipeWireRemote chain and returns the stream descriptor. Crop
// feasibility is reported through Stream.FullScreen.
func (c *Client) Open() (*Stream, error) {
	if err := c.createSession(); err != nil {
		return nil, err
	}
	if err := c.selectSources(); err != nil {
		return nil, err
	}
	st, err := c.start()
	if err != nil {
		return nil, err
	}
	fd, err := c.openPipeWireRemote()
	if err != nil {
		return nil, err
	}
	st.FD = fd
	c.log.Info().Uint32("node_id", st.NodeID).Int("fd", st.FD).Msg("screen cast stream ready")
	return st, nil
}

func (c *Client) createSession() error {
	options := map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(c.sessionToken),
	}
	status, results, err := c.callWithRequest("CreateSession", nil, options)
	if err != nil {
		return err
	}
	if err := responseError(status, "CreateSession"); err != nil {
		return err
	}
	handle, ok := results["session_handle"]
	if !ok {
		return fmt.Errorf("CreateSession: no session_handle in results: %w", ErrFailed)
	}
	if got := objectPathValue(handle); got != c.sessionPath {
		return fmt.Errorf("CreateSession: session handle %q does not match constructed path %q: %w",
			got, c.sessionPath, ErrFailed)
	}
	c.log.Debug().Str("session", string(c.sessionPath)).Msg("session created")
	return nil
}

func (c *Client) selectSources() error {
	options := map[string]dbus.Variant{
		"types":    dbus.MakeVariant(uint32(sourceTypesScreenOrWindow)),
		"multiple": dbus.MakeVariant(false),
	}
	if c.opts.ShowCursor {
		options["cursor_mode"] = dbus.MakeVariant(uint32(cursorModeEmbedded))
	}
	if c.opts.RestoreFile != "" {
		options["persist_mode"] = dbus.MakeVariant(uint32(persistModeUntilRevoked))
		if token := readRestoreToken(c.opts.RestoreFile); token != "" {
			options["restore_token"] = dbus.MakeVariant(token)
			c.log.Debug().Msg("offering saved restore token")
		}
	}
	status, _, err := c.callWithRequest("SelectSources", []interface{}{c.sessionPath}, options)
	if err != nil {
		return err
	}
	if err := responseError(status, "SelectSources"); err != nil {
		return err
	}
	c.log.Debug().Msg("sources selected")
	return nil
}

func (c *Client) start() (*Stream, error) {
	status, results, err := c.callWithRequest("Start", []interface{}{c.sessionPath, ""}, map[string]dbus.Variant{})
	if err != nil {
		return nil, err
	}
	if err := responseError(status, "Start"); err != nil {
		return nil, err
	}

	if tok, ok := results["restore_token"]; ok {
		if s, ok := tok.Value().(string); ok {
			if c.opts.RestoreFile == "" {
				c.log.Warn().Msg("got unexpected restore_token, ignoring it")
			} else if err := writeRestoreToken(c.opts.RestoreFile, s); err != nil {
				c.log.Warn().Err(err).Msg("cannot save restore token")
			}
		}
	}

	streams, ok := results["streams"]
	if !ok {
		return nil, fmt.Errorf("Start: no streams in results: %w", ErrFailed)
	}
	node, props, err := parseStreams(streams.Value())
	if err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}
	st := &Stream{NodeID: node}
	if v, ok := props["source_type"]; ok {
		if u, ok := v.Value().(uint32); ok {
			st.SourceType = u
		}
	}
	return st, nil
}

func (c *Client) openPipeWireRemote() (int, error) {
	var fd dbus.UnixFD
	call := c.obj.Call(screenCastIface+".OpenPipeWireRemote", 0,
		c.sessionPath, map[string]dbus.Variant{})
	if call.Err != nil {
		return -1, &BusError{Msg: "OpenPipeWireRemote", Err: call.Err}
	}
	if err := call.Store(&fd); err != nil {
		return -1, &BusError{Msg: "OpenPipeWireRemote: decode fd", Err: err}
	}
	return int(fd), nil
}

// callWithRequest performs one portal method call and waits for the
// Response signal on the request path. The subscription is one-shot: after
// delivery the request path is closed and the match removed.
func (c *Client) callWithRequest(method string, args []interface{}, options map[string]dbus.Variant) (uint32, map[string]dbus.Variant, error) {
	token, path := DefaultTokens.NextRequest(c.sender)
	reqPath := dbus.ObjectPath(path)
	options["handle_token"] = dbus.MakeVariant(token)
	c.log.Debug().Str("method", method).Str("request", path).Msg("portal call")

	// subscribe before dispatching so the response cannot race us
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
		dbus.WithMatchObjectPath(reqPath),
	}
	if err := c.conn.AddMatchSignal(match...); err != nil {
		return 0, nil, &BusError{Msg: method + ": add match", Err: err}
	}
	defer func() { _ = c.conn.RemoveMatchSignal(match...) }()

	sig := make(chan *dbus.Signal, 8)
	c.conn.Signal(sig)
	defer c.conn.RemoveSignal(sig)

	callArgs := append(append([]interface{}{}, args...), options)
	var returnedPath dbus.ObjectPath
	if err := c.obj.Call(screenCastIface+"."+method, 0, callArgs...).Store(&returnedPath); err != nil {
		return 0, nil, &BusError{Msg: method, Err: err}
	}
	if returnedPath != reqPath {
		// old portal versions return a different path; follow it
		c.log.Debug().Str("returned", string(returnedPath)).Msg("portal returned divergent request path")
		_ = c.conn.RemoveMatchSignal(match...)
		reqPath = returnedPath
		match = []dbus.MatchOption{
			dbus.WithMatchInterface(requestIface),
			dbus.WithMatchMember("Response"),
			dbus.WithMatchObjectPath(reqPath),
		}
		if err := c.conn.AddMatchSignal(match...); err != nil {
			return 0, nil, &BusError{Msg: method + ": re-add match", Err: err}
		}
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()
	for {
		select {
		case s, ok := <-sig:
			if !ok {
				return 0, nil, &BusError{Msg: method + ": bus connection lost"}
			}
			if s.Path != reqPath || s.Name != requestIface+".Response" {
				continue
			}
			// one-shot: tell the portal we are done with the request
			c.conn.Object(portalService, reqPath).Call(requestIface+".Close", dbus.FlagNoReplyExpected)
			status, results, err := decodeResponse(s.Body)
			if err != nil {
				return 0, nil, &BusError{Msg: method + ": malformed Response", Err: err}
			}
			return status, results, nil
		case <-timer.C:
			return 0, nil, fmt.Errorf("%s: timed out waiting for response: %w", method, ErrFailed)
		}
	}
}

// Close ends the portal session, detaches the closed watcher, and drops
// the bus connection. Idempotent on a nil receiver.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	if c.closedStop != nil {
		c.closedStop()
		c.closedStop = nil
	}
	c.conn.Object(portalService, c.sessionPath).Call(sessionIface+".Close", dbus.FlagNoReplyExpected)
	_ = c.conn.Close()
	c.conn = nil
	c.log.Debug().Msg("portal connection closed")
}

func decodeResponse(body []interface{}) (uint32, map[string]dbus.Variant, error) {
	if len(body) < 2 {
		return 0, nil, fmt.Errorf("response body has %d fields, want 2", len(body))
	}
	status, ok := body[0].(uint32)
	if !ok {
		return 0, nil, fmt.Errorf("response status has type %T", body[0])
	}
	results, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return 0, nil, fmt.Errorf("response results have type %T", body[1])
	}
	return status, results, nil
}

func responseError(status uint32, method string) error {
	switch status {
	case responseOK:
		return nil
	case responseCancelledByUser:
		return fmt.Errorf("%s: %w", method, ErrDenied)
	default:
		return fmt.Errorf("%s: status %d: %w", method, status, ErrFailed)
	}
}

func objectPathValue(v dbus.Variant) dbus.ObjectPath {
	switch p := v.Value().(type) {
	case dbus.ObjectPath:
		return p
	case string:
		return dbus.ObjectPath(p)
	}
	return ""
}

// parseStreams digs the single (node_id, properties) element out of the
// portal's streams array. The wire type is a(ua{sv}) but godbus surfaces
// it in more than one Go shape.
func parseStreams(v interface{}) (uint32, map[string]dbus.Variant, error) {
	first := func(item interface{}) (uint32, map[string]dbus.Variant, bool) {
		pair, ok := item.([]interface{})
		if !ok || len(pair) < 2 {
			return 0, nil, false
		}
		node, ok := pair[0].(uint32)
		if !ok {
			return 0, nil, false
		}
		props, _ := pair[1].(map[string]dbus.Variant)
		return node, props, true
	}

	switch arr := v.(type) {
	case [][]interface{}:
		if len(arr) != 1 {
			return 0, nil, fmt.Errorf("streams array has %d entries, want 1", len(arr))
		}
		if node, props, ok := first(arr[0]); ok {
			return node, props, nil
		}
	case []interface{}:
		if len(arr) != 1 {
			return 0, nil, fmt.Errorf("streams array has %d entries, want 1", len(arr))
		}
		if node, props, ok := first(arr[0]); ok {
			return node, props, nil
		}
	}
	return 0, nil, fmt.Errorf("unexpected streams shape %T", v)
}

// readRestoreToken returns the persisted token, or "" if the file is
// missing or unreadable.
func readRestoreToken(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// writeRestoreToken persists the opaque token as plain text.
func writeRestoreToken(path, token string) error {
	return os.WriteFile(path, []byte(token), 0o600)
}
