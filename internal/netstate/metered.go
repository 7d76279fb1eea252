package netstate

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"pkt.systems/pslog"
)

const (
	nmService  = "org.freedesktop.NetworkManager"
	nmPath     = "/org/freedesktop/NetworkManager"
	nmMetered  = nmService + ".Metered"
	meteredYes = 1
	guessYes   = 3
)

// Detector reports whether the active network connection is metered.
type Detector interface {
	Metered(ctx context.Context) (bool, error)
}

// NetworkManager reads the Metered property over the system bus.
type NetworkManager struct {
	// Connect returns the bus to query, dbus.SystemBus when nil.
	Connect func() (*dbus.Conn, error)
}

// Metered reports whether NetworkManager considers the connection metered.
func (n NetworkManager) Metered(ctx context.Context) (bool, error) {
	connect := n.Connect
	if connect == nil {
		connect = dbus.SystemBus
	}
	conn, err := connect()
	if err != nil {
		return false, fmt.Errorf("system bus: %w", err)
	}
	call := conn.Object(nmService, nmPath).CallWithContext(ctx,
		"org.freedesktop.DBus.Properties.Get", 0, nmService, "Metered")
	if call.Err != nil {
		return false, fmt.Errorf("%s: %w", nmMetered, call.Err)
	}
	var variant dbus.Variant
	if err := call.Store(&variant); err != nil {
		return false, fmt.Errorf("%s: %w", nmMetered, err)
	}
	value, ok := variant.Value().(uint32)
	if !ok {
		return false, fmt.Errorf("%s: unexpected type %s", nmMetered, variant.Signature())
	}
	return value == meteredYes || value == guessYes, nil
}

// Static is a fixed answer, used when detection is disabled.
type Static bool

// Metered returns the fixed answer.
func (s Static) Metered(context.Context) (bool, error) {
	return bool(s), nil
}

// UseSymbolResolution decides whether an attempt should request the
// symbol-resolving debugger command. Detection failures count as
// unmetered.
func UseSymbolResolution(ctx context.Context, supported, preferred bool, detector Detector) bool {
	if !supported || !preferred {
		return false
	}
	if detector == nil {
		return true
	}
	metered, err := detector.Metered(ctx)
	if err != nil {
		if log := pslog.Ctx(ctx); log != nil {
			log.Debug("metered detection failed", "err", err)
		}
		return true
	}
	return !metered
}
