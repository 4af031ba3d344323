package wifi

import (
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	agentPath     = "/nl/papertrail/netd/agent"
	agentIface    = "net.connman.iwd.Agent"
	agentMgrIface = "net.connman.iwd.AgentManager"

	credentialTTL = 30 * time.Second
)

type pendingCredential struct {
	passphrase string
	created    time.Time
}

// Agent implements net.connman.iwd.Agent. iwd calls RequestPassphrase when a
// PSK/SAE network needs credentials; the client stages them here right before
// triggering Network.Connect.
type Agent struct {
	conn *dbus.Conn
	log  *zap.Logger

	mu      sync.Mutex
	pending map[dbus.ObjectPath]pendingCredential
}

// NewAgent creates an unregistered agent bound to the given bus connection.
func NewAgent(conn *dbus.Conn, log *zap.Logger) *Agent {
	return &Agent{
		conn:    conn,
		log:     log.Named("agent"),
		pending: make(map[dbus.ObjectPath]pendingCredential),
	}
}

// SetPending stages a passphrase for the given network object path.
func (a *Agent) SetPending(network dbus.ObjectPath, passphrase string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[network] = pendingCredential{passphrase: passphrase, created: time.Now()}
}

// ClearPending drops a staged passphrase.
func (a *Agent) ClearPending(network dbus.ObjectPath) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, network)
}

// RequestPassphrase is called by iwd when it needs a passphrase.
func (a *Agent) RequestPassphrase(network dbus.ObjectPath) (string, *dbus.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cred, ok := a.pending[network]
	if !ok {
		a.log.Debug("no staged credential", zap.String("network", string(network)))
		return "", dbus.NewError(agentIface+".Error.Canceled",
			[]interface{}{"no credential available"})
	}
	if time.Since(cred.created) > credentialTTL {
		delete(a.pending, network)
		return "", dbus.NewError(agentIface+".Error.Canceled",
			[]interface{}{"credential expired"})
	}

	// Single use: if iwd asks again the passphrase was rejected.
	delete(a.pending, network)
	return cred.passphrase, nil
}

// RequestPrivateKeyPassphrase is called for 802.1x networks. Not supported.
func (a *Agent) RequestPrivateKeyPassphrase(network dbus.ObjectPath) (string, *dbus.Error) {
	return "", dbus.NewError(agentIface+".Error.Canceled",
		[]interface{}{"private key passphrase not supported"})
}

// RequestUserNameAndPassword is called for 802.1x EAP networks. Not supported.
func (a *Agent) RequestUserNameAndPassword(network dbus.ObjectPath) (string, string, *dbus.Error) {
	return "", "", dbus.NewError(agentIface+".Error.Canceled",
		[]interface{}{"EAP authentication not supported"})
}

// RequestUserPassword is called for some EAP networks. Not supported.
func (a *Agent) RequestUserPassword(network dbus.ObjectPath, user string) (string, *dbus.Error) {
	return "", dbus.NewError(agentIface+".Error.Canceled",
		[]interface{}{"user password authentication not supported"})
}

// Cancel is called by iwd when a credential request is cancelled.
// Reasons: "out-of-range", "user-canceled", "timed-out", "shutdown".
func (a *Agent) Cancel(reason string) *dbus.Error {
	a.log.Debug("credential request cancelled", zap.String("reason", reason))
	a.mu.Lock()
	a.pending = make(map[dbus.ObjectPath]pendingCredential)
	a.mu.Unlock()
	return nil
}

// Release is called by iwd when the agent is unregistered.
func (a *Agent) Release() *dbus.Error {
	a.mu.Lock()
	a.pending = make(map[dbus.ObjectPath]pendingCredential)
	a.mu.Unlock()
	return nil
}

// Register exports the agent object and registers it with iwd's
// AgentManager.
func (a *Agent) Register() error {
	if err := a.conn.Export(a, dbus.ObjectPath(agentPath), agentIface); err != nil {
		return err
	}
	obj := a.conn.Object(iwdService, "/net/connman/iwd")
	if call := obj.Call(agentMgrIface+".RegisterAgent", 0, dbus.ObjectPath(agentPath)); call.Err != nil {
		return call.Err
	}
	a.log.Debug("agent registered")
	return nil
}

// Unregister removes the agent from iwd's AgentManager.
func (a *Agent) Unregister() error {
	obj := a.conn.Object(iwdService, "/net/connman/iwd")
	return obj.Call(agentMgrIface+".UnregisterAgent", 0, dbus.ObjectPath(agentPath)).Err
}
