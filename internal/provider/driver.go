// Package provider holds the upstream drivers: the code that turns a
// normalized, already-routed request into an HTTP call against a specific
// provider family and streams (or buffers) the response back.
//
// A Driver is selected by the credential's Kind, never by the client's wire
// format — the same Claude-format request can be driven through restkey
// (Anthropic REST key), kiro (CodeWhisperer OAuth), or antigravity
// (Antigravity OAuth) depending on which credential the scheduler picked.
package provider

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sicyuan404/proxycast/internal/domain"
)

// Request is what the pipeline hands a Driver: the already-routed,
// already-injected request body in the *client's* wire format (each driver
// converts it to its upstream's format), plus the context needed to
// authenticate and address the call.
type Request struct {
	Body         []byte
	Model        string // resolved upstream model name
	Stream       bool
	ClientFormat domain.ClientFormat
	Credential   *domain.Credential
	SessionID    string
	RequestID    string
}

// Driver executes a request against one provider family and writes the
// response (streamed or buffered) to w in the client's wire format. Drivers
// are responsible for their own auth header construction, token refresh, and
// upstream error classification into *domain.ProxyError.
type Driver interface {
	// Kinds lists the domain.CredentialKind values this driver can serve.
	Kinds() []domain.CredentialKind
	// Execute performs the call. w is the client-facing response writer;
	// implementations must flush incrementally when Request.Stream is true.
	Execute(ctx context.Context, w io.Writer, req *Request) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[domain.CredentialKind]Driver)
)

// Register binds a Driver to every credential kind it declares support for.
// Called from each driver package's init().
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, kind := range d.Kinds() {
		registry[kind] = d
	}
}

// Lookup returns the Driver responsible for a credential kind.
func Lookup(kind domain.CredentialKind) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("provider: no driver registered for credential kind %q", kind)
	}
	return d, nil
}
