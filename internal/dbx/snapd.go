package dbx

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/fwupdcore/uefi-capsule-core/internal/coreerr"
)

// snapdSocketTimeout is deliberately short and unconfigured: spec.md §5
// calls this the only network-style request the core makes and wants
// connection failures surfaced quickly rather than blocking an install.
const snapdSocketTimeout = 5 * time.Second

// DefaultSnapdSocket is the well-known path snapd listens on.
const DefaultSnapdSocket = "/run/snapd.socket"

// SnapdNotifier talks to snapd's Unix-socket API to coordinate a dbx
// write with snapd-managed full-disk encryption (spec.md §4.7).
type SnapdNotifier struct {
	SocketPath string
	client     *http.Client
}

// NewSnapdNotifier returns a notifier talking to socketPath (typically
// DefaultSnapdSocket).
func NewSnapdNotifier(socketPath string) *SnapdNotifier {
	return &SnapdNotifier{
		SocketPath: socketPath,
		client: &http.Client{
			Timeout: snapdSocketTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					d := net.Dialer{}
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

type snapdRequest struct {
	Action       string `json:"action"`
	KeyDatabase  string `json:"key-database,omitempty"`
	Payload      string `json:"payload,omitempty"`
}

// Prepare notifies snapd before a dbx write. A 404 response means the
// integration isn't supported on this host and is returned as a
// coreerr.NotSupported error, which Apply treats as non-fatal; any other
// non-2xx status or transport failure is returned as coreerr.Internal.
func (n *SnapdNotifier) Prepare(ctx context.Context, payload []byte) error {
	req := snapdRequest{
		Action:      "efi-secureboot-update-db-prepare",
		KeyDatabase: "DBX",
		Payload:     base64.StdEncoding.EncodeToString(payload),
	}
	return n.post(ctx, req)
}

// Cleanup notifies snapd after a successful dbx write.
func (n *SnapdNotifier) Cleanup(ctx context.Context) error {
	return n.post(ctx, snapdRequest{Action: "efi-secureboot-update-db-cleanup"})
}

func (n *SnapdNotifier) post(ctx context.Context, body snapdRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, err, "marshal snapd request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://snapd/v2/system-info", bytes.NewReader(data))
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, err, "create snapd request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, err, "connect to snapd socket")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return coreerr.New(coreerr.NotSupported, "snapd does not support dbx coordination")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return coreerr.New(coreerr.Internal, "snapd request failed: HTTP %d %s", resp.StatusCode, string(respBody))
	}
	return nil
}
