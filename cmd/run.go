package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillnet/vl1"
	"github.com/quillnet/vl1/config"
	"github.com/quillnet/vl1/dispatch"
	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/trace"
	"github.com/quillnet/vl1/wire"
)

// udpHost is a minimal vl1.HostCallbacks backed by a single UDP socket
// and a plain-file key/value store, enough to actually run a node from
// the CLI. A production host (tap device, richer persistence, trusted
// path administration) is expected to supply its own, richer
// implementation — this one exists so `vl1node run` is a real command.
type udpHost struct {
	conn     *net.UDPConn
	stateDir string
}

func (h *udpHost) WireSend(ctx any, localSocket int64, remote wire.Endpoint, data []byte, ttlHint int) bool {
	ap, ok := remote.AddrPort()
	if !ok {
		return false
	}
	_, err := h.conn.WriteToUDPAddrPort(data, ap)
	return err == nil
}

func (h *udpHost) statePath(kind dispatch.StateObjectKind, id []byte) string {
	return filepath.Join(h.stateDir, fmt.Sprintf("%d-%s", kind, hex.EncodeToString(id)))
}

func (h *udpHost) StatePut(kind dispatch.StateObjectKind, id []byte, data []byte) error {
	path := h.statePath(kind, id)
	if data == nil {
		err := os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (h *udpHost) StateGet(kind dispatch.StateObjectKind, id []byte) ([]byte, bool) {
	data, err := os.ReadFile(h.statePath(kind, id))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (h *udpHost) Event(kind dispatch.EventKind, payload any) {}

func (h *udpHost) PathCheck(addr identity.Address, id *identity.Identity, localSocket int64, remote wire.Endpoint) bool {
	// No trusted-path administration surface in the CLI host: nothing is
	// ever admitted without cipher authentication.
	return false
}

func (h *udpHost) PathLookup(addr identity.Address, id *identity.Identity, family int) (wire.Endpoint, bool) {
	return wire.Endpoint{}, false
}

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Run the node against a UDP socket until interrupted",
	GroupID: "run",
	Run: func(cmd *cobra.Command, args []string) {
		nodeCfg, err := config.LoadNodeConfig(nodeConfigPath)
		if err != nil {
			fmt.Println("load identity:", err)
			os.Exit(1)
		}
		local, err := config.ResolveIdentity(nodeCfg)
		if err != nil {
			fmt.Println("resolve identity:", err)
			os.Exit(1)
		}

		rootsCfg, err := config.LoadRootsConfig(rootsConfigPath)
		if err != nil {
			fmt.Println("load roots:", err)
			os.Exit(1)
		}

		logger, err := trace.NewLogger(local.Address().String(), nodeCfg.ParsedLogLevel(), nodeCfg.LogPath)
		if err != nil {
			fmt.Println("logger:", err)
			os.Exit(1)
		}

		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(nodeCfg.ListenPort)})
		if err != nil {
			fmt.Println("listen:", err)
			os.Exit(1)
		}
		defer conn.Close()

		stateDir, _ := cmd.Flags().GetString("state-dir")
		if err := os.MkdirAll(stateDir, 0700); err != nil {
			fmt.Println("state dir:", err)
			os.Exit(1)
		}
		host := &udpHost{conn: conn, stateDir: stateDir}

		node := vl1.New(local, host, logger, nil, nil)
		defer node.Close()

		for _, entry := range rootsCfg.Roots {
			rootID, err := identity.ParseText(entry.PublicKey)
			if err != nil {
				logger.Slog().Warn("skipping invalid root entry", "err", err)
				continue
			}
			if err := node.AddRoot(rootID, &entry.Locator); err != nil {
				logger.Slog().Warn("skipping unverifiable root", "address", rootID.Address(), "err", err)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		go node.Run(ctx)

		logger.Slog().Info("node listening", "address", local.Address(), "port", nodeCfg.ListenPort)

		buf := make([]byte, 65535)
		for {
			conn.SetReadDeadline(time.Now().Add(time.Second))
			n, from, err := conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			data := append([]byte(nil), buf[:n]...)
			node.OnRemotePacket(ctx, socketID(conn), normalizeAddrPort(from), data, time.Now())
		}
	},
}

// socketID derives a stable localSocket identifier from the listening
// socket's own address, satisfying the dispatcher's "opaque per-socket
// integer" contract with a single UDP listener.
func socketID(conn *net.UDPConn) int64 {
	addr := conn.LocalAddr().(*net.UDPAddr)
	return int64(addr.Port)
}

// normalizeAddrPort maps an IPv4-mapped IPv6 address back to plain
// IPv4, so path keys are stable regardless of dual-stack socket quirks.
func normalizeAddrPort(ap netip.AddrPort) netip.AddrPort {
	if ap.Addr().Is4In6() {
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return ap
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("state-dir", "vl1-state", "directory for persisted peer/root state")
}
