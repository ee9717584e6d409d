package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/amtrelay/internal/fault"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/internal/stack/goble"
	"github.com/srg/amtrelay/internal/testutils"
	"github.com/srg/amtrelay/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func executeRoot(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "boom"},
		{
			"bluetooth off",
			goble.NormalizeDeviceError(errors.New("can't init hci: no devices available")),
			"Bluetooth is unavailable: turn it on and check the adapter permissions",
		},
		{
			"fatal with status",
			fault.Fatal("enable notifications", stack.NewError("subscribe", stack.StatusBusy, "att busy")),
			"stack failure during enable notifications (status busy): subscribe: busy: att busy",
		},
		{
			"fatal without status",
			fault.Fatal("phy update", errors.New("controller error")),
			"stack failure during phy update: controller error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

// GOAL: Verify --log-level overrides the configured level and bad levels are rejected
//
// TEST SCENARIO: config level info, flag debug → debug; flag "loud" → error
func TestConfigureLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cmd := &cobra.Command{}
	cmd.Flags().String("log-level", "", "")

	logger, err := configureLogger(cmd, cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	require.NoError(t, cmd.Flags().Set("log-level", "debug"))
	logger, err = configureLogger(cmd, cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	require.NoError(t, cmd.Flags().Set("log-level", "loud"))
	_, err = configureLogger(cmd, cfg)
	assert.ErrorContains(t, err, "invalid log level: loud")
}

// GOAL: Verify the config command prints a complete, reloadable config
//
// TEST SCENARIO: Partial YAML file → defaults filled in, overrides kept, output parses back
func TestConfigCommand(t *testing.T) {
	path := writeConfig(t, "role: slave\ntest:\n  att_mtu: 158\n")

	out, err := executeRoot("config", "--config", path)
	require.NoError(t, err)

	var got config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got), "output MUST be valid YAML")
	assert.Equal(t, config.RoleSlave, got.Role)
	assert.Equal(t, uint16(158), got.Test.ATTMTU)
	assert.Equal(t, uint32(1048576), got.TransferBytes, "defaults MUST be filled in")
	assert.Equal(t, 30*time.Millisecond, got.StreamInterval)
	assert.Contains(t, out, "stream_interval: 30ms")
}

func TestConfigCommand_Invalid(t *testing.T) {
	path := writeConfig(t, "test:\n  att_mtu: 9000\n")

	_, err := executeRoot("config", "--config", path)
	assert.ErrorContains(t, err, "att_mtu 9000 out of range")

	_, err = executeRoot("config", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

// GOAL: Verify run fails cleanly before touching the radio on bad input or a missing adapter
//
// TEST SCENARIO: Unknown role → parse error; device factory failing → ErrBluetoothOff
func TestRunCommand_Errors(t *testing.T) {
	orig := goble.DeviceFactory
	defer func() { goble.DeviceFactory = orig }()

	opened := false
	goble.DeviceFactory = func() (ble.Device, error) {
		opened = true
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}

	_, err := executeRoot("run", "--config=", "--no-console", "--role", "observer")
	assert.ErrorContains(t, err, `invalid role "observer"`)
	assert.False(t, opened, "device MUST NOT be opened when flags are invalid")

	_, err = executeRoot("run", "--config=", "--no-console", "--role", "relay")
	require.Error(t, err)
	assert.ErrorIs(t, err, goble.ErrBluetoothOff)
	assert.True(t, opened)
	assert.Equal(t, "Bluetooth is unavailable: turn it on and check the adapter permissions", FormatUserError(err))
}

type idleDevice struct {
	ble.Device

	mu        sync.Mutex
	services  []*ble.Service
	scanning  atomic.Bool
	advName   atomic.Value
	stopCalls atomic.Int32
}

func (d *idleDevice) AddService(svc *ble.Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services = append(d.services, svc)
	return nil
}

func (d *idleDevice) Scan(ctx context.Context, _ bool, _ ble.AdvHandler) error {
	d.scanning.Store(true)
	defer d.scanning.Store(false)
	<-ctx.Done()
	return ctx.Err()
}

func (d *idleDevice) AdvertiseNameAndServices(ctx context.Context, name string, _ ...ble.UUID) error {
	d.advName.Store(name)
	<-ctx.Done()
	return ctx.Err()
}

func (d *idleDevice) Stop() error {
	d.stopCalls.Add(1)
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// GOAL: Verify serve wires adapter, dispatcher and console into a working relay
//
// TEST SCENARIO: Relay boots → scans and advertises; console status reports it; cancel → Canceled, device stopped
func TestServe(t *testing.T) {
	h := testutils.NewTestHelper(t)
	cfg := config.DefaultConfig()
	dev := &idleDevice{}
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, dev, strings.NewReader("mtu 100\nstatus\n"), out, h.Logger)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"advertising": true`)
	}, 2*time.Second, 10*time.Millisecond, "status MUST be printed by the console")

	assert.Contains(t, out.String(), "ATT MTU set to 100")
	assert.Contains(t, out.String(), `"role": "relay"`)
	assert.Contains(t, out.String(), `"scanning": true`)
	assert.Eventually(t, func() bool {
		return dev.advName.Load() == cfg.DeviceName && dev.scanning.Load()
	}, time.Second, 10*time.Millisecond, "advertised name MUST come from the config")
	dev.mu.Lock()
	assert.Len(t, dev.services, 1, "throughput service MUST be registered once")
	dev.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("serve MUST return after cancel")
	}
	assert.Equal(t, int32(1), dev.stopCalls.Load(), "device MUST be stopped on exit")
	assert.Equal(t, 1, h.Count("Relay started"))
}
