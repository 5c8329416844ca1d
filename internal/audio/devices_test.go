package audio

import (
	"context"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestSelectDeviceFromListPrimaryDefault(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "default", "default")
	require.NoError(t, err)
	require.Equal(t, "elgato", selection.Device.ID)
	require.Empty(t, selection.Warning)
}

func TestSelectDeviceFromListMutedPrimaryUsesFallback(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "elgato", "sony")
	require.NoError(t, err)
	require.Equal(t, "sony", selection.Device.ID)
	require.Contains(t, selection.Warning, "muted")
	require.True(t, selection.Fallback)
}

func TestSelectDeviceFromListFailsWhenSelectedAndFallbackMuted(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
	}

	_, err := selectDeviceFromList(devices, "default", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "muted")
}

func TestSelectDeviceFromListUnknownInput(t *testing.T) {
	devices := []Device{{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true}}

	_, err := selectDeviceFromList(devices, "missing", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not match")
}

func TestSelectOutputFromList(t *testing.T) {
	devices := []Device{
		{ID: "alsa_output.hdmi", Description: "HDMI Audio", Available: true},
		{ID: "bluez_output.sony", Description: "Sony WH-1000XM6", Available: true, Muted: true, Default: true},
	}

	selection, err := selectOutputFromList(devices, "")
	require.NoError(t, err)
	require.Equal(t, "bluez_output.sony", selection.Device.ID)
	require.Contains(t, selection.Warning, "muted")

	selection, err = selectOutputFromList(devices, "hdmi")
	require.NoError(t, err)
	require.Equal(t, "alsa_output.hdmi", selection.Device.ID)
	require.Empty(t, selection.Warning)

	_, err = selectOutputFromList(devices, "usb dac")
	require.ErrorContains(t, err, "did not match")

	_, err = selectOutputFromList(nil, "default")
	require.ErrorContains(t, err, "no audio output devices")
}

func TestDeviceMatchesByIDAndDescription(t *testing.T) {
	dev := Device{ID: "alsa_input.usb-elgato", Description: "Elgato Wave 3 Mono"}
	require.True(t, deviceMatches(dev, "elgato"))
	require.True(t, deviceMatches(dev, "wave 3"))
	require.False(t, deviceMatches(dev, "missing"))
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.Error(t, err)

	_, err = ListOutputs(context.Background())
	require.Error(t, err)
}

func TestSelectDeviceFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := SelectDevice(context.Background(), "default", "default")
	require.Error(t, err)

	_, err = SelectOutput(context.Background(), "default")
	require.Error(t, err)
}

func TestDeviceStateString(t *testing.T) {
	require.Equal(t, "running", deviceStateString(0))
	require.Equal(t, "idle", deviceStateString(1))
	require.Equal(t, "suspended", deviceStateString(2))
	require.Equal(t, "unknown(99)", deviceStateString(99))
}

func TestSourceAvailable(t *testing.T) {
	require.False(t, sourceAvailable(nil))
	require.True(t, sourceAvailable(&pulseproto.GetSourceInfoReply{})) // no ports => available

	available := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setPorts(t, available, []testPort{{name: "mic", available: 2}})
	require.True(t, sourceAvailable(available))

	notAvailable := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setPorts(t, notAvailable, []testPort{{name: "mic", available: 1}})
	require.False(t, sourceAvailable(notAvailable))
}

func TestSinkAvailable(t *testing.T) {
	require.False(t, sinkAvailable(nil))
	require.True(t, sinkAvailable(&pulseproto.GetSinkInfoReply{}))

	unplugged := &pulseproto.GetSinkInfoReply{ActivePortName: "headphones"}
	setPorts(t, unplugged, []testPort{{name: "headphones", available: 1}})
	require.False(t, sinkAvailable(unplugged))
}

type testPort struct {
	name      string
	available uint32
}

// setPorts fills the reply's Ports field, whose element type is not exported.
func setPorts(t *testing.T, reply any, ports []testPort) {
	t.Helper()

	replyValue := reflect.ValueOf(reply).Elem().FieldByName("Ports")
	sliceValue := reflect.MakeSlice(replyValue.Type(), len(ports), len(ports))

	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}

	replyValue.Set(sliceValue)
}
