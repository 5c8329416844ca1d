// Package audio handles Pulse device discovery, microphone capture and
// speaker playback.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// SampleRate is the PCM rate shared by capture, recognition and synthesis.
const SampleRate = 16000

// Device describes one Pulse source or sink.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved device plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newClient(icon string) (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("parley"),
		pulse.ClientApplicationIconName(icon),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient("audio-input-microphone")
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       deviceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// ListOutputs returns Pulse output sinks with default/availability metadata.
func ListOutputs(_ context.Context) ([]Device, error) {
	client, err := newClient("audio-speakers")
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSink, err := client.DefaultSink()
	if err != nil {
		return nil, fmt.Errorf("read default sink: %w", err)
	}
	defaultID := defaultSink.ID()

	var sinkInfos pulseproto.GetSinkInfoListReply
	if err := client.RawRequest(&pulseproto.GetSinkInfoList{}, &sinkInfos); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	devices := make([]Device, 0, len(sinkInfos))
	for _, sink := range sinkInfos {
		if sink == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          sink.SinkName,
			Description: sink.Device,
			State:       deviceStateString(sink.State),
			Available:   sinkAvailable(sink),
			Muted:       sink.Mute,
			Default:     sink.SinkName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves audio.input/audio.fallback preferences against live sources.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback)
}

// SelectOutput resolves audio.output against live sinks. Muted sinks are
// accepted with a warning since the user may unmute mid-session.
func SelectOutput(ctx context.Context, output string) (Selection, error) {
	devices, err := ListOutputs(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectOutputFromList(devices, output)
}

func selectOutputFromList(devices []Device, output string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio output devices found")
	}

	output = strings.TrimSpace(strings.ToLower(output))
	var chosen *Device
	for i := range devices {
		dev := &devices[i]
		if output == "" || output == "default" {
			if dev.Default {
				chosen = dev
				break
			}
			continue
		}
		if deviceMatches(*dev, output) {
			chosen = dev
			break
		}
	}
	if chosen == nil {
		if output == "" || output == "default" {
			return Selection{}, errors.New("default audio sink is unavailable")
		}
		return Selection{}, fmt.Errorf("audio.output %q did not match any device", output)
	}

	selection := Selection{Device: *chosen}
	if chosen.Muted {
		selection.Warning = fmt.Sprintf("audio output %q is muted", chosen.ID)
	}
	return selection, nil
}

// selectDeviceFromList applies selection policy to a pre-fetched source list.
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	var (
		defaultDevice *Device
		byInput       *Device
		byFallback    *Device
	)

	input = strings.TrimSpace(strings.ToLower(input))
	fallback = strings.TrimSpace(strings.ToLower(fallback))

	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if byInput == nil && input != "" && input != "default" && deviceMatches(*dev, input) {
			byInput = dev
		}
		if byFallback == nil && fallback != "" && fallback != "default" && deviceMatches(*dev, fallback) {
			byFallback = dev
		}
	}

	chooseDefault := func() (*Device, error) {
		if defaultDevice == nil {
			return nil, errors.New("default audio source is unavailable")
		}
		return defaultDevice, nil
	}

	var primary *Device
	switch {
	case input == "" || input == "default":
		d, err := chooseDefault()
		if err != nil {
			return Selection{}, err
		}
		primary = d
	case byInput != nil:
		primary = byInput
	default:
		return Selection{}, fmt.Errorf("audio.input %q did not match any device", input)
	}
	if primary.Available && !primary.Muted {
		return Selection{Device: *primary}, nil
	}

	reason := "unavailable"
	if primary.Muted {
		reason = "muted"
	}

	var candidate *Device
	if fallback != "" && fallback != "default" {
		if byFallback == nil {
			return Selection{}, fmt.Errorf("primary input %q is %s and fallback %q not found", primary.ID, reason, fallback)
		}
		candidate = byFallback
	} else {
		d, err := chooseDefault()
		if err != nil {
			return Selection{}, fmt.Errorf("primary input %q is %s and no usable fallback: %w", primary.ID, reason, err)
		}
		candidate = d
	}

	if !candidate.Available {
		return Selection{}, fmt.Errorf("audio fallback device %q is not available", candidate.ID)
	}
	if candidate.Muted {
		return Selection{}, fmt.Errorf("audio fallback device %q is muted", candidate.ID)
	}

	return Selection{
		Device:   *candidate,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, reason, candidate.ID),
		Fallback: primary.ID != candidate.ID,
	}, nil
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// deviceStateString maps Pulse device state constants to readable values.
func deviceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	for _, port := range source.Ports {
		if port.Name == source.ActivePortName {
			return portUsable(port.Available)
		}
	}
	return true
}

// sinkAvailable maps Pulse sink port availability to a simple boolean.
func sinkAvailable(sink *pulseproto.GetSinkInfoReply) bool {
	if sink == nil {
		return false
	}
	for _, port := range sink.Ports {
		if port.Name == sink.ActivePortName {
			return portUsable(port.Available)
		}
	}
	return true
}

// portUsable maps PulseAudio port availability: unknown=0, no=1, yes=2.
func portUsable(available uint32) bool {
	return available == 0 || available == 2
}
