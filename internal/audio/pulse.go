//go:build linux

package audio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const applicationName = "songid"

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(applicationName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, classifyPulseError(fmt.Errorf("connect pulse server: %w", err))
	}
	return client, nil
}

// ListDevices returns available Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return listDevices(client)
}

func listDevices(client *pulse.Client) ([]Device, error) {
	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, classifyPulseError(fmt.Errorf("list sources: %w", err))
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// PulseOpener opens record streams on the session PulseAudio/PipeWire server.
type PulseOpener struct {
	readTimeout time.Duration
}

// NewOpener returns the platform capture opener.
func NewOpener(readTimeout time.Duration) Opener {
	return &PulseOpener{readTimeout: readTimeout}
}

// Open resolves source against live devices and starts a record stream on it.
func (o *PulseOpener) Open(ctx context.Context, source Source, format Format, bufferSize int) (Stream, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: pulse capture supports 16-bit PCM only, got %d", ErrSourceUnavailable, format.BitsPerSample)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	devices, err := listDevices(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	selected, err := ResolveSource(devices, source)
	if err != nil {
		client.Close()
		return nil, err
	}

	pulseSource, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: resolve source %q: %v", ErrSourceUnavailable, selected.ID, err)
	}

	stream := &pulseStream{
		device: selected,
		client: client,
		queue:  newChunkQueue(o.readTimeout),
	}

	channelOpt := pulse.RecordMono
	if format.Channels > 1 {
		channelOpt = pulse.RecordStereo
	}

	writer := pulse.NewWriter(writerFunc(stream.queue.push), pulseproto.FormatInt16LE)
	record, err := client.NewRecord(
		writer,
		pulse.RecordSource(pulseSource),
		channelOpt,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(bufferSize)),
		pulse.RecordMediaName("songid capture"),
	)
	if err != nil {
		_ = stream.Close()
		return nil, classifyPulseError(fmt.Errorf("%w: create pulse record stream: %v", ErrSourceUnavailable, err))
	}

	stream.record = record
	record.Start()
	return stream, nil
}

type pulseStream struct {
	device Device
	client *pulse.Client
	record *pulse.RecordStream
	queue  *chunkQueue
}

func (s *pulseStream) Read(p []byte) (int, error) {
	if s.record != nil && s.record.Error() != nil {
		return 0, fmt.Errorf("pulse record stream: %w", s.record.Error())
	}
	return s.queue.Read(p)
}

func (s *pulseStream) Device() Device {
	return s.device
}

func (s *pulseStream) Close() error {
	s.queue.close()
	if s.record != nil {
		s.record.Stop()
		s.record.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// classifyPulseError maps server-side access refusals onto ErrPermissionDenied.
func classifyPulseError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission denied") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
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
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
