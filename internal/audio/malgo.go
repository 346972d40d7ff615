//go:build !linux

package audio

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/malgo"
)

// ListDevices returns capture devices reported by miniaudio.
func ListDevices(_ context.Context) ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	return listDevices(mctx)
}

func listDevices(mctx *malgo.AllocatedContext) ([]Device, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:          hex.EncodeToString(info.ID.Pointer()[:]),
			Description: info.Name(),
			State:       "idle",
			Available:   true,
			Default:     info.IsDefault != 0,
		})
	}
	return devices, nil
}

// MalgoOpener opens capture devices through miniaudio.
type MalgoOpener struct {
	readTimeout time.Duration
}

// NewOpener returns the platform capture opener.
func NewOpener(readTimeout time.Duration) Opener {
	return &MalgoOpener{readTimeout: readTimeout}
}

// Open resolves source against miniaudio devices and starts capture on it.
func (o *MalgoOpener) Open(ctx context.Context, source Source, format Format, bufferSize int) (Stream, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: capture supports 16-bit PCM only, got %d", ErrSourceUnavailable, format.BitsPerSample)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	devices, err := listDevices(mctx)
	if err != nil {
		freeContext(mctx)
		return nil, err
	}
	selected, err := ResolveSource(devices, source)
	if err != nil {
		freeContext(mctx)
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	if frames := bufferSize / format.BlockAlign(); frames > 0 {
		deviceConfig.PeriodSizeInFrames = uint32(frames)
	}

	idBytes, err := hex.DecodeString(selected.ID)
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("%w: invalid device ID: %v", ErrSourceUnavailable, err)
	}
	var devID malgo.DeviceID
	copy(devID[:], idBytes)
	deviceConfig.Capture.DeviceID = devID.Pointer()

	stream := &malgoStream{
		device: selected,
		mctx:   mctx,
		queue:  newChunkQueue(o.readTimeout),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			_, _ = stream.queue.push(data)
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, classifyMalgoError(fmt.Errorf("%w: init capture device: %v", ErrSourceUnavailable, err))
	}
	stream.dev = dev

	if err := dev.Start(); err != nil {
		_ = stream.Close()
		return nil, classifyMalgoError(fmt.Errorf("%w: start capture device: %v", ErrSourceUnavailable, err))
	}
	return stream, nil
}

type malgoStream struct {
	device Device
	mctx   *malgo.AllocatedContext
	dev    *malgo.Device
	queue  *chunkQueue
}

func (s *malgoStream) Read(p []byte) (int, error) {
	return s.queue.Read(p)
}

func (s *malgoStream) Device() Device {
	return s.device
}

func (s *malgoStream) Close() error {
	s.queue.close()
	if s.dev != nil {
		_ = s.dev.Stop()
		s.dev.Uninit()
	}
	freeContext(s.mctx)
	return nil
}

func freeContext(mctx *malgo.AllocatedContext) {
	if mctx == nil {
		return
	}
	_ = mctx.Uninit()
	mctx.Free()
}

// classifyMalgoError maps OS microphone refusals onto ErrPermissionDenied.
func classifyMalgoError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
