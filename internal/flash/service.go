package flash

import (
	"fmt"
	"io"
	"os"
	"time"

	"wsk-go/internal/ops"
)

var requireRoot = ops.RequireRoot

// Devices is the slice of block-device inspection the flash service needs.
type Devices interface {
	CheckBlockDevice(device string) error
	MountPoint(device string) (string, error)
	SizeBytes(device string) (int64, error)
}

// Result reports one completed write.
type Result struct {
	Plan         Plan
	BytesWritten int64
}

// Service orchestrates flashing an image onto a device and wiping a device
// with zeros. All mutations sit behind the destructive confirmation gate.
type Service struct {
	devices   Devices
	runner    ops.Runner
	confirmer ops.Confirmer
	logger    ops.Logger
	writer    *Writer

	chunkSize int64
}

// NewService creates a flash service. chunkSize is the full-chunk size; pause,
// cycleThreshold and remountWait configure the inter-chunk behavior.
func NewService(devices Devices, runner ops.Runner, confirmer ops.Confirmer, logger ops.Logger, clock ops.Clock, chunkSize int64, pause time.Duration, cycleThreshold int64, remountWait time.Duration) *Service {
	w := NewWriter(logger, clock)
	w.Pause = pause
	w.CycleThreshold = cycleThreshold
	w.RemountWait = remountWait

	return &Service{
		devices:   devices,
		runner:    runner,
		confirmer: confirmer,
		logger:    logger,
		writer:    w,
		chunkSize: chunkSize,
	}
}

// Flash writes the image at imagePath onto device.
func (s *Service) Flash(imagePath, device string) (*Result, error) {
	if err := requireRoot("flash"); err != nil {
		return nil, err
	}

	src, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading image size: %w", err)
	}
	srcSize := info.Size()
	if srcSize == 0 {
		return nil, ops.Precondition("flash", fmt.Errorf("image %s is empty", imagePath))
	}

	if err := s.checkTarget(device); err != nil {
		return nil, err
	}

	devSize, err := s.devices.SizeBytes(device)
	if err != nil {
		return nil, err
	}
	if devSize < srcSize {
		return nil, ops.Precondition("flash",
			fmt.Errorf("image is %d bytes but %s holds only %d", srcSize, device, devSize))
	}

	prompt := fmt.Sprintf("All data on %s will be overwritten with %s.", device, imagePath)
	if err := s.confirm(prompt); err != nil {
		return nil, err
	}

	plan, err := NewPlan(srcSize, s.chunkSize)
	if err != nil {
		return nil, err
	}

	s.logger.Info("flashing image", "image", imagePath, "device", device,
		"bytes", plan.TotalBytes, "chunks", plan.FullChunks, "remainder", plan.Remainder)
	return s.write(src, device, plan)
}

// Wipe overwrites the whole device with zeros and clears filesystem
// signatures.
func (s *Service) Wipe(device string) (*Result, error) {
	if err := requireRoot("wipe"); err != nil {
		return nil, err
	}

	if err := s.checkTarget(device); err != nil {
		return nil, err
	}

	devSize, err := s.devices.SizeBytes(device)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("All %d bytes on %s will be destroyed.", devSize, device)
	if err := s.confirm(prompt); err != nil {
		return nil, err
	}

	if _, err := s.runner.Run("wipefs", "-a", device); err != nil {
		return nil, fmt.Errorf("clearing signatures on %s: %w", device, err)
	}

	plan, err := NewPlan(devSize, s.chunkSize)
	if err != nil {
		return nil, err
	}

	s.logger.Info("wiping device", "device", device, "bytes", plan.TotalBytes)
	return s.write(ZeroSource{}, device, plan)
}

// checkTarget rejects targets that are not block devices or are mounted.
func (s *Service) checkTarget(device string) error {
	if err := s.devices.CheckBlockDevice(device); err != nil {
		return ops.Precondition("check target", err)
	}

	mountPoint, err := s.devices.MountPoint(device)
	if err != nil {
		return err
	}
	if mountPoint != "" {
		return ops.Precondition("check target",
			fmt.Errorf("%s is mounted at %s, unmount it first", device, mountPoint))
	}
	return nil
}

func (s *Service) confirm(prompt string) error {
	ok, err := s.confirmer.Confirm(ops.DestructiveGate(prompt))
	if err != nil {
		return err
	}
	if !ok {
		return ops.ErrDeclined
	}
	return nil
}

func (s *Service) write(src io.ReaderAt, device string, plan Plan) (*Result, error) {
	target, err := newCycleTarget(device)
	if err != nil {
		return nil, err
	}
	defer target.Close()

	written, err := s.writer.Write(src, target, plan, target)
	if err != nil {
		return nil, err
	}
	s.logger.Info("write complete", "device", device, "bytes", written)
	return &Result{Plan: plan, BytesWritten: written}, nil
}

// cycleTarget is the open device handle. A cycle closes and reopens the
// handle so the controller's write queue drains completely before the next
// chunk.
type cycleTarget struct {
	path string
	f    *os.File
}

func newCycleTarget(path string) (*cycleTarget, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening target %s: %w", path, err)
	}
	return &cycleTarget{path: path, f: f}, nil
}

func (t *cycleTarget) WriteAt(p []byte, off int64) (int, error) {
	return t.f.WriteAt(p, off)
}

func (t *cycleTarget) Sync() error {
	return t.f.Sync()
}

func (t *cycleTarget) Unmount() error {
	if err := t.f.Sync(); err != nil {
		return err
	}
	return t.f.Close()
}

func (t *cycleTarget) Remount() error {
	f, err := os.OpenFile(t.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("reopening target %s: %w", t.path, err)
	}
	t.f = f
	return nil
}

func (t *cycleTarget) Close() error {
	return t.f.Close()
}
