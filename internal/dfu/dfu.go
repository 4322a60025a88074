// Package dfu applies firmware update writes received over GATT.
//
// Firmware chunks arrive in MTU-sized writes and are staged into a page
// buffer; only whole pages (and the final partial page) reach the flash.
package dfu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/presenter/internal/event"
)

const (
	DefaultPageSize = 4096
	DefaultMTU      = 64
)

var (
	ErrNotStarted     = errors.New("firmware update not started")
	ErrInvalidOffset  = errors.New("invalid firmware offset")
	ErrChunkTooLarge  = errors.New("firmware chunk exceeds mtu")
	ErrUnsupportedOp  = errors.New("unsupported firmware operation")
	ErrInvalidOptions = errors.New("invalid dfu options")
)

// Flash is the update partition of the device.
type Flash interface {
	// Size returns the size of the update partition in bytes.
	Size() uint32
	Erase(ctx context.Context, from, to uint32) error
	Write(ctx context.Context, offset uint32, data []byte) error
	// MarkUpdated requests the bootloader to swap to the new image.
	MarkUpdated(ctx context.Context, version []byte) error
	// MarkBooted confirms the running image so it is not swapped back.
	MarkBooted(ctx context.Context) error
}

// Options configures a Service.
type Options struct {
	Version  []byte
	PageSize int
	MTU      int
}

// Service implements the firmware update state machine.
type Service struct {
	flash    Flash
	version  []byte
	pageSize int
	mtu      int
	logger   *logrus.Logger

	mu          sync.Mutex
	started     bool
	offset      uint32 // next offset expected from the peer
	pageStart   uint32 // partition offset of the first staged byte
	page        *ringbuffer.RingBuffer
	nextVersion []byte
}

// NewService creates a firmware update service writing to flash.
func NewService(flash Flash, opts Options, logger *logrus.Logger) (*Service, error) {
	if flash == nil {
		return nil, fmt.Errorf("%w: flash is required", ErrInvalidOptions)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MTU <= 0 {
		opts.MTU = DefaultMTU
	}
	if opts.MTU > opts.PageSize {
		return nil, fmt.Errorf("%w: mtu %d exceeds page size %d", ErrInvalidOptions, opts.MTU, opts.PageSize)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Service{
		flash:    flash,
		version:  append([]byte(nil), opts.Version...),
		pageSize: opts.PageSize,
		mtu:      opts.MTU,
		logger:   logger,
		page:     ringbuffer.New(opts.PageSize),
	}, nil
}

// Version returns the running firmware version.
func (s *Service) Version() []byte {
	return append([]byte(nil), s.version...)
}

// MTU returns the largest accepted firmware chunk.
func (s *Service) MTU() int {
	return s.mtu
}

// Offset returns the next offset expected from the peer.
func (s *Service) Offset() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// NextVersion returns the version announced for the image being written.
func (s *Service) NextVersion() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.nextVersion...)
}

// Apply handles one update step. It is not safe to call Apply concurrently
// with itself for different update sessions; the forwarder serialises calls.
func (s *Service) Apply(ctx context.Context, ev event.UpdateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Op {
	case event.UpdateStart:
		return s.start(ctx)
	case event.UpdateSetOffset:
		return s.setOffset(ctx, ev.Offset)
	case event.UpdateWrite:
		return s.write(ctx, ev.Data)
	case event.UpdateFinish:
		return s.finish(ctx)
	case event.UpdateBooted:
		s.logger.Info("Marking firmware as booted")
		return s.flash.MarkBooted(ctx)
	case event.UpdateNextVersion:
		s.nextVersion = append([]byte(nil), ev.Data...)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOp, ev.Op)
	}
}

func (s *Service) start(ctx context.Context) error {
	s.logger.WithField("size", s.flash.Size()).Info("Starting firmware update")

	s.page.Reset()
	s.offset = 0
	s.pageStart = 0
	s.started = false

	if err := s.flash.Erase(ctx, 0, s.flash.Size()); err != nil {
		return fmt.Errorf("erase update partition: %w", err)
	}
	s.started = true
	return nil
}

func (s *Service) setOffset(ctx context.Context, offset uint32) error {
	if !s.started {
		return ErrNotStarted
	}
	if offset > s.flash.Size() {
		return fmt.Errorf("%w: %d beyond partition size %d", ErrInvalidOffset, offset, s.flash.Size())
	}
	if err := s.flush(ctx); err != nil {
		return err
	}
	s.offset = offset
	s.pageStart = offset
	return nil
}

func (s *Service) write(ctx context.Context, data []byte) error {
	if !s.started {
		return ErrNotStarted
	}
	if len(data) > s.mtu {
		return fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, len(data), s.mtu)
	}
	if uint64(s.offset)+uint64(len(data)) > uint64(s.flash.Size()) {
		return fmt.Errorf("%w: write of %d bytes at %d overflows partition", ErrInvalidOffset, len(data), s.offset)
	}

	for len(data) > 0 {
		n := min(len(data), s.page.Free())
		if _, err := s.page.Write(data[:n]); err != nil {
			return fmt.Errorf("stage firmware chunk: %w", err)
		}
		data = data[n:]
		s.offset += uint32(n)

		if s.page.IsFull() {
			if err := s.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) finish(ctx context.Context) error {
	if !s.started {
		return ErrNotStarted
	}
	if err := s.flush(ctx); err != nil {
		return err
	}
	s.started = false

	s.logger.WithFields(logrus.Fields{
		"bytes":   s.offset,
		"version": string(s.nextVersion),
	}).Info("Firmware update complete, marking for swap")
	return s.flash.MarkUpdated(ctx, s.nextVersion)
}

// flush writes the staged bytes to flash. The staging buffer is emptied even
// when the write fails.
func (s *Service) flush(ctx context.Context) error {
	if s.page.IsEmpty() {
		return nil
	}

	buf := make([]byte, s.page.Length())
	n, err := s.page.Read(buf)
	s.page.Reset()
	if err != nil {
		return fmt.Errorf("drain staged firmware: %w", err)
	}

	at := s.pageStart
	s.pageStart += uint32(n)
	if err := s.flash.Write(ctx, at, buf[:n]); err != nil {
		return fmt.Errorf("write firmware page at %d: %w", at, err)
	}
	return nil
}
