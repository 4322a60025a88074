package dfu

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// BootState mirrors the bootloader state record of the update partition.
type BootState struct {
	State   string `yaml:"state"`
	Version string `yaml:"version,omitempty"`
}

const (
	StateBoot    = "boot"
	StateSwap    = "swap"
	StateBooted  = "booted"
	erasedByte   = 0xff
	stateFileExt = ".state.yaml"
)

// FileFlash is an update partition backed by an image file on the host.
// The boot state is kept in a YAML file next to the image.
type FileFlash struct {
	path string
	size uint32
	mu   sync.Mutex
}

// NewFileFlash creates a partition of size bytes stored at path.
func NewFileFlash(path string, size uint32) (*FileFlash, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: image path is required", ErrInvalidOptions)
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: partition size must be > 0", ErrInvalidOptions)
	}
	return &FileFlash{path: path, size: size}, nil
}

func (f *FileFlash) Size() uint32 {
	return f.size
}

func (f *FileFlash) Erase(ctx context.Context, from, to uint32) error {
	if from > to || to > f.size {
		return fmt.Errorf("%w: erase [%d, %d) outside partition", ErrInvalidOffset, from, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteAt(bytes.Repeat([]byte{erasedByte}, int(to-from)), int64(from)); err != nil {
		return fmt.Errorf("erase image: %w", err)
	}
	return nil
}

func (f *FileFlash) Write(ctx context.Context, offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(f.size) {
		return fmt.Errorf("%w: write at %d outside partition", ErrInvalidOffset, offset)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

func (f *FileFlash) MarkUpdated(ctx context.Context, version []byte) error {
	return f.writeState(BootState{State: StateSwap, Version: string(version)})
}

func (f *FileFlash) MarkBooted(ctx context.Context) error {
	st, err := f.ReadState()
	if err != nil {
		return err
	}
	st.State = StateBooted
	return f.writeState(st)
}

// ReadState returns the stored boot state. A missing state file reads as StateBoot.
func (f *FileFlash) ReadState() (BootState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path + stateFileExt)
	if os.IsNotExist(err) {
		return BootState{State: StateBoot}, nil
	}
	if err != nil {
		return BootState{}, fmt.Errorf("read boot state: %w", err)
	}

	var st BootState
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return BootState{}, fmt.Errorf("parse boot state: %w", err)
	}
	return st, nil
}

func (f *FileFlash) writeState(st BootState) error {
	raw, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode boot state: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.WriteFile(f.path+stateFileExt, raw, 0o644); err != nil {
		return fmt.Errorf("write boot state: %w", err)
	}
	return nil
}
