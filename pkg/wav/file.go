package wav

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/datacounter"
)

// ReadFile decodes the WAVE file at the given path.
func ReadFile(ctx context.Context, path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open '%s': %w", path, err)
	}
	defer f.Close()

	a, err := Decode(ctx, bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("unable to decode '%s': %w", path, err)
	}
	kind := "integer"
	if a.PCMFormat.IsFloat() {
		kind = "float"
	}
	logger.Debugf(ctx, "read '%s': %d Hz, %d channels, %s (%s), %d samples per channel", path, a.SampleRate, a.Channels, a.PCMFormat, kind, a.SampleCount())
	return a, nil
}

// WriteFile encodes the audio to the given path and returns the amount of
// bytes written. The file is replaced atomically: on failure the previous
// content at the path (if any) is left intact.
func WriteFile(ctx context.Context, path string, a *Audio) (_ret int64, _err error) {
	logger.Tracef(ctx, "WriteFile(ctx, '%s')", path)
	defer func() { logger.Tracef(ctx, "/WriteFile(ctx, '%s'): %d %v", path, _ret, _err) }()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("unable to create a temporary file next to '%s': %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if _err == nil {
			return
		}
		tmp.Close()
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			logger.Errorf(ctx, "unable to remove the temporary file '%s': %v", tmpPath, err)
		}
	}()

	wc := datacounter.NewWriterCounter(tmp)
	bw := bufio.NewWriter(wc)
	if err := Encode(bw, a); err != nil {
		return 0, fmt.Errorf("unable to encode the audio: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("unable to write '%s': %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("unable to sync '%s': %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("unable to close '%s': %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return 0, fmt.Errorf("unable to set the permissions of '%s': %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("unable to rename '%s' to '%s': %w", tmpPath, path, err)
	}

	count := int64(wc.Count())
	logger.Debugf(ctx, "wrote %d bytes to '%s'", count, path)
	return count, nil
}

// File is a WAVE file used as an audio source or sink.
type File struct {
	Path string
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) String() string {
	return f.Path
}

func (f *File) ReadAudio(ctx context.Context) (*Audio, error) {
	return ReadFile(ctx, f.Path)
}

func (f *File) WriteAudio(ctx context.Context, a *Audio) error {
	_, err := WriteFile(ctx, f.Path, a)
	return err
}
