// Package weights reads and writes model parameters as a NumPy .npz archive:
// a zip file holding one <name>.npy entry per tensor, the layout np.savez
// produces for a state dict. Each entry is encoded by gorgonia's npy codec.
package weights

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	gt "gorgonia.org/tensor"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

const (
	npyExt = ".npy"

	// the largest parameter (classifier.1.weight) is 32 MiB
	maxEntryBytes = 1 << 30
)

var ErrInvalidFormat = errors.New("invalid npz weights")

// File is a decoded weights artifact. Metadata travels in the archive comment.
type File struct {
	Tensors  map[string]*tensor.Tensor
	Metadata map[string]string
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open reads a weights archive from disk.
func Open(path string) (*File, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("failed to open weights: %w", err)
		}
		return nil, fmt.Errorf("%s: %w: %v", path, ErrInvalidFormat, err)
	}
	defer zr.Close()

	f, err := decode(&zr.Reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Read decodes an npz stream held in r.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return decode(zr)
}

func decode(zr *zip.Reader) (*File, error) {
	f := &File{Tensors: make(map[string]*tensor.Tensor, len(zr.File))}
	if zr.Comment != "" {
		if err := json.Unmarshal([]byte(zr.Comment), &f.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidFormat, err)
		}
	}

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(entry.Name, npyExt)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: unexpected entry %q", ErrInvalidFormat, entry.Name)
		}
		if _, dup := f.Tensors[name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor %q", ErrInvalidFormat, name)
		}
		if entry.UncompressedSize64 > maxEntryBytes {
			return nil, fmt.Errorf("%w: tensor %q is %d bytes", ErrInvalidFormat, name, entry.UncompressedSize64)
		}

		t, err := readEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		f.Tensors[name] = t
	}
	return f, nil
}

func readEntry(entry *zip.File) (t *tensor.Tensor, err error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	defer rc.Close()

	// ReadNpy trusts the header shape and panics on negative dimensions
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("%w: %v", ErrInvalidFormat, r)
		}
	}()

	d := new(gt.Dense)
	if err := d.ReadNpy(bufio.NewReader(io.LimitReader(rc, maxEntryBytes))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	t, err = tensor.FromDense(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return t, nil
}

// Write encodes f. Entries are stored uncompressed in name order, as np.savez does.
func Write(w io.Writer, f *File) error {
	zw := zip.NewWriter(w)
	if len(f.Metadata) > 0 {
		comment, err := json.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		if err := zw.SetComment(string(comment)); err != nil {
			return err
		}
	}

	for _, name := range f.Names() {
		ew, err := zw.CreateHeader(&zip.FileHeader{Name: name + npyExt, Method: zip.Store})
		if err != nil {
			return err
		}
		bw := bufio.NewWriter(ew)
		if err := f.Tensors[name].Dense().WriteNpy(bw); err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Save writes f to path, replacing any existing file.
func Save(path string, f *File) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	if err := Write(fh, f); err != nil {
		fh.Close()
		return fmt.Errorf("failed to write weights: %w", err)
	}
	return fh.Close()
}
