package ml

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
)

// Artifact files start with a fixed header:
//
//	magic   [4]byte "MLAB"
//	version uint16
//	flags   uint8
//	length  uint32  length of the stored body
//
// followed by the body and the xxhash64 of the uncompressed body. All
// integers are little-endian.
const (
	artifactMagic   = "MLAB"
	artifactVersion = uint16(1)

	flagSnappy = uint8(1 << 0)
	knownFlags = flagSnappy

	headerSize   = 4 + 2 + 1 + 4
	checksumSize = 8

	// maxBodySize bounds the decompressed body so a forged length prefix
	// cannot force a huge allocation.
	maxBodySize = 256 << 20
)

// Encode writes the artifact in the versioned binary format.
func Encode(w io.Writer, a *Artifact) error {
	body, err := a.marshalBody()
	if err != nil {
		return err
	}
	stored := snappy.Encode(nil, body)

	header := make([]byte, 0, headerSize)
	header = append(header, artifactMagic...)
	header = binary.LittleEndian.AppendUint16(header, artifactVersion)
	header = append(header, flagSnappy)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(stored)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(stored); err != nil {
		return err
	}
	_, err = w.Write(binary.LittleEndian.AppendUint64(nil, xxhash.Sum64(body)))
	return err
}

// Decode reads an artifact written by Encode. Any malformed input yields an
// error wrapping ErrCorruptArtifact.
func Decode(r io.Reader) (*Artifact, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrCorruptArtifact, err)
	}
	a, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptArtifact, err)
	}
	return a, nil
}

func decode(data []byte) (*Artifact, error) {
	if len(data) < headerSize+checksumSize {
		return nil, errTruncated
	}
	if string(data[:4]) != artifactMagic {
		return nil, errors.New("unrecognized format marker")
	}
	if version := binary.LittleEndian.Uint16(data[4:6]); version != artifactVersion {
		return nil, fmt.Errorf("unsupported format version %d", version)
	}
	flags := data[6]
	if flags&^knownFlags != 0 {
		return nil, fmt.Errorf("unknown flags %#x", flags)
	}
	length := int(binary.LittleEndian.Uint32(data[7:11]))
	if length != len(data)-headerSize-checksumSize {
		return nil, fmt.Errorf("body length %d does not match file size", length)
	}

	body := data[headerSize : headerSize+length]
	if flags&flagSnappy != 0 {
		n, err := snappy.DecodedLen(body)
		if err != nil {
			return nil, fmt.Errorf("decompress body: %w", err)
		}
		if n > maxBodySize {
			return nil, fmt.Errorf("decompressed body of %d bytes exceeds %d", n, maxBodySize)
		}
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("decompress body: %w", err)
		}
		body = decoded
	}
	want := binary.LittleEndian.Uint64(data[headerSize+length:])
	if got := xxhash.Sum64(body); got != want {
		return nil, fmt.Errorf("checksum mismatch: %016x != %016x", got, want)
	}
	return unmarshalBody(body)
}

func (a *Artifact) marshalBody() ([]byte, error) {
	blob, err := a.classifier.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", a.classifier.Kind(), err)
	}
	var w binaryWriter
	m := a.metadata
	w.putString(m.ModelName)
	w.putUint32(uint32(m.TrainCount))
	w.putUint32(uint32(m.TotalCount))
	w.putFloat64(m.BaselineScore)
	w.putFloat64(m.TrainScore)
	w.putFloat64(m.TestScore)
	w.putString(m.Timestamp)
	w.putStrings(a.features)
	w.putString(a.classifier.Kind())
	w.putBytes(blob)
	return w.Bytes(), nil
}

func unmarshalBody(body []byte) (*Artifact, error) {
	r := &binaryReader{data: body}
	metadata := Metadata{
		ModelName:     r.string(),
		TrainCount:    int(r.uint32()),
		TotalCount:    int(r.uint32()),
		BaselineScore: r.float64(),
		TrainScore:    r.float64(),
		TestScore:     r.float64(),
		Timestamp:     r.string(),
	}
	features := r.strings()
	kind := r.string()
	blob := r.bytes()
	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.remaining())
	}

	classifier, err := newClassifier(kind)
	if err != nil {
		return nil, err
	}
	if err := classifier.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return NewArtifact(classifier, features, metadata)
}

// Save writes the artifact to path. The file is written under a temporary
// name in the same directory and renamed into place, so readers see either
// the previous artifact or the complete new one.
func Save(path string, a *Artifact) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err := Encode(buf, a); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Load reads an artifact saved by Save. A file that cannot be opened is an
// ErrIO; a file that cannot be decoded is an ErrCorruptArtifact.
func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	a, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return a, nil
}
