package ml

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func randomRows(n int) []FeatureRow {
	rng := rand.New(rand.NewSource(11))
	rows := make([]FeatureRow, n)
	for i := range rows {
		rows[i] = FeatureRow{
			"level":  float64(1 + rng.Intn(20)),
			"health": rng.Float64() * 200,
			"energy": rng.Float64() * 40,
			"sanity": rng.Float64() * 80,
		}
	}
	return rows
}

func encodeArtifact(t *testing.T, a *Artifact) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, a); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestCodecRoundTrip(t *testing.T) {
	a := trainedArtifact(t)
	data := encodeArtifact(t, a)

	decoded, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Metadata() != a.Metadata() {
		t.Fatalf("metadata changed: %+v != %+v", decoded.Metadata(), a.Metadata())
	}
	if !reflect.DeepEqual(decoded.Features(), a.Features()) {
		t.Fatalf("features changed: %v", decoded.Features())
	}

	rows := append(featureRows(rarityTable(50)), randomRows(200)...)
	want, err := a.PredictBatch(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := decoded.PredictBatch(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatal("expected bit-identical predictions after round trip")
	}

	if again := encodeArtifact(t, decoded); !bytes.Equal(again, data) {
		t.Fatal("expected re-encoding to reproduce the same bytes")
	}
}

func TestSaveLoad(t *testing.T) {
	a := trainedArtifact(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "models", "model.mlab")

	if err := Save(path, a); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Overwrite to exercise replacing an existing file.
	if err := Save(path, a); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "model.mlab" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the artifact in the directory, got %v", names)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rows := randomRows(100)
	want, _ := a.PredictBatch(rows)
	got, err := loaded.PredictBatch(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatal("expected identical predictions after save and load")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.mlab"))
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestSaveUnwritableDestination(t *testing.T) {
	a := trainedArtifact(t)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := Save(filepath.Join(blocker, "model.mlab"), a)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	data := encodeArtifact(t, trainedArtifact(t))

	mutate := func(f func([]byte) []byte) []byte {
		return f(append([]byte(nil), data...))
	}
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "magic", data: mutate(func(b []byte) []byte { b[0] = 'X'; return b })},
		{name: "version", data: mutate(func(b []byte) []byte { b[4] = 9; return b })},
		{name: "flags", data: mutate(func(b []byte) []byte { b[6] = 0x80; return b })},
		{name: "truncated", data: data[:len(data)-1]},
		{name: "trailing", data: append(append([]byte(nil), data...), 0)},
		{name: "checksum", data: mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b })},
		{name: "not an artifact", data: []byte("joblib pickle that is not ours")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrCorruptArtifact) {
				t.Fatalf("expected ErrCorruptArtifact, got %v", err)
			}
		})
	}
}

// A flipped byte inside the compressed body can leave the decompressed body
// unchanged, so Decode must either reject the file or return an artifact that
// behaves exactly like the original.
func TestDecodeFlippedBytes(t *testing.T) {
	a := trainedArtifact(t)
	data := encodeArtifact(t, a)
	rows := randomRows(40)
	want, err := a.PredictBatch(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step := len(data)/97 + 1
	for pos := 0; pos < len(data); pos += step {
		corrupt := append([]byte(nil), data...)
		corrupt[pos] ^= 0x5a
		decoded, err := Decode(bytes.NewReader(corrupt))
		if err != nil {
			if !errors.Is(err, ErrCorruptArtifact) {
				t.Fatalf("byte %d: expected ErrCorruptArtifact, got %v", pos, err)
			}
			continue
		}
		if pos < headerSize || pos >= len(data)-checksumSize {
			t.Fatalf("byte %d: flipped header or checksum accepted", pos)
		}
		got, err := decoded.PredictBatch(rows)
		if err != nil {
			t.Fatalf("byte %d: unexpected error: %v", pos, err)
		}
		if !reflect.DeepEqual(got, want) || decoded.Metadata() != a.Metadata() {
			t.Fatalf("byte %d: accepted artifact differs from the original", pos)
		}
	}
}

func TestDecodeFlippedFraming(t *testing.T) {
	data := encodeArtifact(t, trainedArtifact(t))
	positions := []int{}
	for pos := 0; pos < headerSize; pos++ {
		positions = append(positions, pos)
	}
	for pos := len(data) - checksumSize; pos < len(data); pos++ {
		positions = append(positions, pos)
	}
	for _, pos := range positions {
		corrupt := append([]byte(nil), data...)
		corrupt[pos] ^= 0x5a
		if _, err := Decode(bytes.NewReader(corrupt)); !errors.Is(err, ErrCorruptArtifact) {
			t.Fatalf("byte %d: expected ErrCorruptArtifact, got %v", pos, err)
		}
	}
}

func TestDecodeOversizedBody(t *testing.T) {
	// A snappy stream announcing 2 GiB of output followed by a few literal bytes.
	body := binary.AppendUvarint(nil, 2<<30)
	body = append(body, 0, 'x')

	data := []byte(artifactMagic)
	data = binary.LittleEndian.AppendUint16(data, artifactVersion)
	data = append(data, flagSnappy)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(body)))
	data = append(data, body...)
	data = binary.LittleEndian.AppendUint64(data, 0)

	_, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, ErrCorruptArtifact) {
		t.Fatalf("expected ErrCorruptArtifact, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

// stubClassifier is a fitted classifier of a kind no decoder knows.
type stubClassifier struct{}

func (stubClassifier) Fit(context.Context, [][]float64, []string) error { return nil }
func (stubClassifier) Predict(x [][]float64) ([]string, error) { return make([]string, len(x)), nil }
func (stubClassifier) PredictProba(x [][]float64) ([][]float64, error) { return make([][]float64, len(x)), nil }
func (stubClassifier) Classes() []string { return []string{"only"} }
func (stubClassifier) NumFeatures() int { return 1 }
func (stubClassifier) Kind() string { return "unregistered" }
func (stubClassifier) MarshalBinary() ([]byte, error) { return []byte{1}, nil }
func (stubClassifier) UnmarshalBinary([]byte) error { return nil }

func TestDecodeUnknownClassifier(t *testing.T) {
	a, err := NewArtifact(stubClassifier{}, []string{"level"}, Metadata{ModelName: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = Decode(bytes.NewReader(encodeArtifact(t, a)))
	if !errors.Is(err, ErrCorruptArtifact) {
		t.Fatalf("expected ErrCorruptArtifact, got %v", err)
	}
}

func TestRegisterClassifier(t *testing.T) {
	RegisterClassifier("unregistered", func() Classifier { return stubClassifier{} })
	defer func() {
		registryMu.Lock()
		delete(registry, "unregistered")
		registryMu.Unlock()
	}()

	a, err := NewArtifact(stubClassifier{}, []string{"level"}, Metadata{ModelName: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := Decode(bytes.NewReader(encodeArtifact(t, a)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Kind() != "unregistered" {
		t.Fatalf("unexpected kind: %s", decoded.Kind())
	}
}
