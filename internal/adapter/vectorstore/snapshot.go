package vectorstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"campusbot/internal/domain"
)

// CurrentSchemaVersion is the current snapshot format version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var indexMagic = []byte("CBVX")

// Snapshot is the persisted state of a store: the vectors and the
// documents at the same positions.
type Snapshot struct {
	Model string
	Index *FlatIndex // nil when no vector was ever added
	Docs  []domain.Document
}

// Snapshotter persists whole snapshots. Load returns (nil, nil) when nothing
// has been saved yet. When the vectors are unreadable but the documents are
// not, Load returns the documents along with an error wrapping
// ErrCorruptSnapshot so the caller can rebuild.
type Snapshotter interface {
	Load() (*Snapshot, error)
	Save(snap *Snapshot) error
	Close() error
}

type docLine struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// encodeIndexFile writes magic, schema version, model name, then the index.
func encodeIndexFile(model string, idx *FlatIndex) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(indexMagic)
	binary.Write(&buf, binary.LittleEndian, uint32(CurrentSchemaVersion))
	writeString(&buf, model)
	if idx == nil {
		buf.WriteByte(0)
		return buf.Bytes(), nil
	}
	buf.WriteByte(1)
	blob, err := idx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf.Write(blob)
	return buf.Bytes(), nil
}

func decodeIndexFile(data []byte) (string, *FlatIndex, error) {
	if len(data) < len(indexMagic)+4 || !bytes.Equal(data[:len(indexMagic)], indexMagic) {
		return "", nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	r := bytes.NewReader(data[len(indexMagic):])
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return "", nil, fmt.Errorf("%w: version: %v", ErrCorruptSnapshot, err)
	}
	if version != CurrentSchemaVersion {
		return "", nil, fmt.Errorf("%w: schema version %d, want %d", ErrCorruptSnapshot, version, CurrentSchemaVersion)
	}
	model, err := readString(r)
	if err != nil {
		return "", nil, fmt.Errorf("%w: model: %v", ErrCorruptSnapshot, err)
	}
	present, err := r.ReadByte()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if present == 0 {
		return model, nil, nil
	}
	rest, _ := io.ReadAll(r)
	idx := &FlatIndex{}
	if err := idx.UnmarshalBinary(rest); err != nil {
		return "", nil, err
	}
	return model, idx, nil
}

// encodeDocs writes one JSON object per line. JSON escapes newlines, so a
// record never spans lines.
func encodeDocs(docs []domain.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, d := range docs {
		if err := enc.Encode(docLine{ID: d.ID, Text: d.Text}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// decodeDocs parses a JSONL document file. Unparseable lines are skipped
// and reported through an ErrCorruptSnapshot error alongside the rest.
func decodeDocs(r io.Reader) ([]domain.Document, error) {
	var (
		docs []domain.Document
		bad  int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var dl docLine
		if err := json.Unmarshal(line, &dl); err != nil || dl.ID == "" {
			bad++
			continue
		}
		docs = append(docs, domain.Document{ID: dl.ID, Text: dl.Text})
	}
	if err := sc.Err(); err != nil {
		return docs, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if bad > 0 {
		return docs, fmt.Errorf("%w: %d unreadable document records", ErrCorruptSnapshot, bad)
	}
	return docs, nil
}
