package codec

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"

	"github.com/shelfdb/shelfdb/internal/dberr"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
)

func init() {
	gob.Register(int(0))
	gob.Register(float64(0.))
	gob.Register(string(""))
	gob.Register(bool(false))
	gob.Register([]byte{})

	Register("binary", func(path string) (Codec, error) {
		return &BinaryCodec{path: path}, nil
	})
	Register("binary-xz", func(path string) (Codec, error) {
		return &BinaryCodec{path: path, compress: true}, nil
	})
}

// BinaryCodec persists the database as a gob payload behind a fixed
// header: magic, format version, flags and a blake3 checksum of the
// payload as written. The "binary-xz" variant xz-compresses the
// payload; either variant reads both, the flags byte decides.
type BinaryCodec struct {
	path     string
	compress bool
}

var binaryMagic = [4]byte{'S', 'H', 'L', 'F'}

const (
	binaryVersion   = 1
	binaryFlagXZ    = 1 << 0
	binaryHeaderLen = 4 + 1 + 1 + 32
)

func (c *BinaryCodec) Exists() bool {
	info, err := os.Stat(c.path)
	return err == nil && info.Size() > 0
}

func (c *BinaryCodec) Load() ([]*TableDump, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil, dberr.NewCorruptDataError(c.path, "unreadable database file", err)
	}
	if len(raw) < binaryHeaderLen {
		return nil, dberr.NewCorruptDataError(c.path, "truncated header", nil)
	}
	if !bytes.Equal(raw[:4], binaryMagic[:]) {
		return nil, dberr.NewCorruptDataError(c.path, "bad magic bytes", nil)
	}
	if raw[4] != binaryVersion {
		return nil, dberr.NewCorruptDataError(c.path, "unsupported format version", nil)
	}
	flags := raw[5]

	payload := raw[binaryHeaderLen:]
	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:], raw[6:6+32]) {
		return nil, dberr.NewCorruptDataError(c.path, "checksum mismatch", nil)
	}

	var r io.Reader = bytes.NewReader(payload)
	if flags&binaryFlagXZ != 0 {
		if r, err = xz.NewReader(r); err != nil {
			return nil, dberr.NewCorruptDataError(c.path, "bad xz stream", err)
		}
	}

	dumps := []*TableDump{}
	if err := gob.NewDecoder(r).Decode(&dumps); err != nil {
		return nil, dberr.NewCorruptDataError(c.path, "malformed payload", err)
	}

	// nil column values are elided on save (gob cannot encode a nil
	// interface value); put them back
	for _, dump := range dumps {
		for _, row := range dump.Rows {
			for _, col := range dump.Columns {
				if _, ok := row[col.Name]; !ok {
					row[col.Name] = nil
				}
			}
		}
	}
	return dumps, nil
}

func (c *BinaryCodec) Save(dumps []*TableDump) error {
	dumps = elideNilValues(dumps)

	var payload bytes.Buffer
	var flags byte

	if c.compress {
		flags |= binaryFlagXZ
		xw, err := xz.NewWriter(&payload)
		if err != nil {
			return err
		}
		if err := gob.NewEncoder(xw).Encode(dumps); err != nil {
			return err
		}
		if err := xw.Close(); err != nil {
			return err
		}
	} else {
		if err := gob.NewEncoder(&payload).Encode(dumps); err != nil {
			return err
		}
	}

	sum := blake3.Sum256(payload.Bytes())

	var out bytes.Buffer
	out.Grow(binaryHeaderLen + payload.Len())
	out.Write(binaryMagic[:])
	out.WriteByte(binaryVersion)
	out.WriteByte(flags)
	out.Write(sum[:])
	out.Write(payload.Bytes())

	return atomicWriteFile(c.path, out.Bytes())
}

func (c *BinaryCodec) Close() error { return nil }

func elideNilValues(dumps []*TableDump) []*TableDump {
	out := make([]*TableDump, 0, len(dumps))
	for _, dump := range dumps {
		d := *dump
		d.Rows = make([]map[string]any, 0, len(dump.Rows))
		for _, row := range dump.Rows {
			r := make(map[string]any, len(row))
			for name, value := range row {
				if value != nil {
					r[name] = value
				}
			}
			d.Rows = append(d.Rows, r)
		}
		out = append(out, &d)
	}
	return out
}
