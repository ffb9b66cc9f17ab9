package sched

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/grailbio/base/errors"
	"modernc.org/kv"
)

// MtimeCache persists each asset's last-observed mtime across runs in an
// ordered on-disk store, so a resumed run can tell "nothing changed since
// last time" without re-walking ancestry from scratch. Grounded on
// kortschak-ins's forward.db/reverse.db usage of modernc.org/kv as a
// generic embedded key/value store; spec §4.H only requires a filesystem
// stat walk for correctness; this cache is a resume-time optimization and
// is advisory only (never trusted over the live os.Stat result).
type MtimeCache struct {
	db *kv.DB
}

// OpenMtimeCache opens (creating if absent) the mtime cache at path.
func OpenMtimeCache(path string) (*MtimeCache, error) {
	opts := &kv.Options{}
	db, err := kv.Open(path, opts)
	if err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			db, err = kv.Create(path, opts)
		}
		if err != nil {
			return nil, errors.E(err, "sched: opening mtime cache "+path)
		}
	}
	return &MtimeCache{db: db}, nil
}

// Close releases the underlying store.
func (c *MtimeCache) Close() error { return c.db.Close() }

// Put records assetID's mtime, in Unix nanoseconds.
func (c *MtimeCache) Put(assetID string, unixNano int64) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, unixNano); err != nil {
		return err
	}
	return c.db.Set([]byte(assetID), buf.Bytes())
}

// Get returns the previously recorded mtime for assetID, and false if none
// is on record.
func (c *MtimeCache) Get(assetID string) (int64, bool, error) {
	v, err := c.db.Get(nil, []byte(assetID))
	if err != nil {
		if err == io.EOF {
			return 0, false, nil
		}
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	var n int64
	if err := binary.Read(bytes.NewReader(v), binary.BigEndian, &n); err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// SyncFromDAG records every asset's current Mtime into the cache.
func (c *MtimeCache) SyncFromDAG(d *DAG) error {
	for _, a := range d.assets {
		if err := c.Put(a.ID, a.Mtime.UnixNano()); err != nil {
			return err
		}
	}
	return nil
}
