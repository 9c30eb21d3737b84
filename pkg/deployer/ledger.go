package deployer

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/haste-cluster/haste/pkg/herrors"
)

var (
	bucketBinaries = []byte("binaries")
	bucketBundles  = []byte("bundles")
)

// ledger records which binaries have completed the install step (so a
// retried Deploy RPC doesn't re-download or re-rename a binary that's
// already in place) and, per port, the SHA-256 of the last
// successfully-applied instance file bundle (so a repeated identical
// Deploy call skips rewriting files it already wrote). Grounded on
// cuemby-warren/pkg/storage/boltdb.go's bucket-per-concern pattern.
type ledger struct {
	db *bolt.DB
}

func openLedger(dataDir string) (*ledger, error) {
	dbPath := filepath.Join(dataDir, "deployer.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, herrors.FatalIO("open deployer ledger", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBinaries); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketBundles)
		return err
	})
	if err != nil {
		db.Close()
		return nil, herrors.FatalIO("create deployer ledger bucket", err)
	}

	return &ledger{db: db}, nil
}

func (l *ledger) Close() error {
	return l.db.Close()
}

type binaryRecord struct {
	Path      string `json:"path"`
	Installed bool   `json:"installed"`
}

func (l *ledger) markInstalled(kind, version, binaryName string) error {
	key := []byte(fmt.Sprintf("%s/%s/%s", kind, version, binaryName))
	rec := binaryRecord{Path: string(key), Installed: true}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBinaries).Put(key, data)
	})
}

func (l *ledger) isInstalled(kind, version, binaryName string) (bool, error) {
	key := []byte(fmt.Sprintf("%s/%s/%s", kind, version, binaryName))
	var rec binaryRecord
	found := false
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBinaries).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return false, err
	}
	return found && rec.Installed, nil
}

// bundleHash returns the last-recorded bundle hash for port, if any.
func (l *ledger) bundleHash(port int) (string, bool, error) {
	key := []byte(fmt.Sprintf("%d", port))
	var hash string
	found := false
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBundles).Get(key)
		if data == nil {
			return nil
		}
		found = true
		hash = string(data)
		return nil
	})
	return hash, found, err
}

// setBundleHash records hash as the last-applied bundle hash for port.
func (l *ledger) setBundleHash(port int, hash string) error {
	key := []byte(fmt.Sprintf("%d", port))
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBundles).Put(key, []byte(hash))
	})
}
