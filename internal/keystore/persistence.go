package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// fileRecord is the on-disk shape: the records plus the insertion order and
// the alias table, so a round trip reproduces listing order and scoped
// token lookups.
type fileRecord struct {
	Records []*ApiKeyRecord   `json:"records"`
	Aliases map[string]string `json:"aliases,omitempty"`
}

// persistence owns the write-then-rename file protocol and the debounced
// background flush loop, grounded on the teacher's FileStore: a dirty flag
// flipped by every mutation, a ticker that skips the write entirely when
// nothing changed, and a lock held only long enough to snapshot references
// before the actual marshal/write happens outside it.
type persistence struct {
	path          string
	flushInterval time.Duration
	logger        zerolog.Logger

	mu    sync.Mutex
	dirty bool

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
}

func newPersistence(path string, flushInterval time.Duration, logger zerolog.Logger) (*persistence, error) {
	if path == "" {
		return nil, fmt.Errorf("keystore: persistence path must not be empty")
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("keystore: create state directory: %w", err)
	}
	return &persistence{
		path:          path,
		flushInterval: flushInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

func (p *persistence) markDirty() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
}

// load reads an existing state file, if any, and installs its records into
// s. A missing file is not an error, an empty file is not an error;
// corruption is logged and the store starts empty rather than failing to
// boot, matching the teacher's tolerant-load behavior.
func (p *persistence) load(s *KeyStore) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("keystore: read state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var fr fileRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return fmt.Errorf("keystore: state file is corrupt, starting empty: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range fr.Records {
		if record == nil || record.Key == "" {
			continue
		}
		backfillRecord(record)
		s.records[record.Key] = record
		s.order = append(s.order, record.Key)
	}
	if fr.Aliases != nil {
		s.aliases = fr.Aliases
	}
	return nil
}

// backfillRecord fills in zero-value maps/slices a schema change might
// have left nil on an older persisted record.
func backfillRecord(r *ApiKeyRecord) {
	if r.Tags == nil {
		r.Tags = make(map[string]string)
	}
}

// start launches the debounced background flush loop.
func (p *persistence) start(s *KeyStore) {
	p.ticker = time.NewTicker(p.flushInterval)
	go p.run(s)
}

func (p *persistence) run(s *KeyStore) {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.mu.Lock()
			if !p.dirty {
				p.mu.Unlock()
				continue
			}
			p.dirty = false
			p.mu.Unlock()

			if err := p.writeSnapshot(s); err != nil {
				p.logger.Error().Err(err).Str("path", p.path).Msg("keystore: periodic flush failed")
			}
		}
	}
}

// saveNow performs a synchronous flush regardless of the dirty flag,
// for explicit Save() calls and shutdown.
func (p *persistence) saveNow(s *KeyStore) error {
	p.mu.Lock()
	p.dirty = false
	p.mu.Unlock()
	return p.writeSnapshot(s)
}

// stop halts the flush loop and performs one final synchronous flush.
func (p *persistence) stop(s *KeyStore) error {
	close(p.stopCh)
	<-p.doneCh
	p.ticker.Stop()
	return p.writeSnapshot(s)
}

// writeSnapshot copies the current record set out of the store under a
// brief read lock, then performs the marshal and write-then-rename outside
// any lock so readers and writers are never blocked on disk I/O.
func (p *persistence) writeSnapshot(s *KeyStore) error {
	records := s.Snapshot()

	s.mu.RLock()
	aliases := make(map[string]string, len(s.aliases))
	for k, v := range s.aliases {
		aliases[k] = v
	}
	s.mu.RUnlock()

	fr := fileRecord{Records: records, Aliases: aliases}
	body, err := json.MarshalIndent(fr, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: marshal state: %w", err)
	}

	tmpPath := p.path + ".tmp"
	if err := os.WriteFile(tmpPath, body, 0600); err != nil {
		return fmt.Errorf("keystore: write temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: rename state file: %w", err)
	}
	_ = os.Chmod(p.path, 0600)
	return nil
}
