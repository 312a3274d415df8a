package ir

import (
	"encoding/binary"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/xbl2022/VTIL-Core/common"
)

// PathCacheStore persists a routine's explored reachability paths to disk,
// keyed by routine identity plus a (src VIP, dst VIP) pair, so a long-lived
// analysis tool doesn't re-run routine::explore_paths's DFS every time it
// loads the same routine. Backed by goleveldb, the embedded key-value store
// go-ethereum itself uses for chain data; VTIL's path cache has the same
// shape (a flat, high-churn key space with no need for a full RDBMS).
type PathCacheStore struct {
	db *leveldb.DB
}

// OpenPathCacheStore opens (creating if absent) a path cache database at
// dir.
func OpenPathCacheStore(dir string) (*PathCacheStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &PathCacheStore{db: db}, nil
}

func (s *PathCacheStore) Close() error { return s.db.Close() }

func pathCacheKey(routineID uuid.UUID, src, dst uint64) []byte {
	return keyFor(routineID[:], src, dst)
}

func keyFor(identity []byte, src, dst uint64) []byte {
	key := make([]byte, len(identity)+16)
	copy(key, identity)
	binary.BigEndian.PutUint64(key[len(identity):], src)
	binary.BigEndian.PutUint64(key[len(identity)+8:], dst)
	return key
}

// Store persists the VIPs of every block lying on some path from src to
// dst.
func (s *PathCacheStore) Store(routineID uuid.UUID, src, dst uint64, onPath []uint64) error {
	data, err := json.Marshal(onPath)
	if err != nil {
		return err
	}
	return s.db.Put(pathCacheKey(routineID, src, dst), data, nil)
}

// Load returns the previously stored path, or ok=false if this routine/
// src/dst combination was never persisted.
func (s *PathCacheStore) Load(routineID uuid.UUID, src, dst uint64) (onPath []uint64, ok bool, err error) {
	data, err := s.db.Get(pathCacheKey(routineID, src, dst), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(data, &onPath); err != nil {
		return nil, false, err
	}
	return onPath, true, nil
}

// StoreByContent is Store keyed by a routine's ContentHash instead of its
// process-local ID, so the entry can be found again after a process
// restart rebuilds an equivalent routine from scratch.
func (s *PathCacheStore) StoreByContent(h common.Hash, src, dst uint64, onPath []uint64) error {
	data, err := json.Marshal(onPath)
	if err != nil {
		return err
	}
	return s.db.Put(keyFor(h.Bytes(), src, dst), data, nil)
}

// LoadByContent is Load keyed by ContentHash; see StoreByContent.
func (s *PathCacheStore) LoadByContent(h common.Hash, src, dst uint64) (onPath []uint64, ok bool, err error) {
	data, err := s.db.Get(keyFor(h.Bytes(), src, dst), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal(data, &onPath); err != nil {
		return nil, false, err
	}
	return onPath, true, nil
}

// PersistPathsByContent is PersistPaths keyed by ContentHash rather than ID.
func (r *Routine) PersistPathsByContent(store *PathCacheStore) error {
	h := r.ContentHash()
	r.mu.Lock()
	defer r.mu.Unlock()
	for src, byDst := range r.paths.entries {
		for dst, set := range byDst {
			vips := make([]uint64, 0, len(set))
			for blk := range set {
				vips = append(vips, blk.EntryVIP)
			}
			if err := store.StoreByContent(h, src.EntryVIP, dst.EntryVIP, vips); err != nil {
				return err
			}
		}
	}
	return nil
}

// WarmPathByContent is WarmPath keyed by ContentHash rather than ID: useful
// when the routine in hand was freshly rebuilt (a new ID) but is known to
// describe the same program as whatever last persisted its paths.
func (r *Routine) WarmPathByContent(store *PathCacheStore, src, dst *BasicBlock) (bool, error) {
	h := r.ContentHash()
	vips, ok, err := store.LoadByContent(h, src.EntryVIP, dst.EntryVIP)
	if err != nil || !ok {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[*BasicBlock]struct{}, len(vips))
	for _, vip := range vips {
		if blk, ok := r.exploredBlocks[vip]; ok {
			set[blk] = struct{}{}
		}
	}
	r.paths.put(src, dst, set)
	return true, nil
}

// PersistPaths dumps every path currently held in the routine's in-memory
// cache into store, keyed under the routine's own ID. Call after a batch
// of GetPath/HasPath queries to make their results reusable across a
// process restart against the same routine.
func (r *Routine) PersistPaths(store *PathCacheStore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for src, byDst := range r.paths.entries {
		for dst, set := range byDst {
			vips := make([]uint64, 0, len(set))
			for blk := range set {
				vips = append(vips, blk.EntryVIP)
			}
			if err := store.Store(r.ID, src.EntryVIP, dst.EntryVIP, vips); err != nil {
				return err
			}
		}
	}
	return nil
}

// WarmPath loads a previously persisted path for (src, dst) from store into
// the in-memory cache, translating stored VIPs back into this routine's
// live block pointers. Returns false if nothing was persisted for this
// pair, in which case a caller should fall back to Routine.GetPath's normal
// on-demand exploration.
func (r *Routine) WarmPath(store *PathCacheStore, src, dst *BasicBlock) (bool, error) {
	vips, ok, err := store.Load(r.ID, src.EntryVIP, dst.EntryVIP)
	if err != nil || !ok {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[*BasicBlock]struct{}, len(vips))
	for _, vip := range vips {
		if blk, ok := r.exploredBlocks[vip]; ok {
			set[blk] = struct{}{}
		}
	}
	r.paths.put(src, dst, set)
	return true, nil
}
