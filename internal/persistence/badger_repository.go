package persistence

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"spread-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// badgerRepository is the BadgerDB implementation of the GridRepository.
// Every grid is stored as one JSON value under grid:<strategy>:<direction>:<id>.
type badgerRepository struct {
	db     *badger.DB
	prefix []byte
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath, strategy string) (GridRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger 自身的日志关闭，错误仍然通过返回值暴露
	opts.Logger = nil
	return openBadger(opts, strategy)
}

// NewInMemoryRepository opens a badger instance that lives only in memory.
func NewInMemoryRepository(strategy string) (GridRepository, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts, strategy)
}

func openBadger(opts badger.Options, strategy string) (GridRepository, error) {
	// 策略名是键前缀的一段，含分隔符会与其他策略的键重叠
	if strings.Contains(strategy, ":") {
		return nil, errors.Errorf("strategy name must not contain ':': %q", strategy)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &badgerRepository{
		db:     db,
		prefix: []byte("grid:" + strategy + ":"),
	}, nil
}

func (r *badgerRepository) dirPrefix(dir models.GridDirection) []byte {
	return append(append([]byte{}, r.prefix...), []byte(string(dir)+":")...)
}

func (r *badgerRepository) key(g *models.Grid) []byte {
	return append(r.dirPrefix(g.Direction), []byte(g.ID)...)
}

// Save writes all grids and removes stale keys in one transaction.
func (r *badgerRepository) Save(up, down []*models.Grid) error {
	wanted := make(map[string]struct{}, len(up)+len(down))
	return r.db.Update(func(txn *badger.Txn) error {
		for _, list := range [][]*models.Grid{up, down} {
			for _, g := range list {
				data, err := json.Marshal(g)
				if err != nil {
					return errors.Wrapf(err, "marshal grid %s", g.ID)
				}
				k := r.key(g)
				wanted[string(k)] = struct{}{}
				if err := txn.Set(k, data); err != nil {
					return errors.Wrapf(err, "set grid %s", g.ID)
				}
			}
		}

		// 删除已经从网格表移除的网格，只扫描本策略两个方向的键
		var stale [][]byte
		for _, dir := range []models.GridDirection{models.GridShort, models.GridLong} {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: r.dirPrefix(dir)})
			for it.Rewind(); it.Valid(); it.Next() {
				k := it.Item().KeyCopy(nil)
				if _, ok := wanted[string(k)]; !ok {
					stale = append(stale, k)
				}
			}
			it.Close()
		}
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return errors.Wrapf(err, "delete %s", k)
			}
		}
		return nil
	})
}

// Load reads the grids of one direction.
func (r *badgerRepository) Load(dir models.GridDirection, filter StatusFilter) ([]*models.Grid, error) {
	grids := make([]*models.Grid, 0)
	prefix := r.dirPrefix(dir)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				if len(bytes.TrimSpace(val)) == 0 {
					return errors.Errorf("grid value is empty in database: %s", item.Key())
				}
				g := &models.Grid{}
				if err := json.Unmarshal(val, g); err != nil {
					return err
				}
				if filter.Match(g) {
					grids = append(grids, g)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load %s grids", dir)
	}

	// 按开仓价排序，保证网格表顺序稳定
	sort.SliceStable(grids, func(i, j int) bool { return grids[i].OpenPrice < grids[j].OpenPrice })
	return grids, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
