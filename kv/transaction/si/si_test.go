package si

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap-incubator/tinysi/kv/util/engine_util"
	"github.com/pingcap-incubator/tinysi/kv/util/rowcodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCluster struct {
	ctx        context.Context
	store      *txn.Store
	supplier   *txn.CachedSupplier
	region     *storage.Region
	transactor *Transactor
}

func newTestCluster(t *testing.T) *testCluster {
	conf := config.NewTestConfig()
	conf.Txn.KeepAliveTimeout = config.NewDuration(time.Minute)
	txnRegion := storage.NewRegion(engine_util.NewMemEngine(), "TXN", "txn-1", nil, nil, storage.RegionOptions{})
	tso, err := txn.NewTSO(nil, nil)
	require.Nil(t, err)
	store := txn.NewStore(txnRegion, tso, &conf.Txn)
	supplier := txn.NewCachedSupplier(store, conf.Txn.SupplierCacheSize)
	region := storage.NewRegion(engine_util.NewMemEngine(), "t1", "t1-1", nil, nil, storage.RegionOptions{})
	return &testCluster{
		ctx:        context.Background(),
		store:      store,
		supplier:   supplier,
		region:     region,
		transactor: NewTransactor(supplier, store, nil),
	}
}

func (tc *testCluster) begin(t *testing.T) *txn.Txn {
	tx, err := tc.store.Begin(tc.ctx, txn.SnapshotIsolation)
	require.Nil(t, err)
	return tx
}

func (tc *testCluster) commit(t *testing.T, tx *txn.Txn) {
	_, err := tc.store.Commit(tc.ctx, tx.TxnID())
	require.Nil(t, err)
}

func (tc *testCluster) write(t *testing.T, tx txn.TxnView, pairs ...*KVPair) []error {
	results, err := tc.transactor.ProcessKvBatch(tc.ctx, tc.region, tx, pairs)
	require.Nil(t, err)
	require.Len(t, results, len(pairs))
	return results
}

// read returns the visible packed value of row, nil when the row is absent.
func (tc *testCluster) read(t *testing.T, reader txn.TxnView, row string) []byte {
	res, err := tc.region.Get([]byte(row), nil)
	require.Nil(t, err)
	visible, err := NewTxnFilter(tc.ctx, reader, tc.supplier, nil).Visible(res)
	require.Nil(t, err)
	if c := visible.Latest(storage.DefaultFamily, storage.PackedQualifier); c != nil {
		return c.Value
	}
	return nil
}

var testColIDs = []int64{1, 2}

func packRow(t *testing.T, values ...interface{}) []byte {
	var enc rowcodec.Encoder
	var ids []int64
	datums := rowcodec.MakeDatums(values...)
	for i := range datums {
		ids = append(ids, testColIDs[i])
	}
	b, err := enc.Encode(ids, datums, nil)
	require.Nil(t, err)
	return b
}

func insert(row string, value []byte) *KVPair {
	return &KVPair{RowKey: []byte(row), Value: value, Type: Insert}
}

func noErrors(t *testing.T, results []error) {
	for i, err := range results {
		assert.Nil(t, err, "pair %d", i)
	}
}

func TestSnapshotVisibility(t *testing.T) {
	tc := newTestCluster(t)
	writer := tc.begin(t)
	early := tc.begin(t)
	noErrors(t, tc.write(t, writer, insert("a", packRow(t, int64(1), "one"))))

	assert.NotNil(t, tc.read(t, writer, "a"))
	assert.Nil(t, tc.read(t, early, "a"))

	tc.commit(t, writer)
	late := tc.begin(t)
	assert.Nil(t, tc.read(t, early, "a"), "committed after the reader began")
	assert.Equal(t, packRow(t, int64(1), "one"), tc.read(t, late, "a"))

	loaded, err := tc.store.Load(tc.ctx, writer.TxnID())
	require.Nil(t, err)
	assert.Equal(t, []string{"t1"}, loaded.DestinationTables())
}

func TestOneVersionPerColumn(t *testing.T) {
	tc := newTestCluster(t)
	for i := 0; i < 3; i++ {
		w := tc.begin(t)
		noErrors(t, tc.write(t, w, &KVPair{RowKey: []byte("a"), Value: packRow(t, int64(i)), Type: Upsert}))
		tc.commit(t, w)
	}
	reader := tc.begin(t)
	res, err := tc.region.Get([]byte("a"), nil)
	require.Nil(t, err)
	assert.Len(t, res.Cells, 3)
	visible, err := NewTxnFilter(tc.ctx, reader, tc.supplier, nil).Visible(res)
	require.Nil(t, err)
	require.Len(t, visible.Cells, 1)
	datums, err := rowcodec.NewDecoder(testColIDs[:1]).Decode(visible.Cells[0].Value, nil)
	require.Nil(t, err)
	assert.Equal(t, int64(2), datums[0].GetInt64())
}

func TestWriteConflict(t *testing.T) {
	tc := newTestCluster(t)
	t1 := tc.begin(t)
	t2 := tc.begin(t)
	noErrors(t, tc.write(t, t1, insert("a", packRow(t, int64(1)))))

	results := tc.write(t, t2, &KVPair{RowKey: []byte("a"), Value: packRow(t, int64(2)), Type: Upsert}, insert("b", packRow(t, int64(3))))
	assert.True(t, txn.IsWriteConflict(results[0]))
	assert.Nil(t, results[1])

	// A concurrent writer that committed after t2 began still conflicts.
	tc.commit(t, t1)
	results = tc.write(t, t2, &KVPair{RowKey: []byte("a"), Type: EmptyColumn})
	assert.True(t, txn.IsWriteConflict(results[0]))

	// Rolled back writers never conflict.
	t3 := tc.begin(t)
	noErrors(t, tc.write(t, t3, insert("c", packRow(t, int64(1)))))
	require.Nil(t, tc.store.Rollback(tc.ctx, t3.TxnID()))
	t4 := tc.begin(t)
	noErrors(t, tc.write(t, t4, insert("c", packRow(t, int64(2)))))
}

func TestAdditiveWritersDoNotConflict(t *testing.T) {
	tc := newTestCluster(t)
	root := tc.begin(t)
	a, err := tc.store.BeginChild(tc.ctx, root, true)
	require.Nil(t, err)
	b, err := tc.store.BeginChild(tc.ctx, root, true)
	require.Nil(t, err)
	noErrors(t, tc.write(t, a, insert("a", packRow(t, int64(1)))))
	noErrors(t, tc.write(t, b, &KVPair{RowKey: []byte("a"), Value: packRow(t, int64(2)), Type: Upsert}))
}

func TestRowConstraints(t *testing.T) {
	tc := newTestCluster(t)
	w := tc.begin(t)
	results := tc.write(t, w,
		insert("a", packRow(t, int64(1), "x")),
		insert("a", packRow(t, int64(1), "y")),
		&KVPair{RowKey: []byte("b"), Value: packRow(t, int64(2)), Type: Update},
		&KVPair{RowKey: []byte("c"), Type: Delete},
	)
	assert.Nil(t, results[0])
	assert.True(t, IsUniqueViolation(results[1]))
	assert.Equal(t, ErrRowNotFound, results[2])
	assert.Nil(t, results[3], "deleting an absent row is a no-op")

	res, err := tc.region.Get([]byte("c"), nil)
	require.Nil(t, err)
	assert.True(t, res.IsEmpty())

	// An update only carries the changed columns.
	var enc rowcodec.Encoder
	update, err := enc.Encode([]int64{2}, rowcodec.MakeDatums("z"), nil)
	require.Nil(t, err)
	noErrors(t, tc.write(t, w, &KVPair{RowKey: []byte("a"), Value: update, Type: Update}))
	datums, err := rowcodec.NewDecoder(testColIDs).Decode(tc.read(t, w, "a"), nil)
	require.Nil(t, err)
	assert.Equal(t, int64(1), datums[0].GetInt64())
	assert.Equal(t, "z", datums[1].GetString())
}

func TestTombstones(t *testing.T) {
	tc := newTestCluster(t)
	w := tc.begin(t)
	noErrors(t, tc.write(t, w, insert("a", packRow(t, int64(1)))))
	tc.commit(t, w)

	d := tc.begin(t)
	noErrors(t, tc.write(t, d, &KVPair{RowKey: []byte("a"), Type: Delete}))
	assert.Nil(t, tc.read(t, d, "a"))
	// Deleting again in the same transaction finds nothing to delete.
	noErrors(t, tc.write(t, d, &KVPair{RowKey: []byte("a"), Type: Delete}))

	// Insert after delete in the same transaction writes an anti-tombstone.
	noErrors(t, tc.write(t, d, insert("a", packRow(t, int64(2)))))
	res, err := tc.region.Get([]byte("a"), nil)
	require.Nil(t, err)
	c := res.Latest(storage.DefaultFamily, storage.TombstoneQualifier)
	require.NotNil(t, c)
	assert.True(t, c.IsAntiTombstone())
	assert.Equal(t, packRow(t, int64(2)), tc.read(t, d, "a"))
	tc.commit(t, d)

	assert.Equal(t, packRow(t, int64(2)), tc.read(t, tc.begin(t), "a"))

	// A committed delete hides every older version.
	d2 := tc.begin(t)
	noErrors(t, tc.write(t, d2, &KVPair{RowKey: []byte("a"), Type: Delete}))
	tc.commit(t, d2)
	assert.Nil(t, tc.read(t, tc.begin(t), "a"))
}

func TestInactiveWriter(t *testing.T) {
	tc := newTestCluster(t)
	_, err := tc.transactor.ProcessKvBatch(tc.ctx, tc.region, nil, nil)
	assert.NotNil(t, err)

	w := tc.begin(t)
	tc.commit(t, w)
	loaded, err := tc.store.Load(tc.ctx, w.TxnID())
	require.Nil(t, err)
	_, err = tc.transactor.ProcessKvBatch(tc.ctx, tc.region, loaded, []*KVPair{insert("a", nil)})
	assert.NotNil(t, err)
}

func TestWrongRegion(t *testing.T) {
	tc := newTestCluster(t)
	tc.region = storage.NewRegion(engine_util.NewMemEngine(), "t1", "t1-1", nil, []byte("m"), storage.RegionOptions{})
	w := tc.begin(t)
	results := tc.write(t, w, insert("a", packRow(t, int64(1))), insert("z", packRow(t, int64(1))))
	assert.Nil(t, results[0])
	assert.True(t, storage.IsWrongRegion(results[1]))
}

func TestReadResolver(t *testing.T) {
	tc := newTestCluster(t)
	resolver := NewReadResolver(tc.region, 16)
	resolver.Start()

	committedTxn := tc.begin(t)
	noErrors(t, tc.write(t, committedTxn, insert("a", packRow(t, int64(1)))))
	tc.commit(t, committedTxn)
	abortedTxn := tc.begin(t)
	noErrors(t, tc.write(t, abortedTxn, insert("b", packRow(t, int64(1)))))
	require.Nil(t, tc.store.Rollback(tc.ctx, abortedTxn.TxnID()))

	reader := tc.begin(t)
	for _, row := range []string{"a", "b"} {
		res, err := tc.region.Get([]byte(row), nil)
		require.Nil(t, err)
		_, err = NewTxnFilter(tc.ctx, reader, tc.supplier, resolver).Visible(res)
		require.Nil(t, err)
	}
	resolver.Stop()

	res, err := tc.region.Get([]byte("a"), nil)
	require.Nil(t, err)
	marker := res.Latest(storage.DefaultFamily, storage.CommitTimestampQualifier)
	require.NotNil(t, marker)
	assert.Equal(t, committedTxn.TxnID(), marker.Timestamp)
	loaded, err := tc.store.Load(tc.ctx, committedTxn.TxnID())
	require.Nil(t, err)
	commitTS, ok := decodeCommitTS(marker.Value)
	require.True(t, ok)
	assert.Equal(t, loaded.EffectiveCommitTS(), commitTS)

	res, err = tc.region.Get([]byte("b"), nil)
	require.Nil(t, err)
	assert.True(t, res.IsEmpty())

	// The marker alone is enough to decide visibility.
	assert.NotNil(t, tc.read(t, tc.begin(t), "a"))
}

func TestUnknownWriter(t *testing.T) {
	tc := newTestCluster(t)
	require.Nil(t, tc.region.Put([]byte("a"), []storage.Cell{{
		Family: storage.DefaultFamily, Qualifier: storage.PackedQualifier, Timestamp: 12345, Value: packRow(t, int64(1)),
	}}))
	assert.Nil(t, tc.read(t, tc.begin(t), "a"))
}

func TestTableScanner(t *testing.T) {
	tc := newTestCluster(t)
	keys, err := rowcodec.NewKeyStrategy(rowcodec.FixedPrefix)
	require.Nil(t, err)
	layout := &TableLayout{
		Keys:    keys,
		KeySpec: &rowcodec.KeySpec{Prefix: []byte("t1"), Columns: []int{0}},
		ColIDs:  testColIDs,
		Kinds:   []rowcodec.Kind{rowcodec.KindInt64, rowcodec.KindString},
	}
	rows := [][]rowcodec.Datum{
		rowcodec.MakeDatums(int64(1), "one"),
		rowcodec.MakeDatums(int64(2), nil),
		rowcodec.MakeDatums(int64(3), "three"),
	}
	w := tc.begin(t)
	var enc rowcodec.Encoder
	var pairs []*KVPair
	for _, row := range rows {
		value, err := enc.Encode([]int64{2}, row[1:], nil)
		require.Nil(t, err)
		pairs = append(pairs, insert(string(rowcodec.EncodeRowKey(keys, row, layout.KeySpec)), value))
	}
	noErrors(t, tc.write(t, w, pairs...))
	noErrors(t, tc.write(t, w, &KVPair{RowKey: pairs[1].RowKey, Type: Delete}))
	tc.commit(t, w)

	scanner, err := NewTableScanner(tc.ctx, tc.region, tc.begin(t), tc.supplier, nil, layout, nil, nil, nil)
	require.Nil(t, err)
	defer scanner.Close()
	var got []*Row
	for {
		row, err := scanner.Next()
		require.Nil(t, err)
		if row == nil {
			break
		}
		got = append(got, row)
	}
	require.Len(t, got, 2)
	for i, want := range []int{0, 2} {
		require.Len(t, got[i].Datum, 2)
		for j := range rows[want] {
			assert.True(t, rows[want][j].Equal(got[i].Datum[j]), "row %d column %d", want, j)
		}
	}
	m := scanner.Metrics()
	assert.Equal(t, int64(3), m.RowsVisited.Load())
	assert.Equal(t, int64(2), m.RowsOutput())
}
