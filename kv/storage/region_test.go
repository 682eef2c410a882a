package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinysi/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegion(start, end string) *Region {
	return NewRegion(engine_util.NewMemEngine(), "t1", "r1", []byte(start), []byte(end), RegionOptions{})
}

func cell(qual string, ts uint64, val string) Cell {
	return Cell{Family: DefaultFamily, Qualifier: []byte(qual), Timestamp: ts, Value: []byte(val)}
}

func TestCellKeyOrder(t *testing.T) {
	ns := []byte("ns")
	cells := []Cell{
		{Row: []byte("b"), Family: DefaultFamily, Qualifier: []byte("0"), Timestamp: 1},
		{Row: []byte("a"), Family: DefaultFamily, Qualifier: []byte("7"), Timestamp: 5},
		{Row: []byte("a"), Family: DefaultFamily, Qualifier: []byte("7"), Timestamp: 9},
		{Row: []byte("a"), Family: DefaultFamily, Qualifier: []byte("0"), Timestamp: 2},
		{Row: []byte("a\x00"), Family: DefaultFamily, Qualifier: []byte("0"), Timestamp: 2},
	}
	SortCells(cells)
	for i := 1; i < len(cells); i++ {
		prev := encodeCellKey(ns, &cells[i-1])
		cur := encodeCellKey(ns, &cells[i])
		assert.True(t, string(prev) < string(cur), "%s should sort before %s", &cells[i-1], &cells[i])
	}
	var c Cell
	require.Nil(t, decodeCellKey(ns, encodeCellKey(ns, &cells[0]), &c))
	assert.Equal(t, cells[0].Row, c.Row)
	assert.Equal(t, cells[0].Qualifier, c.Qualifier)
	assert.Equal(t, cells[0].Timestamp, c.Timestamp)
	assert.NotNil(t, decodeCellKey([]byte("other"), encodeCellKey(ns, &cells[0]), &c))
}

func TestPrefixNext(t *testing.T) {
	assert.Equal(t, []byte{1, 3}, prefixNext([]byte{1, 2}))
	assert.Equal(t, []byte{2}, prefixNext([]byte{1, 0xff}))
	assert.Equal(t, []byte{0xff, 0xff, 0}, prefixNext([]byte{0xff, 0xff}))
}

func TestRegionPutGet(t *testing.T) {
	r := newTestRegion("", "")
	row := []byte("row1")
	require.Nil(t, r.Put(row, []Cell{cell("7", 10, "v10"), cell("7", 20, "v20"), cell("0", 10, "15")}))

	res, err := r.Get(row, nil)
	require.Nil(t, err)
	require.Len(t, res.Cells, 3)
	assert.Equal(t, uint64(10), res.Cells[0].Timestamp)
	assert.Equal(t, uint64(20), res.Cells[1].Timestamp)
	assert.Equal(t, []byte("v10"), res.Cells[2].Value)
	assert.Equal(t, []byte("v20"), res.Latest(DefaultFamily, PackedQualifier).Value)
	assert.Len(t, res.Versions(DefaultFamily, PackedQualifier), 2)

	res, err = r.GetLatest(row, res)
	require.Nil(t, err)
	require.Len(t, res.Cells, 2)
	assert.Equal(t, []byte("v20"), res.Cells[1].Value)

	res, err = r.Get([]byte("row2"), nil)
	require.Nil(t, err)
	assert.True(t, res.IsEmpty())
	assert.Equal(t, int64(3), r.ReadsRequested())
	assert.Equal(t, int64(1), r.WritesRequested())
}

func TestRegionTablesShareEngine(t *testing.T) {
	engine := engine_util.NewMemEngine()
	r1 := NewRegion(engine, "t1", "r1", nil, nil, RegionOptions{})
	r2 := NewRegion(engine, "t2", "r1", nil, nil, RegionOptions{})
	require.Nil(t, r1.Put([]byte("a"), []Cell{cell("7", 1, "t1")}))
	require.Nil(t, r2.Put([]byte("a"), []Cell{cell("7", 1, "t2")}))

	res, err := r1.Get([]byte("a"), nil)
	require.Nil(t, err)
	require.Len(t, res.Cells, 1)
	assert.Equal(t, []byte("t1"), res.Cells[0].Value)

	require.Nil(t, r2.Delete([]byte("a"), nil))
	res, err = r2.Get([]byte("a"), nil)
	require.Nil(t, err)
	assert.True(t, res.IsEmpty())
	res, err = r1.Get([]byte("a"), nil)
	require.Nil(t, err)
	assert.Len(t, res.Cells, 1)
}

func TestRegionDeleteVersion(t *testing.T) {
	r := newTestRegion("", "")
	row := []byte("row")
	require.Nil(t, r.Put(row, []Cell{cell("7", 1, "a"), cell("7", 2, "b"), cell("1", 2, "")}))
	require.Nil(t, r.Delete(row, []Cell{cell("7", 2, "")}))
	res, err := r.Get(row, nil)
	require.Nil(t, err)
	require.Len(t, res.Cells, 2)
	assert.True(t, res.Cells[0].IsTombstone())
	assert.Equal(t, uint64(1), res.Cells[1].Timestamp)
}

func TestRegionWrongRegion(t *testing.T) {
	r := newTestRegion("b", "d")
	assert.True(t, r.ContainsRow([]byte("b")))
	assert.True(t, r.ContainsRow([]byte("c")))
	assert.False(t, r.ContainsRow([]byte("d")))
	assert.False(t, r.ContainsRow([]byte("a")))
	assert.True(t, r.ContainsRange([]byte("b"), []byte("c")))
	assert.False(t, r.ContainsRange([]byte("b"), nil))

	err := r.Put([]byte("e"), []Cell{cell("7", 1, "x")})
	assert.True(t, IsWrongRegion(err))
	_, err = r.GetRowLock(context.Background(), []byte("a"))
	assert.True(t, IsWrongRegion(err))

	statuses, err := r.WriteBatch([]*Mutation{
		{Row: []byte("c"), Puts: []Cell{cell("7", 1, "x")}},
		{Row: []byte("d"), Puts: []Cell{cell("7", 1, "y")}},
	})
	require.Nil(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].IsSuccess())
	assert.Equal(t, StatusWrongRegion, statuses[1].Code)
}

func TestRegionClosed(t *testing.T) {
	r := newTestRegion("", "")
	r.SetClosing()
	assert.True(t, r.IsClosing())
	assert.Equal(t, ErrNotServingRegion, r.StartOperation(context.Background()))
	assert.Equal(t, ErrNotServingRegion, r.Put([]byte("a"), []Cell{cell("7", 1, "x")}))
	// Reads still work while closing.
	_, err := r.Get([]byte("a"), nil)
	assert.Nil(t, err)

	require.Nil(t, r.Close())
	assert.True(t, r.IsClosed())
	_, err = r.Get([]byte("a"), nil)
	assert.Equal(t, ErrNotServingRegion, err)
	statuses, err := r.WriteBatch([]*Mutation{{Row: []byte("a")}, {Row: []byte("b")}})
	require.Nil(t, err)
	for _, s := range statuses {
		assert.Equal(t, StatusNotServing, s.Code)
	}
	_, err = r.OpenScanner(&Scan{})
	assert.Equal(t, ErrNotServingRegion, err)
}

func TestRegionCloseWaitsForOperations(t *testing.T) {
	r := newTestRegion("", "")
	require.Nil(t, r.StartOperation(context.Background()))
	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("close returned with an operation in flight")
	case <-time.After(20 * time.Millisecond):
	}
	r.CloseOperation()
	<-closed
	assert.True(t, r.IsClosed())
}

func TestRegionStartOperation(t *testing.T) {
	r := newTestRegion("", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, ErrInterrupted, r.StartOperation(ctx))

	busy := NewRegion(engine_util.NewMemEngine(), "t1", "r1", nil, nil, RegionOptions{AdmissionRate: 1, AdmissionBurst: 1})
	require.Nil(t, busy.StartOperation(context.Background()))
	busy.CloseOperation()
	err := busy.StartOperation(context.Background())
	assert.Equal(t, ErrRegionTooBusy, err)
	assert.True(t, IsRegionUnavailable(err))
}

func TestRegionRowLock(t *testing.T) {
	r := newTestRegion("", "")
	lock, err := r.GetRowLock(context.Background(), []byte("a"))
	require.Nil(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.GetRowLock(ctx, []byte("a"))
	assert.Equal(t, ErrInterrupted, err)

	other, err := r.GetRowLock(context.Background(), []byte("b"))
	require.Nil(t, err)
	other.Release()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l, err := r.GetRowLock(context.Background(), []byte("a"))
		if assert.Nil(t, err) {
			l.Release()
		}
	}()
	lock.Release()
	wg.Wait()
}

func TestRegionIncrement(t *testing.T) {
	r := newTestRegion("", "")
	row, qual := []byte("counter"), []byte("c")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Increment(row, DefaultFamily, qual, 2)
			assert.Nil(t, err)
		}()
	}
	wg.Wait()
	v, err := r.Increment(row, DefaultFamily, qual, -1)
	require.Nil(t, err)
	assert.Equal(t, int64(19), v)
}

func TestRegionSplit(t *testing.T) {
	r := newTestRegion("", "")
	for _, row := range []string{"a", "b", "c", "d"} {
		require.Nil(t, r.Put([]byte(row), []Cell{cell("7", 1, row)}))
	}
	cuts, err := r.CutPoints(2)
	require.Nil(t, err)
	require.Len(t, cuts, 1)
	assert.Equal(t, []byte("c"), cuts[0])

	daughter, err := r.Split(cuts[0], "r2")
	require.Nil(t, err)
	assert.Equal(t, []byte("c"), r.EndKey())
	assert.Equal(t, []byte("c"), daughter.StartKey())
	assert.True(t, IsWrongRegion(r.Put([]byte("c"), []Cell{cell("7", 2, "x")})))

	res, err := daughter.Get([]byte("d"), nil)
	require.Nil(t, err)
	assert.Len(t, res.Cells, 1)

	_, err = r.Split([]byte("z"), "r3")
	assert.NotNil(t, err)
}

type skipRowsFilter struct {
	skip  string
	cells int
}

func (f *skipRowsFilter) FilterRowKey(row []byte) bool { return string(row) == f.skip }

func (f *skipRowsFilter) FilterCell(c *Cell) (ReturnCode, error) {
	f.cells++
	if string(c.Qualifier) == "0" {
		return NextCol, nil
	}
	return IncludeAndNextCol, nil
}

func (f *skipRowsFilter) FilterRow() bool { return f.cells == 0 }

func (f *skipRowsFilter) Reset() { f.cells = 0 }

func TestRegionScanner(t *testing.T) {
	r := newTestRegion("b", "")
	for _, row := range []string{"b", "c", "d", "e"} {
		require.Nil(t, r.Put([]byte(row), []Cell{cell("0", 1, "1"), cell("7", 1, row+"1"), cell("7", 2, row+"2")}))
	}

	metrics := new(ScanMetrics)
	s, err := r.OpenScannerWithMetrics(&Scan{StartRow: []byte("a"), StopRow: []byte("e"), Filter: &skipRowsFilter{skip: "c"}}, metrics)
	require.Nil(t, err)
	defer s.Close()
	var rows []string
	for {
		res, err := s.Next()
		require.Nil(t, err)
		if res == nil {
			break
		}
		require.Len(t, res.Cells, 1)
		assert.Equal(t, []byte(string(res.Row)+"2"), res.Cells[0].Value)
		rows = append(rows, string(res.Row))
	}
	assert.Equal(t, []string{"b", "d"}, rows)
	assert.Equal(t, int64(3), metrics.RowsVisited.Load())
	assert.Equal(t, int64(1), metrics.RowsFiltered.Load())
	assert.Equal(t, int64(2), metrics.RowsOutput())

	s2, err := r.OpenScanner(&Scan{Limit: 3})
	require.Nil(t, err)
	defer s2.Close()
	n := 0
	for {
		res, err := s2.Next()
		require.Nil(t, err)
		if res == nil {
			break
		}
		assert.Len(t, res.Cells, 3)
		n++
	}
	assert.Equal(t, 3, n)
}
