package storage

import (
	"bytes"

	"github.com/pingcap-incubator/tinysi/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// regionScanner walks the cells of a region in scan order and groups them into rows.
type regionScanner struct {
	region  *Region
	it      engine_util.DBIterator
	filter  CellFilter
	limit   int
	stop    []byte
	metrics *ScanMetrics

	rows   int
	done   bool
	closed bool
}

func (s *regionScanner) Next() (*Result, error) {
	for !s.done {
		if s.limit > 0 && s.rows >= s.limit {
			s.done = true
			break
		}
		res, err := s.nextRow()
		if err != nil {
			return nil, err
		}
		if res == nil {
			s.done = true
			break
		}
		if res.IsEmpty() {
			s.metrics.RowsFiltered.Inc()
			continue
		}
		s.rows++
		s.metrics.BytesOutput.Add(int64(res.Size()))
		return res, nil
	}
	return nil, nil
}

// nextRow reads the next row. It returns nil when there are no rows left and an empty result when the row is filtered.
func (s *regionScanner) nextRow() (*Result, error) {
	if s.region.IsClosed() {
		return nil, ErrNotServingRegion
	}
	ns := s.region.ns
	if !s.it.Valid() || bytes.Compare(s.it.Item().Key(), s.stop) >= 0 {
		return nil, nil
	}
	var first Cell
	if err := decodeCellKey(ns, s.it.Item().Key(), &first); err != nil {
		return nil, err
	}
	row := first.Row
	prefix := rowPrefix(ns, row)
	s.metrics.RowsVisited.Inc()
	res := &Result{Row: row}
	if s.filter != nil {
		s.filter.Reset()
		if s.filter.FilterRowKey(row) {
			s.it.Seek(prefixNext(prefix))
			return res, nil
		}
	}
	for s.it.Valid() {
		item := s.it.Item()
		key := item.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		var c Cell
		if err := decodeCellKey(ns, key, &c); err != nil {
			return nil, err
		}
		val, err := item.Value()
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.Value = engine_util.SafeCopy(nil, val)
		code := Include
		if s.filter != nil {
			if code, err = s.filter.FilterCell(&c); err != nil {
				return nil, err
			}
		}
		switch code {
		case Include:
			res.Cells = append(res.Cells, c)
			s.it.Next()
		case Skip:
			s.it.Next()
		case IncludeAndNextCol:
			res.Cells = append(res.Cells, c)
			s.it.Seek(prefixNext(columnPrefix(ns, c.Row, c.Family, c.Qualifier)))
		case NextCol:
			s.it.Seek(prefixNext(columnPrefix(ns, c.Row, c.Family, c.Qualifier)))
		case NextRow:
			s.it.Seek(prefixNext(prefix))
		default:
			return nil, errors.Errorf("unknown return code %d", code)
		}
	}
	if s.filter != nil && s.filter.FilterRow() {
		res.Cells = nil
	}
	return res, nil
}

func (s *regionScanner) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.it.Close()
}
