package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap-incubator/tinysi/kv/stats"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/si"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

func printTxn(w io.Writer, t *txn.Txn) {
	rec := t.Record()
	keepAlive := time.Unix(0, rec.KeepAlive*int64(time.Millisecond))
	fmt.Fprintf(w, "%d\tparent=%d\tstate=%s\teffective=%s\tbegin=%d\tcommit=%d\tglobal-commit=%d\tisolation=%s\tadditive=%t\tkeep-alive=%s\ttables=%s\n",
		rec.TxnID, rec.ParentTxnID, rec.State, t.EffectiveState(), rec.BeginTS, rec.CommitTS, rec.GlobalCommitTS,
		rec.Isolation, rec.Additive, keepAlive.Format(time.RFC3339), strings.Join(rec.DestinationTables, ","))
}

func newActiveTxnsCommand() *cobra.Command {
	var (
		after, before uint64
		table         string
	)
	cmd := &cobra.Command{
		Use:   "active-txns",
		Short: "List the active transactions with ids in [after, before]",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			txns, err := e.store.ActiveTransactions(context.Background(), after, before, table)
			if err != nil {
				return err
			}
			for _, t := range txns {
				printTxn(cmd.OutOrStdout(), t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d active transactions\n", len(txns))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "lowest transaction id")
	cmd.Flags().Uint64Var(&before, "before", 0, "highest transaction id, 0 is unbounded")
	cmd.Flags().StringVar(&table, "table", "", "only list transactions that wrote to this table")
	return cmd
}

func newTxnCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "txn <id>",
		Short: "Print a transaction and its ancestors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.Annotatef(err, "bad transaction id %q", args[0])
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			t, err := e.store.Load(context.Background(), id)
			if err != nil {
				return err
			}
			for v := txn.TxnView(t); v != nil; v = v.Parent() {
				if tx, ok := v.(*txn.Txn); ok {
					printTxn(cmd.OutOrStdout(), tx)
				}
			}
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	var (
		cols       []int
		start, end string
	)
	cmd := &cobra.Command{
		Use:   "stats <table>",
		Short: "Collect column statistics of the rows of a table committed now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cols) == 0 {
				return errors.New("no columns given")
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			ts, err := e.store.TSO().Next()
			if err != nil {
				return err
			}
			// a reader that is never written to the transaction table
			reader := txn.NewTxn(&txn.Record{TxnID: ts, BeginTS: ts, State: txn.StateActive,
				KeepAlive: time.Now().UnixNano() / int64(time.Millisecond)}, nil)
			layout := &si.TableLayout{}
			for _, c := range cols {
				layout.ColIDs = append(layout.ColIDs, int64(c))
			}
			table := args[0]
			var startKey, endKey []byte
			if start != "" {
				startKey = []byte(start)
			}
			if end != "" {
				endKey = []byte(end)
			}
			region := storage.NewRegion(e.engines.Kv, table, table+"-cli", startKey, endKey, storage.RegionOptions{})
			supplier := txn.NewCachedSupplier(e.store, e.conf.Txn.SupplierCacheSize)
			ps, err := stats.CollectPartition(context.Background(), region, reader, supplier, layout, &e.conf.Stats)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %d rows, %d bytes\n", ps.Table, ps.RowCount, ps.ByteCount)
			for _, c := range ps.Columns {
				fmt.Fprintf(w, "col %d\tnulls=%d\tdistinct=%d\tmin=%s\tmax=%s\tavg-width=%.1f",
					c.ColID, c.NullCount, c.Distinct, c.Min, c.Max, c.AvgWidth)
				if c.Quantiles != nil {
					fmt.Fprintf(w, "\tmean=%g\tquantiles=%v", c.Mean, c.Quantiles)
				}
				fmt.Fprintln(w)
				for _, f := range c.TopK {
					fmt.Fprintf(w, "\t%s\t%d\n", f.Value, f.Count)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&cols, "cols", nil, "packed column ids to collect")
	cmd.Flags().StringVar(&start, "start", "", "first row key")
	cmd.Flags().StringVar(&end, "end", "", "row key to stop at")
	return cmd
}
